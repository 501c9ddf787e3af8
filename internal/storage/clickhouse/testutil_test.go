package clickhouse_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	chstore "tradewatch/internal/storage/clickhouse"
	"tradewatch/internal/storage/migrations"
)

// testDatabase does not exist in the container; migrations create it.
const testDatabase = "tradewatch"

// setupTestDSN starts a ClickHouse container and returns the DSN of a
// database that has not been created yet. The container is terminated by
// t.Cleanup.
func setupTestDSN(t *testing.T) string {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "clickhouse/clickhouse-server:24.1-alpine",
		ExposedPorts: []string{"9000/tcp", "8123/tcp"},
		WaitingFor: wait.ForAll(
			wait.ForLog("Application: Ready for connections").
				WithStartupTimeout(60*time.Second),
			wait.ForListeningPort("9000/tcp"),
		),
		Env: map[string]string{
			"CLICKHOUSE_USER":     "default",
			"CLICKHOUSE_PASSWORD": "",
		},
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return fmt.Sprintf("clickhouse://%s:%s/%s", host, port.Port(), testDatabase)
}

// setupTestDB migrates a fresh database and returns a connection to it.
func setupTestDB(t *testing.T) *chstore.Conn {
	t.Helper()

	dsn := setupTestDSN(t)
	conn, err := migrations.RunClickhouseMigrations(context.Background(), dsn)
	require.NoError(t, err, "failed to migrate")
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}
