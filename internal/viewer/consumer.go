// Package viewer renders query results for people and programs.
package viewer

import (
	"tradewatch/internal/domain"
)

// Consumer receives query results. Implementations must not block for long;
// the refresh scheduler delivers from its worker goroutine.
type Consumer interface {
	OnQueryResult(result domain.QueryResult)
}

// Func adapts an ordinary function to Consumer.
type Func func(result domain.QueryResult)

// OnQueryResult calls f(result).
func (f Func) OnQueryResult(result domain.QueryResult) {
	f(result)
}

// Discard is a Consumer that drops every result.
var Discard Consumer = Func(func(domain.QueryResult) {})
