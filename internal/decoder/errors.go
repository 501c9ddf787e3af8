package decoder

import (
	"errors"
	"fmt"
)

// Reason classifies why a payload was rejected.
type Reason string

const (
	// ReasonNoStructuredData means the payload carries no {...} object at all.
	ReasonNoStructuredData Reason = "no_structured_data"
	// ReasonMalformedData means an object was found but could not be decoded
	// into a valid trade.
	ReasonMalformedData Reason = "malformed_data"
	// ReasonWrongKind means the object is some other message kind of the feed.
	// Callers treat it as a silent skip.
	ReasonWrongKind Reason = "wrong_kind"
)

// Reasons lists every rejection reason.
var Reasons = []Reason{ReasonNoStructuredData, ReasonMalformedData, ReasonWrongKind}

// Sentinel errors matched by errors.Is against a *DecodeError.
var (
	ErrNoStructuredData = errors.New("no structured data in payload")
	ErrMalformedData    = errors.New("malformed trade data")
	ErrWrongKind        = errors.New("not a trade broadcast")
)

// DecodeError is returned for every rejected payload. It is never fatal.
type DecodeError struct {
	Reason Reason
	Detail string
	Err    error // underlying parse error, if any
}

func (e *DecodeError) Error() string {
	msg := e.sentinel().Error()
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying parse error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's reason.
func (e *DecodeError) Is(target error) bool {
	return target == e.sentinel()
}

func (e *DecodeError) sentinel() error {
	switch e.Reason {
	case ReasonNoStructuredData:
		return ErrNoStructuredData
	case ReasonWrongKind:
		return ErrWrongKind
	default:
		return ErrMalformedData
	}
}

// ReasonOf extracts the rejection reason from err.
// Returns false if err is not a *DecodeError.
func ReasonOf(err error) (Reason, bool) {
	var de *DecodeError
	if errors.As(err, &de) {
		return de.Reason, true
	}
	return "", false
}

func malformed(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: ReasonMalformedData, Detail: fmt.Sprintf(format, args...)}
}

func wrongKind(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: ReasonWrongKind, Detail: fmt.Sprintf(format, args...)}
}
