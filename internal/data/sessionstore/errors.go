package sessionstore

import (
	"errors"
	"fmt"
)

var errNoTier = errors.New("tier not configured")

// StoreError is returned when neither tier could serve an operation.
type StoreError struct {
	Op        string
	SessionID string
	Fast      error
	Durable   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("session store %s %s: fast=%v durable=%v", e.Op, e.SessionID, e.Fast, e.Durable)
}

func (e *StoreError) Unwrap() []error {
	var out []error
	if e.Fast != nil {
		out = append(out, e.Fast)
	}
	if e.Durable != nil {
		out = append(out, e.Durable)
	}
	return out
}
