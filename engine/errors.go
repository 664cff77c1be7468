package engine

import (
	"errors"
	"fmt"

	"github.com/uisync/uisync/core/protocol"
)

// ClientError is a protocol violation by the client: a condition that should
// never occur even allowing for dropped connections and lost responses.
// Always recoverable; reported to the client without touching the session.
type ClientError struct {
	Message string
}

func (e *ClientError) Error() string {
	return "client error - " + e.Message
}

// SyncError indicates the client and server disagree about the active module
// instance. The offending request is attached so the client can decide
// whether to replay it or trigger a full resync or reset.
type SyncError struct {
	Message string
	Request *protocol.Request
}

func (e *SyncError) Error() string {
	return "sync error - " + e.Message
}

// UserCodeError wraps a failure raised inside page logic with the name of
// the offending method, so the failure is attributable without leaking a
// stack to the client. The underlying error is reachable via errors.As and
// errors.Is.
type UserCodeError struct {
	Method string
	Err    error
}

func (e *UserCodeError) Error() string {
	return fmt.Sprintf("user code error in method %s: %v", e.Method, e.Err)
}

func (e *UserCodeError) Unwrap() error {
	return e.Err
}

// errorName returns the taxonomy name reported in a response error payload.
func errorName(err error) string {
	var (
		clientErr   *ClientError
		syncErr     *SyncError
		userCodeErr *UserCodeError
	)
	switch {
	case errors.As(err, &clientErr):
		return "ClientError"
	case errors.As(err, &syncErr):
		return "SyncError"
	case errors.As(err, &userCodeErr):
		return "UserCodeError"
	default:
		return "InternalError"
	}
}
