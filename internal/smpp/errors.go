package smpp

import "errors"

var (
	// ErrNotConnected is returned by Submit when the session is not bound.
	ErrNotConnected = errors.New("smpp: session not bound")

	// ErrConnectFailed covers transport establishment and bind failures.
	ErrConnectFailed = errors.New("smpp: connect failed")

	// ErrSubmitFailed is a transport-level send error. The affected message
	// is not retried.
	ErrSubmitFailed = errors.New("smpp: submit failed")
)
