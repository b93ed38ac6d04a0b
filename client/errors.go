package client

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration is returned by Dial when the configuration is unusable
	ErrConfiguration = errors.New("invalid connection configuration")

	// ErrNotConnected is returned by reads while no session is established
	ErrNotConnected = errors.New("no active session")

	// ErrLivenessTimeout ends a session that delivered nothing for too long
	ErrLivenessTimeout = errors.New("no heads or logs within liveness timeout")

	// ErrSubscriptionClosed ends a session whose subscription closed without error
	ErrSubscriptionClosed = errors.New("subscription closed")
)

// ConnectionError reports a transport failure against the node
type ConnectionError struct {
	Endpoint string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection to %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IsConnectionError reports whether err is a transport failure
func IsConnectionError(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}
