package observer

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidOperation is returned for local mutations an observer does
	// not allow.
	ErrInvalidOperation = errors.New("rtp observer: invalid operation")
	// ErrClosed is returned by lifecycle methods called after Close or
	// RouterClosed. It matches ErrInvalidOperation.
	ErrClosed = fmt.Errorf("%w: rtp observer closed", ErrInvalidOperation)
	// ErrInvalidOptions wraps every option validation failure.
	ErrInvalidOptions = errors.New("rtp observer: invalid options")
)
