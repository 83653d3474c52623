package datagram

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// ArgumentError is returned for missing or malformed relay arguments
type ArgumentError struct {
	Arg    string
	Reason string
}

func (e *ArgumentError) Error() string {
	if e.Arg == "" {
		return fmt.Sprintf("invalid arguments: %s", e.Reason)
	}
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Reason)
}

// SocketCreateError is returned when transport socket can't be created
type SocketCreateError struct {
	Addr string
	Err  error
}

func (e *SocketCreateError) Error() string {
	return fmt.Sprintf("create socket for %s failed: %s", e.Addr, e.Err.Error())
}

func (e *SocketCreateError) Unwrap() error {
	return e.Err
}

// BindError is returned when listen port is unavailable
type BindError struct {
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind %s failed: %s", e.Addr, e.Err.Error())
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// SendError is a non-fatal failure of one forwarding attempt to one destination
type SendError struct {
	Destination string
	Size        int
	Err         error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send %d bytes to %s failed: %s", e.Size, e.Destination, e.Err.Error())
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// ListenError classifies listen failure. Busy port and missing privileges are
// bind errors, everything else means socket could not be created
func ListenError(addr string, err error) error {
	if errors.Is(err, unix.EADDRINUSE) ||
		errors.Is(err, unix.EACCES) ||
		errors.Is(err, unix.EADDRNOTAVAIL) ||
		errors.Is(err, unix.EPERM) {
		return &BindError{Addr: addr, Err: err}
	}
	return &SocketCreateError{Addr: addr, Err: err}
}
