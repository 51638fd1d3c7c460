package netplay

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is against an *Error.
var (
	ErrIdentityClaim      = errors.New("netplay: identifier already claimed")
	ErrPeerUnreachable    = errors.New("netplay: peer unreachable")
	ErrMigrationFailed    = errors.New("netplay: host migration failed")
	ErrConnectionRejected = errors.New("netplay: connection rejected")
	ErrTransport          = errors.New("netplay: transport failure")
)

var (
	ErrClosed       = errors.New("netplay: hub closed")
	ErrNotConnected = errors.New("netplay: not connected")
	ErrBusy         = errors.New("netplay: hub already hosting or joined")
)

// Error is a classified netplay failure.
type Error struct {
	Kind error
	Peer string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Peer != "" && e.Err != nil:
		return fmt.Sprintf("%v (%s): %v", e.Kind, e.Peer, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	case e.Peer != "":
		return fmt.Sprintf("%v (%s)", e.Kind, e.Peer)
	default:
		return fmt.Sprint(e.Kind)
	}
}

func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind error, peer string, err error) *Error {
	return &Error{Kind: kind, Peer: peer, Err: err}
}
