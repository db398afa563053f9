package rawkv

import (
	"fmt"

	"github.com/cockroachdb/errors"

	"github.com/andreyvit/rawkv/kvpb"
)

var (
	ErrNotFound            = kvpb.ErrNotFound
	ErrUnknownColumnFamily = kvpb.ErrUnknownColumnFamily
	ErrInvalidRequest      = kvpb.ErrInvalidRequest
	ErrUnavailable         = kvpb.ErrUnavailable
	ErrClosed              = kvpb.ErrClosed

	// ErrAlreadyDispatched is returned by Exec on a builder that has
	// already been executed.
	ErrAlreadyDispatched = errors.New("rawkv: request already dispatched")

	ErrNoEndpoints   = errors.New("rawkv: no endpoints configured")
	ErrUnknownScheme = errors.New("rawkv: unknown endpoint scheme")
)

// ConnectError is returned by Connect when an endpoint cannot be opened.
// Endpoint is empty when the configuration itself is unusable.
type ConnectError struct {
	Endpoint string
	Err      error
}

func (e *ConnectError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("rawkv: connect: %v", e.Err)
	}
	return fmt.Sprintf("rawkv: connect %s: %v", e.Endpoint, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
