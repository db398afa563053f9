package kvpb

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned by Get when the key has no entry. No other
	// operation reports absence as an error.
	ErrNotFound = errors.New("rawkv: key not found")

	ErrUnknownColumnFamily = errors.New("rawkv: unknown column family")
	ErrInvalidRequest      = errors.New("rawkv: invalid request")
	ErrUnavailable         = errors.New("rawkv: endpoint unavailable")
	ErrClosed              = errors.New("rawkv: closed")
)

// BatchError reports that some parts of a batch request failed. Failed holds
// indices into the request's Keys, Pairs or Ranges; the other parts may or may
// not have been applied.
type BatchError struct {
	Op     Op
	Failed []int
	Err    error
}

func (e *BatchError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "rawkv: %v: %d part(s) failed", e.Op, len(e.Failed))
	if len(e.Failed) > 0 {
		buf.WriteString(" at ")
		for i, idx := range e.Failed {
			if i > 0 {
				buf.WriteByte(',')
			}
			fmt.Fprintf(&buf, "%d", idx)
		}
	}
	if e.Err != nil {
		buf.WriteString(": ")
		buf.WriteString(e.Err.Error())
	}
	return buf.String()
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// Code classifies an error for transmission over the wire.
type Code uint8

const (
	CodeOK Code = iota
	CodeNotFound
	CodeUnknownColumnFamily
	CodeInvalidRequest
	CodeStorage
	CodeUnavailable
	CodePartial
)

var codeNames = [...]string{
	CodeOK:                  "ok",
	CodeNotFound:            "not_found",
	CodeUnknownColumnFamily: "unknown_cf",
	CodeInvalidRequest:      "invalid_request",
	CodeStorage:             "storage",
	CodeUnavailable:         "unavailable",
	CodePartial:             "partial",
}

func (c Code) String() string {
	if int(c) < len(codeNames) {
		return codeNames[c]
	}
	return fmt.Sprintf("code(%d)", uint8(c))
}

// Status is the wire form of an error.
type Status struct {
	Code   Code   `msgpack:"c"`
	Msg    string `msgpack:"m,omitempty"`
	Failed []int  `msgpack:"fi,omitempty"`
}

// CodeOf classifies err.
func CodeOf(err error) Code {
	var be *BatchError
	switch {
	case err == nil:
		return CodeOK
	case errors.As(err, &be):
		return CodePartial
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnknownColumnFamily):
		return CodeUnknownColumnFamily
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	case errors.Is(err, ErrUnavailable), errors.Is(err, ErrClosed):
		return CodeUnavailable
	default:
		return CodeStorage
	}
}

// StatusOf converts err into its wire form. Returns nil for a nil error.
func StatusOf(err error) *Status {
	if err == nil {
		return nil
	}
	st := &Status{Code: CodeOf(err), Msg: err.Error()}
	var be *BatchError
	if errors.As(err, &be) {
		st.Failed = be.Failed
		if be.Err != nil {
			st.Msg = be.Err.Error()
		}
	}
	return st
}

// Err turns a wire status back into an error that matches the original one
// under errors.Is.
func (st *Status) Err(op Op) error {
	if st == nil || st.Code == CodeOK {
		return nil
	}
	switch st.Code {
	case CodeNotFound:
		return ErrNotFound
	case CodeUnknownColumnFamily:
		return &remoteError{st.Msg, ErrUnknownColumnFamily}
	case CodeInvalidRequest:
		return &remoteError{st.Msg, ErrInvalidRequest}
	case CodeUnavailable:
		return &remoteError{st.Msg, ErrUnavailable}
	case CodePartial:
		return &BatchError{Op: op, Failed: st.Failed, Err: errors.Newf("remote: %s", st.Msg)}
	default:
		return errors.Newf("rawkv: remote %v: %s", op, st.Msg)
	}
}

// remoteError is an error message received over the wire. It matches the
// sentinel its code maps to, under both errors.Is implementations.
type remoteError struct {
	msg      string
	sentinel error
}

func (e *remoteError) Error() string { return e.msg }

func (e *remoteError) Is(target error) bool { return target == e.sentinel }
