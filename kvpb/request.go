package kvpb

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
)

// Op identifies the kind of a raw request.
type Op uint8

const (
	OpInvalid Op = iota
	OpGet
	OpBatchGet
	OpPut
	OpBatchPut
	OpDelete
	OpBatchDelete
	OpScan
	OpBatchScan
	OpDeleteRange
)

var opNames = [...]string{
	OpInvalid:     "Invalid",
	OpGet:         "Get",
	OpBatchGet:    "BatchGet",
	OpPut:         "Put",
	OpBatchPut:    "BatchPut",
	OpDelete:      "Delete",
	OpBatchDelete: "BatchDelete",
	OpScan:        "Scan",
	OpBatchScan:   "BatchScan",
	OpDeleteRange: "DeleteRange",
}

func (op Op) String() string {
	if int(op) < len(opNames) {
		return opNames[op]
	}
	return fmt.Sprintf("Op(%d)", uint8(op))
}

// IsWrite reports whether op mutates the store.
func (op Op) IsWrite() bool {
	switch op {
	case OpPut, OpBatchPut, OpDelete, OpBatchDelete, OpDeleteRange:
		return true
	default:
		return false
	}
}

// Request is a fully configured raw operation. Only the fields relevant to Op
// are set:
//
//	Get, Delete:           Key
//	Put:                   Key, Value
//	BatchGet, BatchDelete: Keys
//	BatchPut:              Pairs
//	Scan, DeleteRange:     Ranges[0]
//	BatchScan:             Ranges
//
// Scan and BatchScan additionally use Limit (per range), KeyOnly and Reverse.
type Request struct {
	Op      Op           `msgpack:"op"`
	CF      ColumnFamily `msgpack:"cf,omitempty"`
	Key     []byte       `msgpack:"k,omitempty"`
	Value   []byte       `msgpack:"v"`
	Keys    [][]byte     `msgpack:"ks,omitempty"`
	Pairs   []KvPair     `msgpack:"ps,omitempty"`
	Ranges  []KeyRange   `msgpack:"rs,omitempty"`
	Limit   uint32       `msgpack:"l"`
	KeyOnly bool         `msgpack:"ko,omitempty"`
	Reverse bool         `msgpack:"rev,omitempty"`
}

// Range returns the single range of a Scan or DeleteRange request.
func (r *Request) Range() KeyRange {
	if len(r.Ranges) == 0 {
		return FullRange()
	}
	return r.Ranges[0]
}

// Validate checks that the request carries what its op needs.
func (r *Request) Validate() error {
	switch r.Op {
	case OpGet, OpPut, OpDelete:
		if len(r.Key) == 0 {
			return invalidf(r.Op, "empty key")
		}
	case OpBatchGet, OpBatchDelete:
		for i, k := range r.Keys {
			if len(k) == 0 {
				return invalidf(r.Op, "empty key at index %d", i)
			}
		}
	case OpBatchPut:
		for i, p := range r.Pairs {
			if len(p.Key) == 0 {
				return invalidf(r.Op, "empty key at index %d", i)
			}
		}
	case OpScan, OpDeleteRange:
		if len(r.Ranges) != 1 {
			return invalidf(r.Op, "want exactly one range, got %d", len(r.Ranges))
		}
	case OpBatchScan:
	default:
		return invalidf(r.Op, "unknown op")
	}
	for _, rang := range r.Ranges {
		if rang.Start.Kind > BoundExcluded || rang.End.Kind > BoundExcluded {
			return invalidf(r.Op, "bad bound kind in %v", rang)
		}
	}
	return nil
}

func invalidf(op Op, format string, args ...any) error {
	return errors.Wrapf(ErrInvalidRequest, "%v: %s", op, fmt.Sprintf(format, args...))
}

// Response carries the result of a Request. Only the fields relevant to the
// request's op are set:
//
//	Get:                 Value, Found
//	BatchGet, Scan:      Pairs
//	BatchScan:           Groups, one per request range, in request order
//
// Writes return an empty response.
type Response struct {
	Value  []byte     `msgpack:"v,omitempty"`
	Found  bool       `msgpack:"f,omitempty"`
	Pairs  []KvPair   `msgpack:"ps,omitempty"`
	Groups [][]KvPair `msgpack:"gs,omitempty"`
}

// Dispatcher executes exactly one logical request per Dispatch call. A
// Dispatcher must be safe for concurrent use.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *Request) (*Response, error)
	Close() error
}
