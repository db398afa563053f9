// Package kvpb defines the values exchanged between the rawkv client and the
// dispatchers that execute its requests: keys, values, bound pairs, the request
// and response envelopes, and the error codes that survive a network hop.
package kvpb

import (
	"bytes"
	"encoding/hex"
	"math"
	"slices"
)

// NoLimit is the scan limit used when the caller does not want one.
const NoLimit uint32 = math.MaxUint32

// DefaultColumnFamily is the partition targeted by requests that don't name one.
const DefaultColumnFamily ColumnFamily = "default"

// Well-known column families of a TiKV-style cluster. Local stores create these
// unless configured otherwise.
const (
	WriteColumnFamily ColumnFamily = "write"
	LockColumnFamily  ColumnFamily = "lock"
)

// DefaultColumnFamilies lists the partitions a local store creates by default.
var DefaultColumnFamilies = []ColumnFamily{DefaultColumnFamily, WriteColumnFamily, LockColumnFamily}

// Key is an owned key. It is never modified after construction.
type Key []byte

// Value is an owned value. It is never modified after construction.
type Value []byte

// KeyFrom copies b into a new Key.
func KeyFrom(b []byte) Key {
	if b == nil {
		return nil
	}
	return Key(slices.Clone(b))
}

// ValueFrom copies b into a new Value.
func ValueFrom(b []byte) Value {
	if b == nil {
		return nil
	}
	return Value(slices.Clone(b))
}

func (k Key) String() string { return hexstr(k) }

func (k Key) Compare(other Key) int { return bytes.Compare(k, other) }

func (v Value) String() string { return hexstr(v) }

// KvPair is a key together with its value. In key-only scan results Value is nil.
type KvPair struct {
	Key   Key   `msgpack:"k"`
	Value Value `msgpack:"v"`
}

// NewKvPair copies k and v into a new pair.
func NewKvPair(k, v []byte) KvPair {
	return KvPair{Key: KeyFrom(k), Value: ValueFrom(v)}
}

func (p KvPair) String() string {
	return hexstr(p.Key) + "=" + hexstr(p.Value)
}

// ColumnFamily names a logical partition of the key space. Any string is
// accepted; an unknown name is reported by the dispatcher, not at construction.
type ColumnFamily string

// OrDefault returns cf, or DefaultColumnFamily when cf is empty.
func (cf ColumnFamily) OrDefault() ColumnFamily {
	if cf == "" {
		return DefaultColumnFamily
	}
	return cf
}

func (cf ColumnFamily) String() string { return string(cf.OrDefault()) }

func hexstr(b []byte) string {
	if b == nil {
		return "<nil>"
	}
	if len(b) == 0 {
		return "<empty>"
	}
	return hex.EncodeToString(b)
}
