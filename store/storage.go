package store

import (
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/andreyvit/rawkv/kvpb"
)

var (
	errTxNotWritable = errors.New("store: transaction not writable")
	errStorageClosed = errors.Wrap(kvpb.ErrClosed, "store")
)

// storage is a sorted key-value backend (bbolt, pebble, in-memory). Every
// column family maps to one bucket.
type storage interface {
	// BeginTx starts a new transaction. Read transactions see a consistent
	// snapshot; at most one write transaction is open at a time.
	BeginTx(writable bool) (storageTx, error)
	Close() error
}

type storageTx interface {
	Writable() bool

	// Bucket returns a nil bucket and no error if the bucket doesn't exist.
	Bucket(name string) (storageBucket, error)

	// CreateBucket creates a bucket if it doesn't exist.
	CreateBucket(name string) (storageBucket, error)

	Commit() error

	// Rollback aborts the transaction. Safe to call after Commit.
	Rollback() error
}

type storageBucket interface {
	// Get returns the value stored under key. A missing key is found=false
	// with a nil error. The returned slice is only valid until the
	// transaction ends.
	Get(key []byte) (value []byte, found bool, err error)

	Put(key, value []byte) error

	// Delete removes key; a missing key is not an error.
	Delete(key []byte) error

	Cursor() storageCursor

	KeyCount() (int, error)
}

// storageCursor iterates over a bucket in key order. All methods return a nil
// key once the cursor runs off either end.
type storageCursor interface {
	First() (key, value []byte)
	Last() (key, value []byte)

	// Seek moves to the first key >= seek.
	Seek(seek []byte) (key, value []byte)

	// SeekLast moves to the last key <= upper.
	SeekLast(upper []byte) (key, value []byte)

	Next() (key, value []byte)
	Prev() (key, value []byte)

	Close() error
}

// seekLastVia implements SeekLast on top of a cursor that only knows how to
// seek forward.
func seekLastVia(c storageCursor, upper []byte) ([]byte, []byte) {
	k, v := c.Seek(upper)
	switch {
	case k == nil:
		return c.Last()
	case string(k) == string(upper):
		return k, v
	default:
		return c.Prev()
	}
}

func unsafeBytesFromString(s string) []byte {
	return unsafe.Slice(unsafe.StringData(s), len(s))
}
