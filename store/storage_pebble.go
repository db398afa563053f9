package store

import (
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"github.com/andreyvit/rawkv/kvpb"
)

// Pebble has a single keyspace. Bucket "name" stores its keys under
// len(name) || name || key; the marker key 0x00 || name records that the
// bucket exists. Bucket names are 1..255 bytes, so the two never collide.
const pebbleMetaPrefix = 0x00

var errBucketName = errors.New("store: bucket name must be 1..255 bytes")

type pebbleStorage struct {
	db  *pebble.DB
	wmu sync.Mutex // one write transaction at a time
}

// openPebbleStorage opens a pebble database in dir. An empty dir keeps
// everything in memory.
func openPebbleStorage(dir string) (*pebbleStorage, error) {
	cache := pebble.NewCache(64 * 1024 * 1024)
	defer cache.Unref()

	opts := &pebble.Options{
		Cache:                       cache,
		MemTableSize:                32 * 1024 * 1024,
		MemTableStopWritesThreshold: 4,
	}
	if dir == "" {
		opts.FS = vfs.NewMem()
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, err
	}
	return &pebbleStorage{db: db}, nil
}

func (s *pebbleStorage) BeginTx(writable bool) (storageTx, error) {
	if !writable {
		return &pebbleTx{r: s.db.NewSnapshot()}, nil
	}
	s.wmu.Lock()
	b := s.db.NewIndexedBatch()
	return &pebbleTx{r: b, batch: b, unlock: s.wmu.Unlock}, nil
}

func (s *pebbleStorage) Close() error {
	return s.db.Close()
}

// pebbleReader is what both *pebble.Snapshot and an indexed *pebble.Batch offer.
type pebbleReader interface {
	Get(key []byte) ([]byte, io.Closer, error)
	NewIter(o *pebble.IterOptions) (*pebble.Iterator, error)
	Close() error
}

type pebbleTx struct {
	r      pebbleReader
	batch  *pebble.Batch // nil for read transactions
	unlock func()
	done   bool
}

func (tx *pebbleTx) Writable() bool { return tx.batch != nil }

func (tx *pebbleTx) Bucket(name string) (storageBucket, error) {
	if tx.done {
		panic("tx is closed")
	}
	if len(name) == 0 || len(name) > 255 {
		return nil, nil
	}
	_, closer, err := tx.r.Get(pebbleMarkerKey(name))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "store: looking up bucket %q", name)
	}
	closer.Close()
	return &pebbleBucket{tx: tx, prefix: pebbleBucketPrefix(name)}, nil
}

func (tx *pebbleTx) CreateBucket(name string) (storageBucket, error) {
	if tx.done {
		panic("tx is closed")
	}
	if tx.batch == nil {
		return nil, errTxNotWritable
	}
	if len(name) == 0 || len(name) > 255 {
		return nil, errBucketName
	}
	if b, err := tx.Bucket(name); err != nil || b != nil {
		return b, err
	}
	if err := tx.batch.Set(pebbleMarkerKey(name), nil, nil); err != nil {
		return nil, err
	}
	return &pebbleBucket{tx: tx, prefix: pebbleBucketPrefix(name)}, nil
}

func (tx *pebbleTx) Commit() error {
	if tx.done {
		return nil
	}
	if tx.batch == nil {
		return errTxNotWritable
	}
	err := tx.batch.Commit(pebble.Sync)
	tx.finish()
	return err
}

func (tx *pebbleTx) Rollback() error {
	tx.finish()
	return nil
}

func (tx *pebbleTx) finish() {
	if tx.done {
		return
	}
	tx.done = true
	tx.r.Close()
	if tx.unlock != nil {
		tx.unlock()
	}
}

func pebbleMarkerKey(name string) []byte {
	k := make([]byte, 0, 1+len(name))
	k = append(k, pebbleMetaPrefix)
	return append(k, name...)
}

func pebbleBucketPrefix(name string) []byte {
	p := make([]byte, 0, 1+len(name))
	p = append(p, byte(len(name)))
	return append(p, name...)
}

type pebbleBucket struct {
	tx     *pebbleTx
	prefix []byte
}

func (b *pebbleBucket) key(k []byte) []byte {
	out := make([]byte, 0, len(b.prefix)+len(k))
	out = append(out, b.prefix...)
	return append(out, k...)
}

func (b *pebbleBucket) Get(key []byte) ([]byte, bool, error) {
	v, closer, err := b.tx.r.Get(b.key(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	} else if err != nil {
		return nil, false, err
	}
	defer closer.Close()
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (b *pebbleBucket) Put(key, value []byte) error {
	if b.tx.batch == nil {
		return errTxNotWritable
	}
	return b.tx.batch.Set(b.key(key), value, nil)
}

func (b *pebbleBucket) Delete(key []byte) error {
	if b.tx.batch == nil {
		return errTxNotWritable
	}
	return b.tx.batch.Delete(b.key(key), nil)
}

func (b *pebbleBucket) Cursor() storageCursor {
	upper, _ := kvpb.PrefixEnd(b.prefix)
	iter, err := b.tx.r.NewIter(&pebble.IterOptions{
		LowerBound: b.prefix,
		UpperBound: upper,
	})
	if err != nil {
		return &pebbleCursor{err: err}
	}
	return &pebbleCursor{iter: iter, prefix: b.prefix}
}

func (b *pebbleBucket) KeyCount() (int, error) {
	c := b.Cursor()
	defer c.Close()
	var n int
	for k, _ := c.First(); k != nil; k, _ = c.Next() {
		n++
	}
	return n, c.Close()
}

// pebbleCursor strips the bucket prefix from keys. Returned slices are only
// valid until the next cursor call.
type pebbleCursor struct {
	iter   *pebble.Iterator
	prefix []byte
	err    error
}

func (c *pebbleCursor) current(valid bool) ([]byte, []byte) {
	if !valid {
		return nil, nil
	}
	k := c.iter.Key()[len(c.prefix):]
	if len(k) == 0 {
		k = []byte{}
	}
	v := c.iter.Value()
	if v == nil {
		v = []byte{}
	}
	return k, v
}

func (c *pebbleCursor) First() ([]byte, []byte) {
	if c.iter == nil {
		return nil, nil
	}
	return c.current(c.iter.First())
}

func (c *pebbleCursor) Last() ([]byte, []byte) {
	if c.iter == nil {
		return nil, nil
	}
	return c.current(c.iter.Last())
}

func (c *pebbleCursor) Seek(seek []byte) ([]byte, []byte) {
	if c.iter == nil {
		return nil, nil
	}
	k := make([]byte, 0, len(c.prefix)+len(seek))
	k = append(append(k, c.prefix...), seek...)
	return c.current(c.iter.SeekGE(k))
}

func (c *pebbleCursor) SeekLast(upper []byte) ([]byte, []byte) {
	if c.iter == nil {
		return nil, nil
	}
	return seekLastVia(c, upper)
}

func (c *pebbleCursor) Next() ([]byte, []byte) {
	if c.iter == nil {
		return nil, nil
	}
	if !c.iter.Valid() {
		return nil, nil
	}
	return c.current(c.iter.Next())
}

func (c *pebbleCursor) Prev() ([]byte, []byte) {
	if c.iter == nil {
		return nil, nil
	}
	if !c.iter.Valid() {
		return nil, nil
	}
	return c.current(c.iter.Prev())
}

// Close is idempotent.
func (c *pebbleCursor) Close() error {
	if c.iter == nil {
		err := c.err
		c.err = nil
		return err
	}
	err := c.iter.Close()
	c.iter = nil
	return err
}
