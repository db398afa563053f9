package store

import (
	"bytes"
	"slices"
	"sort"
	"sync"
)

// memStorage keeps every bucket as a sorted slice. Committed buckets are never
// mutated in place: a write transaction clones a bucket the first time it
// touches it and publishes the clones on commit, so read transactions can
// share the committed map without copying.
type memStorage struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buckets map[string]*memBucket
	closed  bool
	writer  bool
}

func newMemStorage() *memStorage {
	s := &memStorage{buckets: make(map[string]*memBucket)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func (s *memStorage) BeginTx(writable bool) (storageTx, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, errStorageClosed
	}
	if writable {
		for s.writer && !s.closed {
			s.cond.Wait()
		}
		if s.closed {
			return nil, errStorageClosed
		}
		s.writer = true
	}

	tx := &memTx{
		base:     s,
		writable: writable,
		buckets:  s.buckets,
	}
	if writable {
		tx.buckets = make(map[string]*memBucket, len(s.buckets))
		for k, b := range s.buckets {
			tx.buckets[k] = b
		}
		tx.owned = make(map[string]bool)
	}
	return tx, nil
}

func (s *memStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.buckets = nil
	s.cond.Broadcast()
	return nil
}

type memTx struct {
	base     *memStorage
	writable bool
	buckets  map[string]*memBucket
	owned    map[string]bool // buckets already cloned by this tx
	closed   bool
}

func (tx *memTx) Writable() bool { return tx.writable }

func (tx *memTx) closeLocked() {
	if tx.closed {
		return
	}
	tx.closed = true
	if tx.writable {
		tx.base.writer = false
		tx.base.cond.Broadcast()
	}
}

func (tx *memTx) Bucket(name string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	b := tx.buckets[name]
	if b == nil {
		return nil, nil
	}
	if tx.writable && !tx.owned[name] {
		b = b.clone()
		tx.buckets[name] = b
		tx.owned[name] = true
	}
	return memBucketHandle{tx: tx, b: b}, nil
}

func (tx *memTx) CreateBucket(name string) (storageBucket, error) {
	if tx.closed {
		panic("tx is closed")
	}
	if !tx.writable {
		return nil, errTxNotWritable
	}
	if tx.buckets[name] == nil {
		tx.buckets[name] = &memBucket{}
		tx.owned[name] = true
	}
	return tx.Bucket(name)
}

func (tx *memTx) Commit() error {
	if tx.closed {
		return nil
	}
	if !tx.writable {
		return errTxNotWritable
	}
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	if tx.base.closed {
		tx.closeLocked()
		return errStorageClosed
	}
	tx.base.buckets = tx.buckets
	tx.closeLocked()
	return nil
}

func (tx *memTx) Rollback() error {
	tx.base.mu.Lock()
	defer tx.base.mu.Unlock()
	tx.closeLocked()
	return nil
}

type memBucket struct {
	items []memKV // sorted by key
}

func (b *memBucket) clone() *memBucket {
	return &memBucket{items: slices.Clone(b.items)}
}

// find returns the position of key, or the position it would be inserted at.
func (b *memBucket) find(key []byte) (idx int, ok bool) {
	items := b.items
	i := sort.Search(len(items), func(i int) bool {
		return bytes.Compare(items[i].key, key) >= 0
	})
	return i, i < len(items) && bytes.Equal(items[i].key, key)
}

type memKV struct {
	key   []byte
	value []byte
}

type memBucketHandle struct {
	tx *memTx
	b  *memBucket
}

func (h memBucketHandle) Get(key []byte) ([]byte, bool, error) {
	i, ok := h.b.find(key)
	if !ok {
		return nil, false, nil
	}
	return h.b.items[i].value, true, nil
}

func (h memBucketHandle) Put(key, value []byte) error {
	if !h.tx.writable {
		return errTxNotWritable
	}
	kv := memKV{key: slices.Clone(key), value: bytes.Clone(value)}
	if kv.value == nil {
		kv.value = []byte{}
	}

	i, ok := h.b.find(key)
	if ok {
		h.b.items[i] = kv
		return nil
	}
	h.b.items = slices.Insert(h.b.items, i, kv)
	return nil
}

func (h memBucketHandle) Delete(key []byte) error {
	if !h.tx.writable {
		return errTxNotWritable
	}
	i, ok := h.b.find(key)
	if ok {
		h.b.items = slices.Delete(h.b.items, i, i+1)
	}
	return nil
}

func (h memBucketHandle) Cursor() storageCursor {
	return &memCursor{items: h.b.items, pos: -1}
}

func (h memBucketHandle) KeyCount() (int, error) { return len(h.b.items), nil }

// memCursor walks the items slice captured when it was created. It must not
// be used after a write to the same bucket.
type memCursor struct {
	items []memKV
	pos   int
}

func (c *memCursor) at(i int) ([]byte, []byte) {
	c.pos = i
	if i < 0 || i >= len(c.items) {
		return nil, nil
	}
	return c.items[i].key, c.items[i].value
}

func (c *memCursor) First() ([]byte, []byte) { return c.at(0) }

func (c *memCursor) Last() ([]byte, []byte) { return c.at(len(c.items) - 1) }

func (c *memCursor) Seek(seek []byte) ([]byte, []byte) {
	return c.at(sort.Search(len(c.items), func(i int) bool {
		return bytes.Compare(c.items[i].key, seek) >= 0
	}))
}

func (c *memCursor) SeekLast(upper []byte) ([]byte, []byte) {
	i := sort.Search(len(c.items), func(i int) bool {
		return bytes.Compare(c.items[i].key, upper) > 0
	})
	return c.at(i - 1)
}

func (c *memCursor) Next() ([]byte, []byte) {
	if c.pos >= len(c.items) {
		return nil, nil
	}
	return c.at(c.pos + 1)
}

func (c *memCursor) Prev() ([]byte, []byte) {
	if c.pos < 0 {
		return nil, nil
	}
	return c.at(c.pos - 1)
}

func (c *memCursor) Close() error { return nil }
