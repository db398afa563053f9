// Package store executes raw requests against a local sorted key-value
// backend. Each column family lives in its own bucket.
//
// Three engines are available: "mem" (in-process, lost on Close), "bolt" (a
// single bbolt file) and "pebble" (a pebble directory, or an in-memory
// filesystem when Path is empty).
package store

import (
	"context"
	"fmt"
	"runtime/debug"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	"github.com/andreyvit/rawkv/kvpb"
	"github.com/andreyvit/rawkv/log"
)

const (
	EngineMem    = "mem"
	EngineBolt   = "bolt"
	EnginePebble = "pebble"
)

const boltOpenTimeout = 10 * time.Second

var ErrUnknownEngine = errors.New("store: unknown engine")

type Options struct {
	Engine string
	Path   string

	// ColumnFamilies are created on open if missing. Defaults to
	// kvpb.DefaultColumnFamilies.
	ColumnFamilies []kvpb.ColumnFamily

	// IsTesting trades durability for speed.
	IsTesting bool

	Logger zerolog.Logger
}

// Store is a kvpb.Dispatcher backed by local storage. It is safe for
// concurrent use: readers run on snapshots, writers are serialized.
type Store struct {
	st     storage
	engine string
	cfs    []kvpb.ColumnFamily
	logger zerolog.Logger
	closed atomic.Bool

	// Requests dispatched so far, including failed ones. Exported by
	// rawkv-server as rawkv_store_requests_total.
	ReadCount  atomic.Uint64
	WriteCount atomic.Uint64
}

var _ kvpb.Dispatcher = (*Store)(nil)

func Open(opt Options) (*Store, error) {
	var st storage
	var err error
	switch opt.Engine {
	case EngineMem, "":
		st = newMemStorage()
	case EngineBolt:
		if opt.Path == "" {
			return nil, errors.New("store: bolt engine needs a path")
		}
		st, err = openBoltStorage(opt.Path, opt.IsTesting)
	case EnginePebble:
		st, err = openPebbleStorage(opt.Path)
	default:
		return nil, errors.Wrapf(ErrUnknownEngine, "%q", opt.Engine)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "store: opening %s at %q", opt.Engine, opt.Path)
	}

	cfs := opt.ColumnFamilies
	if len(cfs) == 0 {
		cfs = kvpb.DefaultColumnFamilies
	}
	s := &Store{
		st:     st,
		engine: opt.Engine,
		cfs:    slices.Clone(cfs),
		logger: log.Component(opt.Logger, "store"),
	}
	if s.engine == "" {
		s.engine = EngineMem
	}

	err = s.update(func(tx storageTx) error {
		for _, cf := range s.cfs {
			if _, err := tx.CreateBucket(string(cf.OrDefault())); err != nil {
				return errors.Wrapf(err, "store: creating column family %q", cf)
			}
		}
		return nil
	})
	if err != nil {
		st.Close()
		return nil, err
	}
	s.logger.Debug().Str("engine", s.engine).Str("path", opt.Path).Strs("cfs", cfNames(s.cfs)).Msg("opened")
	return s, nil
}

func (s *Store) Engine() string { return s.engine }

// ColumnFamilies lists the column families created at open time.
func (s *Store) ColumnFamilies() []kvpb.ColumnFamily { return slices.Clone(s.cfs) }

func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	s.logger.Debug().Msg("closing")
	return s.st.Close()
}

// Stats returns the number of keys stored in cf.
func (s *Store) Stats(cf kvpb.ColumnFamily) (int, error) {
	if s.closed.Load() {
		return 0, kvpb.ErrClosed
	}
	var n int
	err := s.view(func(tx storageTx) error {
		b, err := bucket(tx, cf)
		if err != nil {
			return err
		}
		n, err = b.KeyCount()
		return err
	})
	return n, err
}

func (s *Store) Dispatch(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.closed.Load() {
		return nil, kvpb.ErrClosed
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	resp := &kvpb.Response{}
	var err error
	if req.Op.IsWrite() {
		s.WriteCount.Add(1)
		err = s.update(func(tx storageTx) error { return execWrite(tx, req) })
	} else {
		s.ReadCount.Add(1)
		err = s.view(func(tx storageTx) error { return s.execRead(tx, req, resp) })
	}

	ev := s.logger.Debug()
	if err != nil {
		ev = s.logger.Warn().Err(err)
	}
	ev.Stringer("op", req.Op).Stringer("cf", req.CF).Hex("key", req.Key).Int("keys", len(req.Keys)+len(req.Pairs)).Int("ranges", len(req.Ranges)).Dur("took", time.Since(start)).Msg("dispatch")
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (s *Store) view(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(false)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	return safelyCall(f, tx)
}

func (s *Store) update(f func(tx storageTx) error) error {
	tx, err := s.st.BeginTx(true)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := safelyCall(f, tx); err != nil {
		return err
	}
	return tx.Commit()
}

func bucket(tx storageTx, cf kvpb.ColumnFamily) (storageBucket, error) {
	b, err := tx.Bucket(string(cf.OrDefault()))
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, errors.Wrapf(kvpb.ErrUnknownColumnFamily, "%q", cf.OrDefault())
	}
	return b, nil
}

func (s *Store) execRead(tx storageTx, req *kvpb.Request, resp *kvpb.Response) error {
	b, err := bucket(tx, req.CF)
	if err != nil {
		return err
	}
	switch req.Op {
	case kvpb.OpGet:
		v, found, err := b.Get(req.Key)
		if err != nil {
			return err
		}
		if found {
			resp.Value = slices.Clone(v)
			if resp.Value == nil {
				resp.Value = []byte{}
			}
		}
		resp.Found = found

	case kvpb.OpBatchGet:
		seen := make(map[string]bool, len(req.Keys))
		for _, k := range req.Keys {
			if seen[string(k)] {
				continue
			}
			seen[string(k)] = true
			v, found, err := b.Get(k)
			if err != nil {
				return err
			}
			if found {
				resp.Pairs = append(resp.Pairs, pairOf(k, v, false))
			}
		}

	case kvpb.OpScan:
		resp.Pairs, err = s.scan(b, req.Range(), req)

	case kvpb.OpBatchScan:
		resp.Groups = make([][]kvpb.KvPair, len(req.Ranges))
		for i, rang := range req.Ranges {
			resp.Groups[i], err = s.scan(b, rang, req)
			if err != nil {
				return err
			}
		}

	default:
		panic(fmt.Errorf("store: %v is not a read", req.Op))
	}
	return err
}

func (s *Store) scan(b storageBucket, rang kvpb.KeyRange, req *kvpb.Request) ([]kvpb.KvPair, error) {
	bcur := b.Cursor()
	defer bcur.Close()

	var pairs []kvpb.KvPair
	c := newRangeCursor(bcur, rang, req.Reverse, req.Limit, s.logger)
	for c.Next() {
		pairs = append(pairs, pairOf(c.Key(), c.Value(), req.KeyOnly))
	}
	return pairs, bcur.Close()
}

func execWrite(tx storageTx, req *kvpb.Request) error {
	b, err := bucket(tx, req.CF)
	if err != nil {
		return err
	}
	switch req.Op {
	case kvpb.OpPut:
		return b.Put(req.Key, req.Value)

	case kvpb.OpBatchPut:
		for _, p := range req.Pairs {
			if err := b.Put(p.Key, p.Value); err != nil {
				return err
			}
		}

	case kvpb.OpDelete:
		return b.Delete(req.Key)

	case kvpb.OpBatchDelete:
		for _, k := range req.Keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

	case kvpb.OpDeleteRange:
		// Collect first: deleting under a live cursor skips entries in bbolt.
		var keys [][]byte
		bcur := b.Cursor()
		c := newRangeCursor(bcur, req.Range(), false, kvpb.NoLimit, zerolog.Nop())
		for c.Next() {
			keys = append(keys, slices.Clone(c.Key()))
		}
		if err := bcur.Close(); err != nil {
			return err
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

	default:
		panic(fmt.Errorf("store: %v is not a write", req.Op))
	}
	return nil
}

func pairOf(k, v []byte, keyOnly bool) kvpb.KvPair {
	p := kvpb.KvPair{Key: kvpb.KeyFrom(k)}
	if p.Key == nil {
		p.Key = kvpb.Key{}
	}
	if !keyOnly {
		p.Value = kvpb.ValueFrom(v)
		if p.Value == nil {
			p.Value = kvpb.Value{}
		}
	}
	return p
}

func cfNames(cfs []kvpb.ColumnFamily) []string {
	names := make([]string, len(cfs))
	for i, cf := range cfs {
		names[i] = string(cf.OrDefault())
	}
	return names
}

type panicked struct {
	reason any
	stack  string
}

func (p panicked) Error() string {
	return fmt.Sprintf("store: panic: %v\n\n%s", p.reason, p.stack)
}

func safelyCall(fn func(storageTx) error, tx storageTx) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = panicked{p, string(debug.Stack())}
		}
	}()
	return fn(tx)
}
