// Package cluster spreads raw requests over several shard dispatchers.
//
// Point operations go to the shard owning the key (xxhash of the key modulo
// the shard count). Batches are split per shard and sent concurrently. Scans
// ask every shard and merge the answers in key order, so a scan over a
// cluster returns exactly what a scan over a single store holding the union of
// the shards would return.
package cluster

import (
	"bytes"
	"context"
	"slices"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/rawkv/kvpb"
	"github.com/andreyvit/rawkv/log"
)

type Options struct {
	Logger zerolog.Logger
}

// Router is a kvpb.Dispatcher over a fixed list of shards. The shard list
// must be the same on every client writing to the same shards.
type Router struct {
	shards []kvpb.Dispatcher
	logger zerolog.Logger
}

var _ kvpb.Dispatcher = (*Router)(nil)

func NewRouter(shards []kvpb.Dispatcher, opt Options) *Router {
	if len(shards) == 0 {
		panic("cluster: no shards")
	}
	return &Router{
		shards: slices.Clone(shards),
		logger: log.Component(opt.Logger, "cluster"),
	}
}

func (r *Router) Shards() int { return len(r.shards) }

// ShardFor returns the index of the shard owning key.
func (r *Router) ShardFor(key []byte) int {
	return int(xxhash.Sum64(key) % uint64(len(r.shards)))
}

func (r *Router) Close() error {
	var err error
	for _, d := range r.shards {
		err = errors.CombineErrors(err, d.Close())
	}
	return err
}

func (r *Router) Dispatch(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	switch req.Op {
	case kvpb.OpGet, kvpb.OpPut, kvpb.OpDelete:
		return r.shards[r.ShardFor(req.Key)].Dispatch(ctx, req)
	case kvpb.OpBatchGet:
		return r.batchGet(ctx, req)
	case kvpb.OpBatchPut, kvpb.OpBatchDelete:
		return r.batchWrite(ctx, req)
	case kvpb.OpScan, kvpb.OpBatchScan:
		return r.scan(ctx, req)
	case kvpb.OpDeleteRange:
		return r.deleteRange(ctx, req)
	default:
		panic("unreachable")
	}
}

// part is the slice of a batch request destined for one shard.
type part struct {
	shard int
	req   *kvpb.Request
	resp  *kvpb.Response
	err   error
}

// split groups per-item work by shard, in order of first appearance.
func (r *Router) split(req *kvpb.Request, n int, keyAt func(i int) []byte, add func(p *part, i int)) []*part {
	byShard := make(map[int]*part)
	var parts []*part
	for i := 0; i < n; i++ {
		s := r.ShardFor(keyAt(i))
		p := byShard[s]
		if p == nil {
			p = &part{shard: s, req: &kvpb.Request{Op: req.Op, CF: req.CF}}
			byShard[s] = p
			parts = append(parts, p)
		}
		add(p, i)
	}
	return parts
}

// run sends every part to its shard concurrently and waits for all of them.
// Errors stay with their part.
func (r *Router) run(ctx context.Context, parts []*part) {
	var g errgroup.Group
	for _, p := range parts {
		g.Go(func() error {
			p.resp, p.err = r.shards[p.shard].Dispatch(ctx, p.req)
			return nil
		})
	}
	g.Wait()
}

// failure reports the parts that failed as a BatchError listing every input
// index owned by a failed shard.
func (r *Router) failure(ctx context.Context, op kvpb.Op, parts []*part, n int, keyAt func(i int) []byte) error {
	failedShards := make(map[int]bool)
	var err error
	for _, p := range parts {
		if p.err != nil {
			failedShards[p.shard] = true
			err = errors.CombineErrors(err, errors.Wrapf(p.err, "shard %d", p.shard))
		}
	}
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var failed []int
	for i := 0; i < n; i++ {
		if failedShards[r.ShardFor(keyAt(i))] {
			failed = append(failed, i)
		}
	}
	r.logger.Warn().Err(err).Stringer("op", op).Ints("failed", failed).Msg("partial failure")
	return &kvpb.BatchError{Op: op, Failed: failed, Err: err}
}

func (r *Router) batchGet(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	keyAt := func(i int) []byte { return req.Keys[i] }
	seen := make(map[string]bool, len(req.Keys))
	parts := r.split(req, len(req.Keys), keyAt, func(p *part, i int) {
		k := req.Keys[i]
		if !seen[string(k)] {
			seen[string(k)] = true
			p.req.Keys = append(p.req.Keys, k)
		}
	})
	r.run(ctx, parts)
	if err := r.failure(ctx, req.Op, parts, len(req.Keys), keyAt); err != nil {
		return nil, err
	}

	found := make(map[string]kvpb.KvPair)
	for _, p := range parts {
		for _, pair := range p.resp.Pairs {
			found[string(pair.Key)] = pair
		}
	}
	resp := &kvpb.Response{}
	for _, k := range req.Keys {
		if pair, ok := found[string(k)]; ok {
			resp.Pairs = append(resp.Pairs, pair)
			delete(found, string(k))
		}
	}
	return resp, nil
}

func (r *Router) batchWrite(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	var keyAt func(i int) []byte
	var n int
	var add func(p *part, i int)
	if req.Op == kvpb.OpBatchPut {
		n = len(req.Pairs)
		keyAt = func(i int) []byte { return req.Pairs[i].Key }
		add = func(p *part, i int) { p.req.Pairs = append(p.req.Pairs, req.Pairs[i]) }
	} else {
		n = len(req.Keys)
		keyAt = func(i int) []byte { return req.Keys[i] }
		add = func(p *part, i int) { p.req.Keys = append(p.req.Keys, req.Keys[i]) }
	}
	parts := r.split(req, n, keyAt, add)
	r.run(ctx, parts)
	if err := r.failure(ctx, req.Op, parts, n, keyAt); err != nil {
		return nil, err
	}
	return &kvpb.Response{}, nil
}

// scan asks every shard for the same range(s) and merges. Each shard applies
// the limit itself, which is enough: the first limit entries of the merged
// result come from the first limit entries of the shards.
func (r *Router) scan(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	start := time.Now()
	resps := make([]*kvpb.Response, len(r.shards))
	g, gctx := errgroup.WithContext(ctx)
	for i, d := range r.shards {
		g.Go(func() error {
			resp, err := d.Dispatch(gctx, req)
			if err != nil {
				return errors.Wrapf(err, "shard %d", i)
			}
			if resp == nil {
				resp = &kvpb.Response{}
			}
			resps[i] = resp
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	resp := &kvpb.Response{}
	lists := make([][]kvpb.KvPair, len(resps))
	if req.Op == kvpb.OpScan {
		for i, sr := range resps {
			lists[i] = sr.Pairs
		}
		resp.Pairs = mergePairs(lists, req.Reverse, req.Limit)
	} else {
		for i, sr := range resps {
			if len(sr.Groups) != len(req.Ranges) {
				return nil, errors.Newf("shard %d: got %d groups for %d ranges", i, len(sr.Groups), len(req.Ranges))
			}
		}
		resp.Groups = make([][]kvpb.KvPair, len(req.Ranges))
		for gi := range req.Ranges {
			for i, sr := range resps {
				lists[i] = sr.Groups[gi]
			}
			resp.Groups[gi] = mergePairs(lists, req.Reverse, req.Limit)
		}
	}
	r.logger.Debug().Stringer("op", req.Op).Int("shards", len(r.shards)).Dur("took", time.Since(start)).Msg("merged")
	return resp, nil
}

func (r *Router) deleteRange(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	parts := make([]*part, len(r.shards))
	for i := range r.shards {
		parts[i] = &part{shard: i, req: req}
	}
	r.run(ctx, parts)

	var err error
	for _, p := range parts {
		if p.err != nil {
			err = errors.CombineErrors(err, errors.Wrapf(p.err, "shard %d", p.shard))
		}
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, &kvpb.BatchError{Op: req.Op, Failed: []int{0}, Err: err}
	}
	return &kvpb.Response{}, nil
}

// mergePairs merges lists sorted in the same direction, keeping at most limit
// entries. Keys are assumed unique across lists.
func mergePairs(lists [][]kvpb.KvPair, reverse bool, limit uint32) []kvpb.KvPair {
	heads := make([]int, len(lists))
	var out []kvpb.KvPair
	for uint64(len(out)) < uint64(limit) {
		best := -1
		for i, l := range lists {
			if heads[i] >= len(l) {
				continue
			}
			if best < 0 {
				best = i
				continue
			}
			cmp := bytes.Compare(l[heads[i]].Key, lists[best][heads[best]].Key)
			if (!reverse && cmp < 0) || (reverse && cmp > 0) {
				best = i
			}
		}
		if best < 0 {
			break
		}
		out = append(out, lists[best][heads[best]])
		heads[best]++
	}
	return out
}
