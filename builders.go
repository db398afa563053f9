package rawkv

import (
	"context"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	"github.com/andreyvit/rawkv/kvpb"
)

// request is the part every builder shares: the client, the column family
// and the dispatched flag.
type request struct {
	c    *Client
	cf   ColumnFamily
	sent atomic.Bool
}

func (r *request) configure() {
	if r.sent.Load() {
		panic("rawkv: request configured after dispatch")
	}
}

func (r *request) setCF(cf ColumnFamily) {
	r.configure()
	r.cf = cf
}

func (r *request) dispatch(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	if !r.sent.CompareAndSwap(false, true) {
		return nil, ErrAlreadyDispatched
	}
	req.CF = r.cf
	return r.c.exec(ctx, req)
}

// scanFlags are the options shared by Scan and BatchScan.
type scanFlags struct {
	keyOnly bool
	reverse bool
}

// GetRequest reads a single key. Build it with Client.Get; like every
// builder it executes at most once, and configuring it after Exec panics.
type GetRequest struct {
	request
	key []byte
}

// CF selects the column family. Unset means DefaultColumnFamily.
func (r *GetRequest) CF(cf ColumnFamily) *GetRequest { r.setCF(cf); return r }

// Exec returns the value stored under the key, or ErrNotFound. An empty
// stored value comes back as a non-nil empty Value.
func (r *GetRequest) Exec(ctx context.Context) (Value, error) {
	resp, err := r.dispatch(ctx, &kvpb.Request{Op: kvpb.OpGet, Key: r.key})
	if err != nil {
		return nil, err
	}
	if !resp.Found {
		return nil, ErrNotFound
	}
	if resp.Value == nil {
		return Value{}, nil
	}
	return resp.Value, nil
}

// BatchGetRequest reads several keys in one round trip.
type BatchGetRequest struct {
	request
	keys [][]byte
}

// CF selects the column family.
func (r *BatchGetRequest) CF(cf ColumnFamily) *BatchGetRequest { r.setCF(cf); return r }

// Exec returns the pairs found, in the order their keys first appear in the
// request. Missing keys are omitted.
func (r *BatchGetRequest) Exec(ctx context.Context) ([]KvPair, error) {
	resp, err := r.dispatch(ctx, &kvpb.Request{Op: kvpb.OpBatchGet, Keys: r.keys})
	if err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

// PutRequest writes one pair.
type PutRequest struct {
	request
	key   []byte
	value []byte
}

func (r *PutRequest) CF(cf ColumnFamily) *PutRequest { r.setCF(cf); return r }

// Exec stores the value, replacing any previous one.
func (r *PutRequest) Exec(ctx context.Context) error {
	_, err := r.dispatch(ctx, &kvpb.Request{Op: kvpb.OpPut, Key: r.key, Value: r.value})
	return err
}

// BatchPutRequest writes several pairs in one round trip.
type BatchPutRequest struct {
	request
	pairs []KvPair
}

func (r *BatchPutRequest) CF(cf ColumnFamily) *BatchPutRequest { r.setCF(cf); return r }

// Exec writes every pair. If any part fails the whole call fails; a
// *BatchError then lists the pairs that were not written.
func (r *BatchPutRequest) Exec(ctx context.Context) error {
	_, err := r.dispatch(ctx, &kvpb.Request{Op: kvpb.OpBatchPut, Pairs: r.pairs})
	return err
}

// DeleteRequest removes one key.
type DeleteRequest struct {
	request
	key []byte
}

func (r *DeleteRequest) CF(cf ColumnFamily) *DeleteRequest { r.setCF(cf); return r }

// Exec removes the key. Deleting a missing key succeeds.
func (r *DeleteRequest) Exec(ctx context.Context) error {
	_, err := r.dispatch(ctx, &kvpb.Request{Op: kvpb.OpDelete, Key: r.key})
	return err
}

// BatchDeleteRequest removes several keys in one round trip.
type BatchDeleteRequest struct {
	request
	keys [][]byte
}

func (r *BatchDeleteRequest) CF(cf ColumnFamily) *BatchDeleteRequest { r.setCF(cf); return r }

// Exec removes every key; missing keys are skipped. On a cluster a partial
// failure comes back as a *BatchError.
func (r *BatchDeleteRequest) Exec(ctx context.Context) error {
	_, err := r.dispatch(ctx, &kvpb.Request{Op: kvpb.OpBatchDelete, Keys: r.keys})
	return err
}

// ScanRequest lists the pairs inside one key range, in key order.
type ScanRequest struct {
	request
	scanFlags
	rang  KeyRange
	limit uint32
}

func (r *ScanRequest) CF(cf ColumnFamily) *ScanRequest { r.setCF(cf); return r }

// KeyOnly leaves the values of the returned pairs nil.
func (r *ScanRequest) KeyOnly() *ScanRequest {
	r.configure()
	r.keyOnly = true
	return r
}

// Reverse returns pairs in descending key order. The limit then keeps the
// highest keys.
func (r *ScanRequest) Reverse() *ScanRequest {
	r.configure()
	r.reverse = true
	return r
}

// Exec returns at most limit pairs; a limit of 0 returns none.
func (r *ScanRequest) Exec(ctx context.Context) ([]KvPair, error) {
	resp, err := r.dispatch(ctx, &kvpb.Request{
		Op:      kvpb.OpScan,
		Ranges:  []KeyRange{r.rang},
		Limit:   r.limit,
		KeyOnly: r.keyOnly,
		Reverse: r.reverse,
	})
	if err != nil {
		return nil, err
	}
	return resp.Pairs, nil
}

// BatchScanRequest scans several ranges in one round trip. Each range gets
// its own limit and its own result group.
type BatchScanRequest struct {
	request
	scanFlags
	ranges []KeyRange
	limit  uint32
}

func (r *BatchScanRequest) CF(cf ColumnFamily) *BatchScanRequest { r.setCF(cf); return r }

// KeyOnly leaves the values of the returned pairs nil.
func (r *BatchScanRequest) KeyOnly() *BatchScanRequest {
	r.configure()
	r.keyOnly = true
	return r
}

// Reverse orders every group by descending key.
func (r *BatchScanRequest) Reverse() *BatchScanRequest {
	r.configure()
	r.reverse = true
	return r
}

// Exec returns one group of pairs per range, in the order of the ranges. A
// reply with a different number of groups is an error.
func (r *BatchScanRequest) Exec(ctx context.Context) ([][]KvPair, error) {
	resp, err := r.dispatch(ctx, &kvpb.Request{
		Op:      kvpb.OpBatchScan,
		Ranges:  r.ranges,
		Limit:   r.limit,
		KeyOnly: r.keyOnly,
		Reverse: r.reverse,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Groups) != len(r.ranges) {
		return nil, errors.Newf("rawkv: BatchScan got %d groups for %d ranges", len(resp.Groups), len(r.ranges))
	}
	return resp.Groups, nil
}

// DeleteRangeRequest removes every key inside one key range.
type DeleteRangeRequest struct {
	request
	rang KeyRange
}

func (r *DeleteRangeRequest) CF(cf ColumnFamily) *DeleteRangeRequest { r.setCF(cf); return r }

// Exec removes every key inside the range. An empty range is a no-op.
func (r *DeleteRangeRequest) Exec(ctx context.Context) error {
	_, err := r.dispatch(ctx, &kvpb.Request{Op: kvpb.OpDeleteRange, Ranges: []KeyRange{r.rang}})
	return err
}
