package rawkv

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/andreyvit/rawkv/kvpb"
)

// Client hands out operation builders over a Dispatcher. It holds no mutable
// request state and is safe for concurrent use.
type Client struct {
	d       Dispatcher
	timeout time.Duration
	logger  zerolog.Logger
	closed  atomic.Bool
}

// NewClient wraps an existing dispatcher, such as a *store.Store or a
// *cluster.Router. Close closes d.
func NewClient(d Dispatcher) *Client {
	return &Client{d: d, logger: zerolog.Nop()}
}

// Dispatcher returns the dispatcher requests are sent to.
func (c *Client) Dispatcher() Dispatcher { return c.d }

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.d.Close()
}

// exec sends req and returns the response unless ctx ended first, in which
// case the response is dropped.
func (c *Client) exec(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, err := c.d.Dispatch(ctx, req)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		c.logger.Debug().Err(err).Str("op", req.Op.String()).Stringer("cf", req.CF).Msg("request failed")
		return nil, err
	}
	if resp == nil {
		resp = &kvpb.Response{}
	}
	return resp, nil
}

// Get reads one key. An empty key fails with ErrInvalidRequest when the
// request executes.
func (c *Client) Get(key []byte) *GetRequest {
	return &GetRequest{request: request{c: c}, key: key}
}

// BatchGet reads several keys at once. Any empty key fails the whole
// request with ErrInvalidRequest.
func (c *Client) BatchGet(keys ...[]byte) *BatchGetRequest {
	return &BatchGetRequest{request: request{c: c}, keys: keys}
}

// Put copies key and value; the caller may reuse them once Put returns.
// A nil value is stored as an empty one. An empty key is rejected with
// ErrInvalidRequest when the request executes.
func (c *Client) Put(key, value []byte) *PutRequest {
	v := kvpb.ValueFrom(value)
	if v == nil {
		v = Value{}
	}
	return &PutRequest{request: request{c: c}, key: kvpb.KeyFrom(key), value: v}
}

// BatchPut copies pairs. When a key appears more than once, the last pair
// wins. A pair with an empty key fails the whole batch with
// ErrInvalidRequest.
func (c *Client) BatchPut(pairs ...KvPair) *BatchPutRequest {
	owned := make([]KvPair, len(pairs))
	for i, p := range pairs {
		owned[i] = kvpb.NewKvPair(p.Key, p.Value)
		if owned[i].Value == nil {
			owned[i].Value = Value{}
		}
	}
	return &BatchPutRequest{request: request{c: c}, pairs: owned}
}

// Delete removes one key. Empty keys are rejected like in Get.
func (c *Client) Delete(key []byte) *DeleteRequest {
	return &DeleteRequest{request: request{c: c}, key: key}
}

// BatchDelete copies keys. Any empty key fails the whole request with
// ErrInvalidRequest.
func (c *Client) BatchDelete(keys ...[]byte) *BatchDeleteRequest {
	owned := make([][]byte, len(keys))
	for i, k := range keys {
		owned[i] = kvpb.KeyFrom(k)
	}
	return &BatchDeleteRequest{request: request{c: c}, keys: owned}
}

// Scan returns up to limit pairs inside r. The limit is a count, not an
// option: a limit of 0 returns no pairs, and NoLimit returns all of them.
func (c *Client) Scan(r KeyRange, limit uint32) *ScanRequest {
	return &ScanRequest{request: request{c: c}, rang: r, limit: limit}
}

// BatchScan scans each range independently, returning up to eachLimit pairs
// per range. As with Scan, 0 yields empty groups and NoLimit removes the cap.
func (c *Client) BatchScan(ranges []KeyRange, eachLimit uint32) *BatchScanRequest {
	return &BatchScanRequest{request: request{c: c}, ranges: ranges, limit: eachLimit}
}

// DeleteRange removes every key inside r. FullRange clears the column family.
func (c *Client) DeleteRange(r KeyRange) *DeleteRangeRequest {
	return &DeleteRangeRequest{request: request{c: c}, rang: r}
}
