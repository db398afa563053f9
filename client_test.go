package rawkv

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/rawkv/kvpb"
)

type mockDispatcher struct {
	mock.Mock
}

func (m *mockDispatcher) Dispatch(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	args := m.Called(ctx, req)
	resp, _ := args.Get(0).(*kvpb.Response)
	return resp, args.Error(1)
}

func (m *mockDispatcher) Close() error {
	return m.Called().Error(0)
}

func reqMatching(f func(req *kvpb.Request) bool) any {
	return mock.MatchedBy(f)
}

func TestBuilders_ShapeRequests(t *testing.T) {
	k, v := []byte("k"), []byte("v")
	tests := []struct {
		name string
		exec func(c *Client) error
		want kvpb.Request
	}{
		{"Get", func(c *Client) error {
			_, err := c.Get(k).Exec(context.Background())
			return err
		}, kvpb.Request{Op: kvpb.OpGet, Key: k}},
		{"Get with CF", func(c *Client) error {
			_, err := c.Get(k).CF("write").Exec(context.Background())
			return err
		}, kvpb.Request{Op: kvpb.OpGet, CF: "write", Key: k}},
		{"BatchGet", func(c *Client) error {
			_, err := c.BatchGet(k, v).CF("lock").Exec(context.Background())
			return err
		}, kvpb.Request{Op: kvpb.OpBatchGet, CF: "lock", Keys: [][]byte{k, v}}},
		{"Put", func(c *Client) error {
			return c.Put(k, v).Exec(context.Background())
		}, kvpb.Request{Op: kvpb.OpPut, Key: k, Value: v}},
		{"Put nil value", func(c *Client) error {
			return c.Put(k, nil).Exec(context.Background())
		}, kvpb.Request{Op: kvpb.OpPut, Key: k, Value: []byte{}}},
		{"BatchPut", func(c *Client) error {
			return c.BatchPut(NewKvPair(k, v)).Exec(context.Background())
		}, kvpb.Request{Op: kvpb.OpBatchPut, Pairs: []kvpb.KvPair{NewKvPair(k, v)}}},
		{"Delete", func(c *Client) error {
			return c.Delete(k).CF("write").Exec(context.Background())
		}, kvpb.Request{Op: kvpb.OpDelete, CF: "write", Key: k}},
		{"BatchDelete", func(c *Client) error {
			return c.BatchDelete(k, k).Exec(context.Background())
		}, kvpb.Request{Op: kvpb.OpBatchDelete, Keys: [][]byte{k, k}}},
		{"Scan", func(c *Client) error {
			_, err := c.Scan(RangeIE(k, v), 10).Exec(context.Background())
			return err
		}, kvpb.Request{Op: kvpb.OpScan, Ranges: []kvpb.KeyRange{RangeIE(k, v)}, Limit: 10}},
		{"Scan flags", func(c *Client) error {
			_, err := c.Scan(FullRange(), NoLimit).KeyOnly().Reverse().CF("write").Exec(context.Background())
			return err
		}, kvpb.Request{Op: kvpb.OpScan, CF: "write", Ranges: []kvpb.KeyRange{FullRange()}, Limit: NoLimit, KeyOnly: true, Reverse: true}},
		{"BatchScan", func(c *Client) error {
			_, err := c.BatchScan([]KeyRange{RangeIO(k), RangeOE(v)}, 3).Reverse().Exec(context.Background())
			return err
		}, kvpb.Request{Op: kvpb.OpBatchScan, Ranges: []kvpb.KeyRange{RangeIO(k), RangeOE(v)}, Limit: 3, Reverse: true}},
		{"DeleteRange", func(c *Client) error {
			return c.DeleteRange(RangeEI(k, v)).CF("lock").Exec(context.Background())
		}, kvpb.Request{Op: kvpb.OpDeleteRange, CF: "lock", Ranges: []kvpb.KeyRange{RangeEI(k, v)}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &kvpb.Response{Found: true}
			if tt.want.Op == kvpb.OpBatchScan {
				resp.Groups = make([][]kvpb.KvPair, len(tt.want.Ranges))
			}
			d := &mockDispatcher{}
			d.On("Dispatch", mock.Anything, &tt.want).Return(resp, nil).Once()
			c := NewClient(d)

			require.NoError(t, tt.exec(c))
			d.AssertExpectations(t)
		})
	}
}

func TestGet_NotFound(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(&kvpb.Response{}, nil)
	c := NewClient(d)

	_, err := c.Get([]byte("k")).Exec(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet_EmptyValueIsNotNil(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(&kvpb.Response{Found: true}, nil)
	c := NewClient(d)

	v, err := c.Get([]byte("k")).Exec(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Empty(t, v)
}

func TestBuilder_SingleUse(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(&kvpb.Response{}, nil).Once()
	c := NewClient(d)

	r := c.Scan(FullRange(), NoLimit)
	_, err := r.Exec(context.Background())
	require.NoError(t, err)

	_, err = r.Exec(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyDispatched)
	d.AssertNumberOfCalls(t, "Dispatch", 1)

	assert.Panics(t, func() { r.CF("write") })
	assert.Panics(t, func() { r.KeyOnly() })
	assert.Panics(t, func() { r.Reverse() })
}

func TestBuilder_FailedExecStillConsumes(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(nil, ErrUnavailable).Once()
	c := NewClient(d)

	r := c.Delete([]byte("k"))
	assert.ErrorIs(t, r.Exec(context.Background()), ErrUnavailable)
	assert.ErrorIs(t, r.Exec(context.Background()), ErrAlreadyDispatched)
}

func TestBuilders_CopyWrittenBytes(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Return(&kvpb.Response{}, nil)
	c := NewClient(d)

	k, v := []byte("key"), []byte("val")
	put := c.Put(k, v)
	bput := c.BatchPut(KvPair{Key: k, Value: v})
	bdel := c.BatchDelete(k)
	copy(k, "XXX")
	copy(v, "YYY")

	require.NoError(t, put.Exec(context.Background()))
	require.NoError(t, bput.Exec(context.Background()))
	require.NoError(t, bdel.Exec(context.Background()))

	var seen []*kvpb.Request
	for _, call := range d.Calls {
		seen = append(seen, call.Arguments.Get(1).(*kvpb.Request))
	}
	require.Len(t, seen, 3)
	assert.Equal(t, []byte("key"), seen[0].Key)
	assert.Equal(t, []byte("val"), seen[0].Value)
	assert.Equal(t, kvpb.Key("key"), seen[1].Pairs[0].Key)
	assert.Equal(t, kvpb.Value("val"), seen[1].Pairs[0].Value)
	assert.Equal(t, []byte("key"), seen[2].Keys[0])
}

func TestBatchScan_GroupPerRange(t *testing.T) {
	a := []KvPair{NewKvPair([]byte("a"), []byte("1"))}
	tests := []struct {
		name    string
		ranges  int
		groups  [][]KvPair
		wantErr bool
	}{
		{"one per range", 2, [][]KvPair{a, nil}, false},
		{"no ranges", 0, nil, false},
		{"missing groups", 3, [][]KvPair{a}, true},
		{"no groups at all", 2, nil, true},
		{"extra groups", 1, [][]KvPair{a, a}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &mockDispatcher{}
			d.On("Dispatch", mock.Anything, mock.Anything).Return(&kvpb.Response{Groups: tt.groups}, nil)
			c := NewClient(d)

			ranges := make([]KeyRange, tt.ranges)
			for i := range ranges {
				ranges[i] = FullRange()
			}
			groups, err := c.BatchScan(ranges, NoLimit).Exec(context.Background())
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "groups for")
				assert.Nil(t, groups)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.groups, groups)
		})
	}
}

func TestExec_ErrorsPassThrough(t *testing.T) {
	batchErr := &BatchError{Op: kvpb.OpBatchPut, Failed: []int{1}, Err: errors.New("shard down")}
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, reqMatching(func(r *kvpb.Request) bool { return r.Op == kvpb.OpBatchPut })).Return(nil, batchErr)
	d.On("Dispatch", mock.Anything, reqMatching(func(r *kvpb.Request) bool { return r.Op == kvpb.OpGet })).Return(nil, errors.Wrap(ErrUnknownColumnFamily, "nope"))
	c := NewClient(d)

	err := c.BatchPut(NewKvPair([]byte("a"), nil), NewKvPair([]byte("b"), nil)).Exec(context.Background())
	var be *BatchError
	require.True(t, errors.As(err, &be), "err = %v", err)
	assert.Equal(t, []int{1}, be.Failed)

	_, err = c.Get([]byte("a")).CF("nope").Exec(context.Background())
	assert.True(t, errors.Is(err, ErrUnknownColumnFamily), "err = %v", err)
}

func TestExec_CanceledBeforeDispatch(t *testing.T) {
	d := &mockDispatcher{}
	c := NewClient(d)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get([]byte("k")).Exec(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	d.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
}

func TestExec_LateResultDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Run(func(mock.Arguments) { cancel() }).Return(&kvpb.Response{Found: true, Value: []byte("late")}, nil)
	c := NewClient(d)

	v, err := c.Get([]byte("k")).Exec(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, v)
}

func TestExec_RequestTimeout(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Dispatch", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded)
	c := NewClient(d)
	c.timeout = 20 * time.Millisecond

	err := c.Put([]byte("k"), nil).Exec(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_Close(t *testing.T) {
	d := &mockDispatcher{}
	d.On("Close").Return(nil).Once()
	c := NewClient(d)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	d.AssertNumberOfCalls(t, "Close", 1)

	_, err := c.Get([]byte("k")).Exec(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
}
