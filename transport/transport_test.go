package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/quic-go/quic-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/rawkv/kvpb"
	"github.com/andreyvit/rawkv/store"
)

func startServer(t *testing.T, d kvpb.Dispatcher) *Server {
	t.Helper()
	cert, err := SelfSignedCert()
	require.NoError(t, err)

	srv := NewServer(d, ServerOptions{Addr: "127.0.0.1:0", Cert: cert, Registerer: prometheus.NewRegistry()})
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv
}

func dial(t *testing.T, srv *Server) *Client {
	t.Helper()
	c, err := Dial(context.Background(), srv.Addr().String(), DialOptions{InsecureSkipVerify: true, Timeout: 5 * time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func newStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestLoopback_AllOps(t *testing.T) {
	srv := startServer(t, newStore(t))
	c := dial(t, srv)
	ctx := context.Background()

	_, err := c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpBatchPut, CF: kvpb.WriteColumnFamily, Pairs: []kvpb.KvPair{
		kvpb.NewKvPair([]byte("a"), []byte("1")),
		kvpb.NewKvPair([]byte("b"), []byte{}),
		kvpb.NewKvPair([]byte("c"), []byte("3")),
	}})
	require.NoError(t, err)

	resp, err := c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpGet, CF: kvpb.WriteColumnFamily, Key: []byte("a")})
	require.NoError(t, err)
	assert.True(t, resp.Found)
	assert.Equal(t, []byte("1"), resp.Value)

	resp, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpGet, Key: []byte("a")})
	require.NoError(t, err)
	assert.False(t, resp.Found, "default column family is separate")

	resp, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpScan, CF: kvpb.WriteColumnFamily, Ranges: []kvpb.KeyRange{kvpb.RangeEO([]byte("a"))}, Limit: kvpb.NoLimit, Reverse: true})
	require.NoError(t, err)
	require.Len(t, resp.Pairs, 2)
	assert.Equal(t, kvpb.Key("c"), resp.Pairs[0].Key)
	assert.Equal(t, kvpb.Key("b"), resp.Pairs[1].Key)
	assert.NotNil(t, resp.Pairs[1].Value, "empty values survive the wire")

	resp, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpScan, CF: kvpb.WriteColumnFamily, Ranges: []kvpb.KeyRange{kvpb.FullRange()}, Limit: 2, KeyOnly: true})
	require.NoError(t, err)
	require.Len(t, resp.Pairs, 2)
	assert.Nil(t, resp.Pairs[0].Value)

	resp, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpBatchScan, CF: kvpb.WriteColumnFamily, Ranges: []kvpb.KeyRange{
		kvpb.RangeII([]byte("a"), []byte("a")),
		kvpb.RangeII([]byte("z"), []byte("a")),
	}, Limit: kvpb.NoLimit})
	require.NoError(t, err)
	require.Len(t, resp.Groups, 2)
	assert.Len(t, resp.Groups[0], 1)
	assert.Empty(t, resp.Groups[1])

	_, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpDeleteRange, CF: kvpb.WriteColumnFamily, Ranges: []kvpb.KeyRange{kvpb.RangeIE([]byte("a"), []byte("c"))}})
	require.NoError(t, err)
	_, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpBatchDelete, CF: kvpb.WriteColumnFamily, Keys: [][]byte{[]byte("c"), []byte("zz")}})
	require.NoError(t, err)

	resp, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpBatchGet, CF: kvpb.WriteColumnFamily, Keys: [][]byte{[]byte("a"), []byte("b"), []byte("c")}})
	require.NoError(t, err)
	assert.Empty(t, resp.Pairs)
}

func TestLoopback_ErrorsKeepIdentity(t *testing.T) {
	srv := startServer(t, newStore(t))
	c := dial(t, srv)
	ctx := context.Background()

	_, err := c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpGet, CF: "nope", Key: []byte("k")})
	assert.True(t, errors.Is(err, kvpb.ErrUnknownColumnFamily), "err = %v", err)

	_, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpScan})
	assert.True(t, errors.Is(err, kvpb.ErrInvalidRequest), "err = %v", err)

	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.requests.WithLabelValues("Get", "unknown_cf")))
	assert.Equal(t, 1.0, testutil.ToFloat64(srv.metrics.requests.WithLabelValues("Scan", "invalid_request")))
}

func TestLoopback_ConcurrentStreams(t *testing.T) {
	srv := startServer(t, newStore(t))
	c := dial(t, srv)

	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		go func() {
			k := []byte{'k', byte(i)}
			if _, err := c.Dispatch(context.Background(), &kvpb.Request{Op: kvpb.OpPut, Key: k, Value: k}); err != nil {
				errs <- err
				return
			}
			resp, err := c.Dispatch(context.Background(), &kvpb.Request{Op: kvpb.OpGet, Key: k})
			if err == nil && !bytes.Equal(resp.Value, k) {
				err = errors.Newf("got %x for %x", resp.Value, k)
			}
			errs <- err
		}()
	}
	for i := 0; i < 32; i++ {
		assert.NoError(t, <-errs)
	}

	resp, err := c.Dispatch(context.Background(), &kvpb.Request{Op: kvpb.OpScan, Ranges: []kvpb.KeyRange{kvpb.FullRange()}, Limit: kvpb.NoLimit})
	require.NoError(t, err)
	assert.Len(t, resp.Pairs, 32)
	assert.Equal(t, 32.0, testutil.ToFloat64(srv.metrics.requests.WithLabelValues("Put", "ok")))
}

// blockingDispatcher holds every request until its context ends.
type blockingDispatcher struct {
	started chan struct{}
	ended   chan error
}

func (d *blockingDispatcher) Dispatch(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	d.started <- struct{}{}
	<-ctx.Done()
	d.ended <- ctx.Err()
	return nil, ctx.Err()
}

func (d *blockingDispatcher) Close() error { return nil }

func TestLoopback_Cancellation(t *testing.T) {
	d := &blockingDispatcher{started: make(chan struct{}, 1), ended: make(chan error, 1)}
	srv := startServer(t, d)
	c := dial(t, srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpGet, Key: []byte("k")})
		done <- err
	}()

	<-d.started
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Dispatch did not return after cancel")
	}

	select {
	case <-d.ended:
	case <-time.After(5 * time.Second):
		t.Fatal("server kept dispatching an abandoned request")
	}
}

func TestDial_ProtocolMismatch(t *testing.T) {
	cert, err := SelfSignedCert()
	require.NoError(t, err)
	ln, err := quic.ListenAddr("127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"rawkv/0"},
	}, nil)
	require.NoError(t, err)
	defer ln.Close()

	_, err = Dial(context.Background(), ln.Addr().String(), DialOptions{InsecureSkipVerify: true, Timeout: 2 * time.Second})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDialFailed), "err = %v", err)
}

func TestDial_UntrustedCertificate(t *testing.T) {
	srv := startServer(t, newStore(t))
	_, err := Dial(context.Background(), srv.Addr().String(), DialOptions{Timeout: 2 * time.Second})
	assert.True(t, errors.Is(err, ErrDialFailed), "err = %v", err)
}

func TestClient_Closed(t *testing.T) {
	srv := startServer(t, newStore(t))
	c := dial(t, srv)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	_, err := c.Dispatch(context.Background(), &kvpb.Request{Op: kvpb.OpGet, Key: []byte("k")})
	assert.True(t, errors.Is(err, kvpb.ErrClosed))
}

func TestServer_StopDropsConnections(t *testing.T) {
	srv := startServer(t, newStore(t))
	c := dial(t, srv)
	_, err := c.Dispatch(context.Background(), &kvpb.Request{Op: kvpb.OpPut, Key: []byte("k")})
	require.NoError(t, err)

	require.NoError(t, srv.Stop())

	select {
	case <-c.conn.Context().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("client connection still open after Stop")
	}
	var appErr *quic.ApplicationError
	require.True(t, errors.As(context.Cause(c.conn.Context()), &appErr), "cause = %v", context.Cause(c.conn.Context()))
	assert.True(t, appErr.Remote)
	assert.Equal(t, codeShutdown, appErr.ErrorCode)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err = c.Dispatch(ctx, &kvpb.Request{Op: kvpb.OpGet, Key: []byte("k")})
	assert.True(t, errors.Is(err, kvpb.ErrUnavailable), "err = %v", err)
}

func TestCodec_MessageTooLarge(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeMsg(&buf, &kvpb.Request{Op: kvpb.OpPut, Key: []byte("k"), Value: make([]byte, 1024)}))

	var req kvpb.Request
	err := readMsg(bytes.NewReader(buf.Bytes()), &req, 100)
	assert.True(t, errors.Is(err, ErrMessageTooLarge), "err = %v", err)

	err = readMsg(bytes.NewReader(buf.Bytes()), &req, DefaultMaxMessageSize)
	require.NoError(t, err)
	assert.Len(t, req.Value, 1024)
}
