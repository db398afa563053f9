package transport

import (
	"context"
	"crypto/tls"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/andreyvit/rawkv/kvpb"
	"github.com/andreyvit/rawkv/log"
)

const DefaultDialTimeout = 10 * time.Second

var ErrDialFailed = errors.New("transport: failed to dial server")

type DialOptions struct {
	// TLS is cloned and completed with the rawkv ALPN. Nil verifies the
	// server against the system roots.
	TLS *tls.Config

	InsecureSkipVerify bool

	// Timeout bounds the handshake. Defaults to DefaultDialTimeout.
	Timeout time.Duration

	MaxMessageSize int64

	Logger zerolog.Logger
}

// Client is a kvpb.Dispatcher talking to a remote Server over one QUIC
// connection. It is safe for concurrent use.
type Client struct {
	conn    quic.Connection
	addr    string
	maxSize int64
	logger  zerolog.Logger
	closed  atomic.Bool
}

var _ kvpb.Dispatcher = (*Client)(nil)

// Dial connects to addr and completes the TLS handshake, including ALPN
// negotiation. A server speaking another protocol version is rejected here.
func Dial(ctx context.Context, addr string, opt DialOptions) (*Client, error) {
	timeout := opt.Timeout
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := quic.DialAddr(ctx, addr, clientTLS(opt.TLS, opt.InsecureSkipVerify), &quic.Config{
		MaxIdleTimeout:       MaxIdleTimeout,
		KeepAlivePeriod:      MaxIdleTimeout / 3,
		HandshakeIdleTimeout: timeout,
	})
	if err != nil {
		return nil, errors.Wrapf(errors.Mark(err, ErrDialFailed), "transport: dialing %s", addr)
	}
	if proto := conn.ConnectionState().TLS.NegotiatedProtocol; proto != ALPN {
		conn.CloseWithError(codeShutdown, "protocol mismatch")
		return nil, errors.Wrapf(ErrDialFailed, "transport: %s negotiated protocol %q, want %q", addr, proto, ALPN)
	}

	maxSize := opt.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	c := &Client{
		conn:    conn,
		addr:    addr,
		maxSize: maxSize,
		logger:  log.Component(opt.Logger, "transport").With().Str("remote", addr).Logger(),
	}
	c.logger.Debug().Msg("connected")
	return c, nil
}

func (c *Client) Addr() string { return c.addr }

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.logger.Debug().Msg("closing")
	return c.conn.CloseWithError(codeNoError, "")
}

// Dispatch sends req on a fresh stream and waits for the reply. When ctx ends
// first, the stream is reset in both directions and ctx.Err() is returned.
func (c *Client) Dispatch(ctx context.Context, req *kvpb.Request) (*kvpb.Response, error) {
	if c.closed.Load() {
		return nil, kvpb.ErrClosed
	}
	stream, err := c.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, c.failure(ctx, err, "opening stream")
	}
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(codeStreamAborted)
		stream.CancelWrite(codeStreamAborted)
	})
	defer stop()

	if err := writeMsg(stream, req); err != nil {
		return nil, c.failure(ctx, err, "sending request")
	}
	if err := stream.Close(); err != nil {
		return nil, c.failure(ctx, err, "sending request")
	}

	var rep reply
	if err := readMsg(stream, &rep, c.maxSize); err != nil {
		return nil, c.failure(ctx, err, "reading reply")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if rep.Err != nil {
		return nil, rep.Err.Err(req.Op)
	}
	if rep.Resp == nil {
		return &kvpb.Response{}, nil
	}
	return rep.Resp, nil
}

// failure turns a stream error into ctx.Err() when the caller gave up, and
// into an ErrUnavailable otherwise.
func (c *Client) failure(ctx context.Context, err error, what string) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	c.logger.Warn().Err(err).Str("during", what).Msg("stream failed")
	return errors.Wrapf(errors.Mark(err, kvpb.ErrUnavailable), "transport: %s %s", what, c.addr)
}
