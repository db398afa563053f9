// Package transport carries raw requests over QUIC.
//
// Every request travels on its own bidirectional stream: the client writes a
// msgpack-encoded kvpb.Request and closes its write half; the server answers
// with one encoded reply and closes its half. Many requests share a
// connection concurrently.
package transport

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/quic-go/quic-go"
	"github.com/rs/zerolog"

	"github.com/andreyvit/rawkv/kvpb"
	"github.com/andreyvit/rawkv/log"
)

// MaxIdleTimeout is how long an idle connection stays open.
const MaxIdleTimeout = 5 * time.Minute

const (
	codeNoError       quic.ApplicationErrorCode = 0
	codeShutdown      quic.ApplicationErrorCode = 1
	codeStreamAborted quic.StreamErrorCode      = 1
)

var (
	ErrListenerFailed = errors.New("transport: failed to create QUIC listener")
	ErrNotStarted     = errors.New("transport: server not started")
)

type ServerOptions struct {
	// Addr to listen on, host:port. Port 0 picks a free port.
	Addr string

	Cert tls.Certificate

	// TLS is cloned and completed with Cert and the rawkv ALPN. Optional.
	TLS *tls.Config

	MaxMessageSize int64

	// Registerer receives the server metrics. Nil leaves them unregistered.
	Registerer prometheus.Registerer

	Logger zerolog.Logger
}

// Server exposes a kvpb.Dispatcher over QUIC.
type Server struct {
	d       kvpb.Dispatcher
	opt     ServerOptions
	logger  zerolog.Logger
	metrics *serverMetrics

	listener *quic.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}

	mu    sync.Mutex
	conns map[quic.Connection]struct{}
	wg    sync.WaitGroup // connection and stream handlers
}

func NewServer(d kvpb.Dispatcher, opt ServerOptions) *Server {
	if opt.MaxMessageSize <= 0 {
		opt.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{
		d:       d,
		opt:     opt,
		logger:  log.Component(opt.Logger, "transport"),
		metrics: newServerMetrics(opt.Registerer),
		conns:   make(map[quic.Connection]struct{}),
	}
}

// Start begins listening and accepting connections in the background.
func (s *Server) Start() error {
	listener, err := quic.ListenAddr(s.opt.Addr, serverTLS(s.opt.Cert, s.opt.TLS), &quic.Config{
		MaxIdleTimeout:  MaxIdleTimeout,
		KeepAlivePeriod: MaxIdleTimeout / 3,
	})
	if err != nil {
		return errors.Wrapf(errors.Mark(err, ErrListenerFailed), "transport: listening on %s", s.opt.Addr)
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.listener = listener
	s.done = make(chan struct{})
	go func() {
		s.acceptLoop()
		close(s.done)
	}()
	s.logger.Info().Stringer("addr", listener.Addr()).Str("alpn", ALPN).Msg("listening")
	return nil
}

// Addr returns the address the server listens on.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes every connection with a shutdown code, then the listener, and
// waits for in-flight handlers to return. The dispatcher is not closed.
func (s *Server) Stop() error {
	if s.listener == nil {
		return ErrNotStarted
	}
	s.cancel()
	<-s.done

	// Connections must close before the listener, which tears down the
	// underlying UDP transport.
	s.mu.Lock()
	conns := make([]quic.Connection, 0, len(s.conns))
	for conn := range s.conns {
		conns = append(conns, conn)
	}
	s.mu.Unlock()
	for _, conn := range conns {
		conn.CloseWithError(codeShutdown, "server shutting down")
	}

	err := s.listener.Close()
	s.wg.Wait()
	s.logger.Info().Msg("stopped")
	if err != nil {
		return errors.Wrap(err, "transport: closing listener")
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("accept failed")
			}
			return
		}

		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()
		s.metrics.conns.Inc()

		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

func (s *Server) serveConn(conn quic.Connection) {
	logger := s.logger.With().Stringer("remote", conn.RemoteAddr()).Logger()
	logger.Debug().Str("alpn", conn.ConnectionState().TLS.NegotiatedProtocol).Msg("connection accepted")
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.metrics.conns.Dec()
		conn.CloseWithError(codeNoError, "")
		logger.Debug().Msg("connection closed")
	}()

	for {
		stream, err := conn.AcceptStream(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil && conn.Context().Err() == nil {
				logger.Warn().Err(err).Msg("accept stream failed")
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveStream(stream, logger)
		}()
	}
}

// serveStream dispatches under a context that ends when the client abandons
// the request, the connection goes away, or the server stops.
func (s *Server) serveStream(stream quic.Stream, logger zerolog.Logger) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(stream.Context(), cancel)
	defer stop()

	var req kvpb.Request
	if err := readMsg(stream, &req, s.opt.MaxMessageSize); err != nil {
		logger.Warn().Err(err).Msg("bad request")
		s.metrics.requests.WithLabelValues(kvpb.OpInvalid.String(), kvpb.CodeInvalidRequest.String()).Inc()
		s.respond(stream, &reply{Err: kvpb.StatusOf(errors.Mark(err, kvpb.ErrInvalidRequest))}, logger)
		return
	}

	s.metrics.inflight.Inc()
	start := time.Now()
	resp, err := s.d.Dispatch(ctx, &req)
	took := time.Since(start)
	s.metrics.inflight.Dec()

	code := kvpb.CodeOf(err)
	op := req.Op.String()
	s.metrics.requests.WithLabelValues(op, code.String()).Inc()
	s.metrics.duration.WithLabelValues(op).Observe(took.Seconds())
	logger.Debug().Str("op", op).Stringer("cf", req.CF).Stringer("code", code).Dur("took", took).Msg("served")

	if ctx.Err() != nil {
		stream.CancelWrite(codeStreamAborted)
		return
	}
	if err != nil {
		s.respond(stream, &reply{Err: kvpb.StatusOf(err)}, logger)
	} else {
		s.respond(stream, &reply{Resp: resp}, logger)
	}
}

func (s *Server) respond(stream quic.Stream, rep *reply, logger zerolog.Logger) {
	if err := writeMsg(stream, rep); err != nil {
		logger.Warn().Err(err).Msg("writing reply failed")
		stream.CancelWrite(codeStreamAborted)
		return
	}
	if err := stream.Close(); err != nil {
		logger.Warn().Err(err).Msg("closing stream failed")
	}
}
