package rawkv

import (
	"context"
	"net/url"
	"strings"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"

	"github.com/andreyvit/rawkv/cluster"
	"github.com/andreyvit/rawkv/kvpb"
	"github.com/andreyvit/rawkv/log"
	"github.com/andreyvit/rawkv/store"
	"github.com/andreyvit/rawkv/transport"
)

const schemeQUIC = "quic"

// Connect opens every endpoint in cfg and returns a client over them. All
// endpoints are opened concurrently; if any of them fails, the others are
// closed again and a *ConnectError is returned.
func Connect(ctx context.Context, cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, &ConnectError{Err: ErrNoEndpoints}
	}
	logger := log.Component(cfg.Logger, "rawkv")

	shards := make([]kvpb.Dispatcher, len(cfg.Endpoints))
	g, gctx := errgroup.WithContext(ctx)
	for i, ep := range cfg.Endpoints {
		g.Go(func() error {
			d, err := openEndpoint(gctx, ep, &cfg)
			if err != nil {
				return &ConnectError{Endpoint: ep, Err: err}
			}
			shards[i] = d
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, d := range shards {
			if d != nil {
				d.Close()
			}
		}
		logger.Warn().Err(err).Msg("connect failed")
		return nil, err
	}

	var d kvpb.Dispatcher
	if len(shards) == 1 {
		d = shards[0]
	} else {
		d = cluster.NewRouter(shards, cluster.Options{Logger: cfg.Logger})
	}
	logger.Debug().Strs("endpoints", cfg.Endpoints).Msg("connected")

	c := NewClient(d)
	c.timeout = cfg.RequestTimeout
	c.logger = logger
	return c, nil
}

func openEndpoint(ctx context.Context, ep string, cfg *Config) (kvpb.Dispatcher, error) {
	scheme, rest, err := parseEndpoint(ep)
	if err != nil {
		return nil, err
	}

	switch scheme {
	case schemeQUIC:
		if rest == "" {
			return nil, errors.New("missing host:port")
		}
		c, err := transport.Dial(ctx, rest, transport.DialOptions{
			TLS:                cfg.TLS,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			Timeout:            cfg.DialTimeout,
			Logger:             cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return c, nil

	case store.EngineMem, store.EngineBolt, store.EnginePebble:
		if scheme == store.EngineBolt && rest == "" {
			return nil, errors.New("missing file path")
		}
		var cfs []kvpb.ColumnFamily
		for _, name := range cfg.ColumnFamilies {
			cfs = append(cfs, kvpb.ColumnFamily(name))
		}
		s, err := store.Open(store.Options{
			Engine:         scheme,
			Path:           rest,
			ColumnFamilies: cfs,
			Logger:         cfg.Logger,
		})
		if err != nil {
			return nil, err
		}
		return s, nil

	default:
		return nil, errors.Wrapf(ErrUnknownScheme, "%q", scheme)
	}
}

// parseEndpoint splits ep into a scheme and an address or path. Endpoints
// without a scheme are remote servers.
func parseEndpoint(ep string) (scheme, rest string, err error) {
	if !strings.Contains(ep, "://") {
		return schemeQUIC, ep, nil
	}
	u, err := url.Parse(ep)
	if err != nil {
		return "", "", errors.Wrap(err, "parsing endpoint")
	}
	return strings.ToLower(u.Scheme), u.Host + u.Path, nil
}
