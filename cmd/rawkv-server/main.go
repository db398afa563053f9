// Command rawkv-server serves a local store to rawkv clients over QUIC.
package main

import (
	"context"
	"crypto/tls"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/andreyvit/rawkv/kvpb"
	"github.com/andreyvit/rawkv/log"
	"github.com/andreyvit/rawkv/store"
	"github.com/andreyvit/rawkv/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cfg := defaultServerConfig()
	var configFile string

	cmd := &cobra.Command{
		Use:          "rawkv-server",
		Short:        "serve a raw key-value store over QUIC",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if configFile != "" {
				flagged := cfg
				if err := loadConfigFile(configFile, &cfg); err != nil {
					return err
				}
				applyChangedFlags(cmd, &cfg, flagged)
			}
			if err := cfg.validate(); err != nil {
				return err
			}

			logger, err := newLogger(&cfg)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return run(ctx, &cfg, logger)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&configFile, "config", "c", "", "YAML config file; flags override its values")
	f.StringVar(&cfg.Listen, "listen", cfg.Listen, "QUIC listen address")
	f.StringVar(&cfg.MetricsListen, "metrics-listen", cfg.MetricsListen, "HTTP address for /metrics (disabled when empty)")
	f.StringVar(&cfg.Engine, "engine", cfg.Engine, "storage engine: mem, bolt or pebble")
	f.StringVar(&cfg.Path, "path", cfg.Path, "bolt file or pebble directory")
	f.StringSliceVar(&cfg.ColumnFamilies, "cf", cfg.ColumnFamilies, "column families to create")
	f.StringVar(&cfg.CertFile, "cert-file", cfg.CertFile, "TLS certificate (self-signed when empty)")
	f.StringVar(&cfg.KeyFile, "key-file", cfg.KeyFile, "TLS private key")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn or error")
	f.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "console or json")
	return cmd
}

// applyChangedFlags puts back the values of flags given on the command line
// after the config file has overwritten them.
func applyChangedFlags(cmd *cobra.Command, cfg *serverConfig, flagged serverConfig) {
	changed := cmd.Flags().Changed
	if changed("listen") {
		cfg.Listen = flagged.Listen
	}
	if changed("metrics-listen") {
		cfg.MetricsListen = flagged.MetricsListen
	}
	if changed("engine") {
		cfg.Engine = flagged.Engine
	}
	if changed("path") {
		cfg.Path = flagged.Path
	}
	if changed("cf") {
		cfg.ColumnFamilies = flagged.ColumnFamilies
	}
	if changed("cert-file") {
		cfg.CertFile = flagged.CertFile
	}
	if changed("key-file") {
		cfg.KeyFile = flagged.KeyFile
	}
	if changed("log-level") {
		cfg.LogLevel = flagged.LogLevel
	}
	if changed("log-format") {
		cfg.LogFormat = flagged.LogFormat
	}
}

func newLogger(cfg *serverConfig) (zerolog.Logger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return zerolog.Nop(), errors.Wrap(err, "config: log_level")
	}
	format, err := log.ParseFormat(cfg.LogFormat)
	if err != nil {
		return zerolog.Nop(), err
	}
	return log.New(log.Options{Level: level, Format: format}), nil
}

func run(ctx context.Context, cfg *serverConfig, logger zerolog.Logger) error {
	var cfs []kvpb.ColumnFamily
	for _, name := range cfg.ColumnFamilies {
		cfs = append(cfs, kvpb.ColumnFamily(name))
	}
	s, err := store.Open(store.Options{
		Engine:         cfg.Engine,
		Path:           cfg.Path,
		ColumnFamilies: cfs,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	cert, err := loadOrGenerateCert(cfg, logger)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		newStoreCollector(s),
	)

	srv := transport.NewServer(s, transport.ServerOptions{
		Addr:       cfg.Listen,
		Cert:       cert,
		Registerer: reg,
		Logger:     logger,
	})
	if err := srv.Start(); err != nil {
		return err
	}

	var metricsSrv *http.Server
	if cfg.MetricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		metricsSrv = &http.Server{Addr: cfg.MetricsListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error().Err(err).Str("addr", cfg.MetricsListen).Msg("metrics server failed")
			}
		}()
		logger.Info().Str("addr", cfg.MetricsListen).Msg("serving metrics")
	}

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	var result error
	if metricsSrv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		result = errors.CombineErrors(result, metricsSrv.Shutdown(sctx))
		cancel()
	}
	result = errors.CombineErrors(result, srv.Stop())
	return result
}

func loadOrGenerateCert(cfg *serverConfig, logger zerolog.Logger) (tls.Certificate, error) {
	if cfg.CertFile != "" {
		return transport.LoadCert(cfg.CertFile, cfg.KeyFile)
	}
	logger.Warn().Msg("no cert_file configured, using a self-signed certificate")
	return transport.SelfSignedCert()
}

// storeCollector exports the key count of every column family and the
// request counters of the store.
type storeCollector struct {
	s        *store.Store
	keys     *prometheus.Desc
	requests *prometheus.Desc
}

func newStoreCollector(s *store.Store) *storeCollector {
	return &storeCollector{
		s: s,
		keys: prometheus.NewDesc("rawkv_store_keys", "Keys stored, by column family.",
			[]string{"engine", "cf"}, nil),
		requests: prometheus.NewDesc("rawkv_store_requests_total", "Requests dispatched to the store, by kind.",
			[]string{"engine", "kind"}, nil),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.keys
	ch <- c.requests
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	engine := c.s.Engine()
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(c.s.ReadCount.Load()), engine, "read")
	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(c.s.WriteCount.Load()), engine, "write")

	for _, cf := range c.s.ColumnFamilies() {
		n, err := c.s.Stats(cf)
		if err != nil {
			ch <- prometheus.NewInvalidMetric(c.keys, err)
			continue
		}
		ch <- prometheus.MustNewConstMetric(c.keys, prometheus.GaugeValue, float64(n), engine, cf.String())
	}
}
