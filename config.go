package rawkv

import (
	"crypto/tls"
	"time"

	"github.com/rs/zerolog"
)

type Config struct {
	// Endpoints to open. A single endpoint is used directly; several form a
	// cluster with keys spread across them by hash. Accepted forms:
	//
	//	host:port, quic://host:port   a rawkv-server
	//	mem://                        in-process memory store
	//	bolt:///path/to/file.db       in-process bbolt store
	//	pebble:///path/to/dir         in-process pebble store (pebble:// alone is in-memory)
	Endpoints []string

	// ColumnFamilies created by in-process stores. Defaults to default, write
	// and lock. Ignored for remote endpoints.
	ColumnFamilies []string

	DialTimeout time.Duration

	// RequestTimeout bounds every Exec. Zero means no timeout beyond the
	// caller's context.
	RequestTimeout time.Duration

	// TLS for remote endpoints. Nil verifies servers against the system roots.
	TLS                *tls.Config
	InsecureSkipVerify bool

	Logger zerolog.Logger
}
