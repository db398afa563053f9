/*
Package rawkv is a client for a raw (non-transactional) key-value store
partitioned into column families.

A Client is obtained from Connect and hands out one builder per operation:

	c, err := rawkv.Connect(ctx, rawkv.Config{Endpoints: []string{"kv1:7450"}})
	...
	err = c.Put([]byte("k"), []byte("v")).CF("write").Exec(ctx)
	v, err := c.Get([]byte("k")).CF("write").Exec(ctx)
	pairs, err := c.Scan(rawkv.RangeIE(a, b), 10).Reverse().KeyOnly().Exec(ctx)

Operations are Get, BatchGet, Put, BatchPut, Delete, BatchDelete, Scan,
BatchScan and DeleteRange.

# Builders

Constructors only package parameters; nothing happens until Exec. A builder
dispatches exactly one request and is then frozen: a second Exec returns
ErrAlreadyDispatched, and calling CF, KeyOnly or Reverse after Exec panics.

The client does not retry. Every error a dispatcher returns reaches the caller
unchanged, so errors.Is(err, ErrUnknownColumnFamily) and errors.As(err,
&batchErr) work the same for local stores, clusters and remote servers.

# Ranges

A KeyRange is a pair of bounds, each inclusive, exclusive or unbounded. The
mnemonic constructors name the start bound first, then the end: RangeIE is
[start, end), RangeEO is (start, +inf). A range whose start lies past its end
selects nothing; scanning or deleting it succeeds with no effect.

# Endpoints

quic://host:port (or just host:port) talks to a rawkv-server. mem://, bolt:///file
and pebble:///dir open a store in-process. Several endpoints form a cluster:
keys are spread across them by hash and scans are merged back into key order.
*/
package rawkv
