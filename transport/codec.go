package transport

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/andreyvit/rawkv/kvpb"
)

// DefaultMaxMessageSize bounds a single encoded request or reply.
const DefaultMaxMessageSize = 64 << 20

var ErrMessageTooLarge = errors.New("transport: message too large")

// reply is what the server writes back on a request stream. Exactly one of
// Resp and Err is set.
type reply struct {
	Resp *kvpb.Response `msgpack:"r,omitempty"`
	Err  *kvpb.Status   `msgpack:"e,omitempty"`
}

// A stream carries one message in each direction; each side closes its write
// half after sending, so messages are delimited by EOF.
func writeMsg(w io.Writer, v any) error {
	enc := msgpack.GetEncoder()
	defer msgpack.PutEncoder(enc)
	enc.Reset(w)
	enc.UseCompactInts(true)
	if err := enc.Encode(v); err != nil {
		return errors.Wrapf(err, "transport: encoding %T", v)
	}
	return nil
}

func readMsg(r io.Reader, v any, maxSize int64) error {
	lr := &limitedReader{r: r, n: maxSize}
	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(lr)
	if err := dec.Decode(v); err != nil {
		if lr.exceeded {
			return errors.Wrapf(ErrMessageTooLarge, "over %d bytes", maxSize)
		}
		return errors.Wrapf(err, "transport: decoding %T", v)
	}
	return nil
}

// limitedReader is io.LimitedReader that remembers hitting the limit.
type limitedReader struct {
	r        io.Reader
	n        int64
	exceeded bool
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		l.exceeded = true
		return 0, io.EOF
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}
