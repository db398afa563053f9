package store

import (
	"bytes"

	"github.com/rs/zerolog"

	"github.com/andreyvit/rawkv/kvpb"
)

const (
	debugLogRawScans = false
)

// rangeCursor walks the keys of a bucket that fall inside a bound pair, in
// ascending or descending order, stopping after limit entries.
type rangeCursor struct {
	rang    kvpb.KeyRange
	reverse bool
	limit   uint32
	bcur    storageCursor
	logger  zerolog.Logger
	k, v    []byte
	n       uint32
	init    bool
}

func newRangeCursor(bcur storageCursor, rang kvpb.KeyRange, reverse bool, limit uint32, logger zerolog.Logger) *rangeCursor {
	return &rangeCursor{rang: rang, reverse: reverse, limit: limit, bcur: bcur, logger: logger}
}

func (c *rangeCursor) Next() bool {
	if c.n >= c.limit {
		c.k, c.v = nil, nil
		return false
	}
	if c.init {
		c.k, c.v = c.next()
	} else {
		c.init = true
		c.k, c.v = c.start()
	}
	if c.k == nil {
		return false
	}
	c.n++
	return true
}

func (c *rangeCursor) Key() []byte   { return c.k }
func (c *rangeCursor) Value() []byte { return c.v }

func (c *rangeCursor) start() ([]byte, []byte) {
	if c.rang.IsEmpty() {
		return nil, nil
	}
	var k, v []byte
	if c.reverse {
		end := c.rang.End
		switch end.Kind {
		case kvpb.BoundUnbounded:
			k, v = c.bcur.Last()
		default:
			k, v = c.bcur.SeekLast(end.Key)
			if end.Kind == kvpb.BoundExcluded && k != nil && bytes.Equal(k, end.Key) {
				if debugLogRawScans {
					c.logger.Debug().Hex("key", k).Msg("SKIP_INITIAL")
				}
				k, v = c.bcur.Prev()
			}
		}
	} else {
		start := c.rang.Start
		switch start.Kind {
		case kvpb.BoundUnbounded:
			k, v = c.bcur.First()
		default:
			k, v = c.bcur.Seek(start.Key)
			if start.Kind == kvpb.BoundExcluded && k != nil && bytes.Equal(k, start.Key) {
				if debugLogRawScans {
					c.logger.Debug().Hex("key", k).Msg("SKIP_INITIAL")
				}
				k, v = c.bcur.Next()
			}
		}
	}
	if debugLogRawScans {
		c.logger.Debug().Bool("reverse", c.reverse).Stringer("range", c.rang).Hex("key", k).Msg("START")
	}
	return c.match(k, v)
}

func (c *rangeCursor) next() ([]byte, []byte) {
	var k, v []byte
	if c.reverse {
		k, v = c.bcur.Prev()
	} else {
		k, v = c.bcur.Next()
	}
	if debugLogRawScans {
		c.logger.Debug().Bool("reverse", c.reverse).Hex("key", k).Msg("ADVANCE")
	}
	return c.match(k, v)
}

// match checks the far bound; the near one is handled by positioning.
func (c *rangeCursor) match(k, v []byte) ([]byte, []byte) {
	if k == nil {
		return nil, nil
	}
	var ok bool
	if c.reverse {
		ok = c.rang.AfterStart(k)
	} else {
		ok = c.rang.BeforeEnd(k)
	}
	if !ok {
		if debugLogRawScans {
			c.logger.Debug().Hex("key", k).Msg("BAIL on far bound")
		}
		return nil, nil
	}
	return k, v
}
