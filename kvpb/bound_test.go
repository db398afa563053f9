package kvpb

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRange_Contains(t *testing.T) {
	a, b, c, d := []byte("a"), []byte("b"), []byte("c"), []byte("d")

	tests := []struct {
		name string
		rang KeyRange
		in   [][]byte
		out  [][]byte
	}{
		{"full", FullRange(), [][]byte{a, b, d, {}}, nil},
		{"II", RangeII(b, c), [][]byte{b, []byte("bz"), c}, [][]byte{a, d, []byte("c\x00")}},
		{"IE", RangeIE(b, c), [][]byte{b, []byte("bz")}, [][]byte{a, c, d}},
		{"EI", RangeEI(b, c), [][]byte{[]byte("b\x00"), c}, [][]byte{b, d}},
		{"EE", RangeEE(b, d), [][]byte{c}, [][]byte{b, d}},
		{"IO", RangeIO(c), [][]byte{c, d}, [][]byte{a, b}},
		{"EO", RangeEO(c), [][]byte{d}, [][]byte{c, b}},
		{"OI", RangeOI(b), [][]byte{a, b}, [][]byte{c}},
		{"OE", RangeOE(b), [][]byte{a}, [][]byte{b, c}},
		{"inverted", RangeII(d, a), nil, [][]byte{a, b, c, d}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			for _, k := range tc.in {
				assert.True(t, tc.rang.Contains(k), "%v should contain %q", tc.rang, k)
			}
			for _, k := range tc.out {
				assert.False(t, tc.rang.Contains(k), "%v should not contain %q", tc.rang, k)
			}
		})
	}
}

func TestKeyRange_IsEmpty(t *testing.T) {
	a, b := []byte("a"), []byte("b")

	assert.False(t, FullRange().IsEmpty())
	assert.False(t, RangeII(a, a).IsEmpty())
	assert.False(t, RangeIE(a, b).IsEmpty())
	assert.False(t, RangeIO(b).IsEmpty())

	assert.True(t, RangeIE(a, a).IsEmpty())
	assert.True(t, RangeEI(a, a).IsEmpty())
	assert.True(t, RangeEE(a, a).IsEmpty())
	assert.True(t, RangeII(b, a).IsEmpty())
	assert.True(t, RangeOE([]byte{}).IsEmpty())
}

func TestPrefixRange(t *testing.T) {
	r := PrefixRange([]byte{0x10, 0xFF})
	require.Equal(t, BoundIncluded, r.Start.Kind)
	require.Equal(t, BoundExcluded, r.End.Kind)
	assert.Equal(t, []byte{0x11}, r.End.Key)

	assert.True(t, r.Contains([]byte{0x10, 0xFF}))
	assert.True(t, r.Contains([]byte{0x10, 0xFF, 0x00, 0x01}))
	assert.False(t, r.Contains([]byte{0x11}))
	assert.False(t, r.Contains([]byte{0x10, 0xFE}))

	r = PrefixRange([]byte{0xFF, 0xFF})
	assert.Equal(t, BoundUnbounded, r.End.Kind)
	assert.True(t, r.Contains([]byte{0xFF, 0xFF, 0xFF}))

	assert.Equal(t, FullRange(), PrefixRange(nil))
}

func TestPrefixEnd(t *testing.T) {
	end, ok := PrefixEnd([]byte("ab"))
	require.True(t, ok)
	assert.Equal(t, []byte("ac"), end)

	_, ok = PrefixEnd([]byte{0xFF})
	assert.False(t, ok)

	_, ok = PrefixEnd(nil)
	assert.False(t, ok)
}

func TestColumnFamily_OrDefault(t *testing.T) {
	assert.Equal(t, DefaultColumnFamily, ColumnFamily("").OrDefault())
	assert.Equal(t, ColumnFamily("write"), ColumnFamily("write").OrDefault())
	assert.Equal(t, "default", ColumnFamily("").String())
}

func TestKeyFrom_Copies(t *testing.T) {
	src := []byte("abc")
	k := KeyFrom(src)
	src[0] = 'x'
	assert.Equal(t, Key("abc"), k)
	assert.Nil(t, KeyFrom(nil))

	p := NewKvPair(src, src)
	src[1] = 'y'
	assert.Equal(t, Key("xbc"), p.Key)
	assert.Equal(t, Value("xbc"), p.Value)
}
