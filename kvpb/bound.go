package kvpb

import (
	"bytes"
	"fmt"
)

type BoundKind uint8

const (
	BoundUnbounded BoundKind = iota
	BoundIncluded
	BoundExcluded
)

func (k BoundKind) String() string {
	switch k {
	case BoundUnbounded:
		return "unbounded"
	case BoundIncluded:
		return "included"
	case BoundExcluded:
		return "excluded"
	default:
		return fmt.Sprintf("BoundKind(%d)", uint8(k))
	}
}

// Bound is one side of a key range.
type Bound struct {
	Kind BoundKind `msgpack:"t"`
	Key  []byte    `msgpack:"k"`
}

func Unbounded() Bound         { return Bound{Kind: BoundUnbounded} }
func Inclusive(k []byte) Bound { return Bound{Kind: BoundIncluded, Key: k} }
func Exclusive(k []byte) Bound { return Bound{Kind: BoundExcluded, Key: k} }

func (b Bound) IsUnbounded() bool { return b.Kind == BoundUnbounded }

func (b Bound) String() string {
	switch b.Kind {
	case BoundIncluded:
		return "[" + hexstr(b.Key)
	case BoundExcluded:
		return "(" + hexstr(b.Key)
	default:
		return "∞"
	}
}

// KeyRange is a bound pair. The constructors use mnemonics: O means open,
// I means inclusive, E means exclusive; the first letter is for the start
// bound, the second for the end bound.
//
// The relationship between Start and End is not checked here. A range whose
// start lies past its end is simply empty.
type KeyRange struct {
	Start Bound `msgpack:"s"`
	End   Bound `msgpack:"e"`
}

func FullRange() KeyRange          { return KeyRange{} }
func RangeOO() KeyRange            { return KeyRange{} }
func RangeIO(s []byte) KeyRange    { return KeyRange{Start: Inclusive(s)} }
func RangeEO(s []byte) KeyRange    { return KeyRange{Start: Exclusive(s)} }
func RangeOI(e []byte) KeyRange    { return KeyRange{End: Inclusive(e)} }
func RangeOE(e []byte) KeyRange    { return KeyRange{End: Exclusive(e)} }
func RangeII(s, e []byte) KeyRange { return KeyRange{Start: Inclusive(s), End: Inclusive(e)} }
func RangeIE(s, e []byte) KeyRange { return KeyRange{Start: Inclusive(s), End: Exclusive(e)} }
func RangeEI(s, e []byte) KeyRange { return KeyRange{Start: Exclusive(s), End: Inclusive(e)} }
func RangeEE(s, e []byte) KeyRange { return KeyRange{Start: Exclusive(s), End: Exclusive(e)} }
func NewRange(s, e Bound) KeyRange { return KeyRange{Start: s, End: e} }

func (r KeyRange) WithStart(s Bound) KeyRange { r.Start = s; return r }
func (r KeyRange) WithEnd(e Bound) KeyRange   { r.End = e; return r }

// PrefixRange covers every key starting with p.
func PrefixRange(p []byte) KeyRange {
	if len(p) == 0 {
		return FullRange()
	}
	upper, ok := PrefixEnd(p)
	if !ok {
		return RangeIO(p)
	}
	return RangeIE(p, upper)
}

// Contains reports whether k lies inside the range.
func (r KeyRange) Contains(k []byte) bool {
	return r.AfterStart(k) && r.BeforeEnd(k)
}

// AfterStart reports whether k satisfies the start bound.
func (r KeyRange) AfterStart(k []byte) bool {
	switch r.Start.Kind {
	case BoundIncluded:
		return bytes.Compare(k, r.Start.Key) >= 0
	case BoundExcluded:
		return bytes.Compare(k, r.Start.Key) > 0
	default:
		return true
	}
}

// BeforeEnd reports whether k satisfies the end bound.
func (r KeyRange) BeforeEnd(k []byte) bool {
	switch r.End.Kind {
	case BoundIncluded:
		return bytes.Compare(k, r.End.Key) <= 0
	case BoundExcluded:
		return bytes.Compare(k, r.End.Key) < 0
	default:
		return true
	}
}

// IsEmpty reports whether no key can possibly satisfy both bounds.
func (r KeyRange) IsEmpty() bool {
	if r.Start.Kind == BoundUnbounded || r.End.Kind == BoundUnbounded {
		if r.End.Kind == BoundExcluded && len(r.End.Key) == 0 {
			return true // nothing sorts before the empty key
		}
		return false
	}
	cmp := bytes.Compare(r.Start.Key, r.End.Key)
	if cmp > 0 {
		return true
	}
	if cmp == 0 {
		return r.Start.Kind == BoundExcluded || r.End.Kind == BoundExcluded
	}
	return false
}

func (r KeyRange) String() string {
	var end string
	switch r.End.Kind {
	case BoundIncluded:
		end = hexstr(r.End.Key) + "]"
	case BoundExcluded:
		end = hexstr(r.End.Key) + ")"
	default:
		end = "∞"
	}
	return r.Start.String() + ".." + end
}

// PrefixEnd returns the smallest key that sorts after every key starting with
// p. Returns false when no such key exists (p is empty or all 0xFF).
func PrefixEnd(p []byte) ([]byte, bool) {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] != 0xFF {
			end := append([]byte(nil), p[:i+1]...)
			end[i]++
			return end, true
		}
	}
	return nil, false
}
