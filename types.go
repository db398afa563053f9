package rawkv

import "github.com/andreyvit/rawkv/kvpb"

type (
	Key          = kvpb.Key
	Value        = kvpb.Value
	KvPair       = kvpb.KvPair
	ColumnFamily = kvpb.ColumnFamily
	Bound        = kvpb.Bound
	KeyRange     = kvpb.KeyRange
	Dispatcher   = kvpb.Dispatcher
	BatchError   = kvpb.BatchError
)

// NoLimit is the default scan limit.
const NoLimit = kvpb.NoLimit

const (
	DefaultColumnFamily = kvpb.DefaultColumnFamily
	WriteColumnFamily   = kvpb.WriteColumnFamily
	LockColumnFamily    = kvpb.LockColumnFamily
)

var (
	NewKvPair = kvpb.NewKvPair

	Unbounded = kvpb.Unbounded
	Inclusive = kvpb.Inclusive
	Exclusive = kvpb.Exclusive

	FullRange   = kvpb.FullRange
	PrefixRange = kvpb.PrefixRange
	NewRange    = kvpb.NewRange
	RangeOO     = kvpb.RangeOO
	RangeIO     = kvpb.RangeIO
	RangeEO     = kvpb.RangeEO
	RangeOI     = kvpb.RangeOI
	RangeOE     = kvpb.RangeOE
	RangeII     = kvpb.RangeII
	RangeIE     = kvpb.RangeIE
	RangeEI     = kvpb.RangeEI
	RangeEE     = kvpb.RangeEE
)
