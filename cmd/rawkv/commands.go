package main

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/andreyvit/rawkv"
	"github.com/andreyvit/rawkv/store"
)

func newGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <key>",
		Short: "print the value of a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := g.decode(args[0])
			if err != nil {
				return err
			}
			return g.withClient(cmd, func(ctx context.Context, c *rawkv.Client) error {
				v, err := c.Get(key).CF(g.columnFamily()).Exec(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), g.format(v))
				return nil
			})
		},
	}
}

func newBatchGetCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "batch-get <key>...",
		Short: "print the keys that exist, with their values",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := g.decodeAll(args)
			if err != nil {
				return err
			}
			return g.withClient(cmd, func(ctx context.Context, c *rawkv.Client) error {
				pairs, err := c.BatchGet(keys...).CF(g.columnFamily()).Exec(ctx)
				if err != nil {
					return err
				}
				g.printPairs(cmd.OutOrStdout(), pairs, false)
				return nil
			})
		},
	}
}

func newPutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <value> [<key> <value>]...",
		Short: "store one or more key/value pairs",
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 || len(args)%2 != 0 {
				return errors.New("want key/value pairs")
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := g.decodeAll(args)
			if err != nil {
				return err
			}
			return g.withClient(cmd, func(ctx context.Context, c *rawkv.Client) error {
				if len(raw) == 2 {
					return c.Put(raw[0], raw[1]).CF(g.columnFamily()).Exec(ctx)
				}
				pairs := make([]rawkv.KvPair, 0, len(raw)/2)
				for i := 0; i < len(raw); i += 2 {
					pairs = append(pairs, rawkv.NewKvPair(raw[i], raw[i+1]))
				}
				return c.BatchPut(pairs...).CF(g.columnFamily()).Exec(ctx)
			})
		},
	}
}

func newDeleteCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>...",
		Short: "delete keys; missing keys are ignored",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			keys, err := g.decodeAll(args)
			if err != nil {
				return err
			}
			return g.withClient(cmd, func(ctx context.Context, c *rawkv.Client) error {
				if len(keys) == 1 {
					return c.Delete(keys[0]).CF(g.columnFamily()).Exec(ctx)
				}
				return c.BatchDelete(keys...).CF(g.columnFamily()).Exec(ctx)
			})
		},
	}
}

type rangeFlags struct {
	start, end     string
	prefix         string
	startExclusive bool
	endInclusive   bool
}

func (f *rangeFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.start, "start", "", "start key, inclusive unless --start-exclusive (unbounded when empty)")
	fl.StringVar(&f.end, "end", "", "end key, exclusive unless --end-inclusive (unbounded when empty)")
	fl.StringVar(&f.prefix, "prefix", "", "select keys with this prefix instead of --start/--end")
	fl.BoolVar(&f.startExclusive, "start-exclusive", false, "exclude the start key")
	fl.BoolVar(&f.endInclusive, "end-inclusive", false, "include the end key")
}

func (f *rangeFlags) keyRange(g *globalFlags) (rawkv.KeyRange, error) {
	if f.prefix != "" {
		if f.start != "" || f.end != "" {
			return rawkv.KeyRange{}, errors.New("--prefix cannot be combined with --start or --end")
		}
		p, err := g.decode(f.prefix)
		if err != nil {
			return rawkv.KeyRange{}, err
		}
		return rawkv.PrefixRange(p), nil
	}

	var r rawkv.KeyRange
	if f.start != "" {
		k, err := g.decode(f.start)
		if err != nil {
			return r, err
		}
		if f.startExclusive {
			r.Start = rawkv.Exclusive(k)
		} else {
			r.Start = rawkv.Inclusive(k)
		}
	}
	if f.end != "" {
		k, err := g.decode(f.end)
		if err != nil {
			return r, err
		}
		if f.endInclusive {
			r.End = rawkv.Inclusive(k)
		} else {
			r.End = rawkv.Exclusive(k)
		}
	}
	return r, nil
}

func newScanCmd(g *globalFlags) *cobra.Command {
	var rf rangeFlags
	var limit uint32
	var keyOnly, reverse bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "list the pairs inside a key range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.keyRange(g)
			if err != nil {
				return err
			}
			return g.withClient(cmd, func(ctx context.Context, c *rawkv.Client) error {
				req := c.Scan(r, limit).CF(g.columnFamily())
				if keyOnly {
					req.KeyOnly()
				}
				if reverse {
					req.Reverse()
				}
				pairs, err := req.Exec(ctx)
				if err != nil {
					return err
				}
				g.printPairs(cmd.OutOrStdout(), pairs, keyOnly)
				return nil
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().Uint32Var(&limit, "limit", rawkv.NoLimit, "maximum number of pairs")
	cmd.Flags().BoolVar(&keyOnly, "key-only", false, "print keys only")
	cmd.Flags().BoolVar(&reverse, "reverse", false, "descending key order")
	return cmd
}

func newDeleteRangeCmd(g *globalFlags) *cobra.Command {
	var rf rangeFlags
	var all bool
	cmd := &cobra.Command{
		Use:   "delete-range",
		Short: "delete every key inside a key range",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rf.keyRange(g)
			if err != nil {
				return err
			}
			if r.Start.IsUnbounded() && r.End.IsUnbounded() && !all {
				return errors.New("refusing to delete the whole column family without --all")
			}
			return g.withClient(cmd, func(ctx context.Context, c *rawkv.Client) error {
				return c.DeleteRange(r).CF(g.columnFamily()).Exec(ctx)
			})
		},
	}
	rf.register(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "allow an unbounded range")
	return cmd
}

func newStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "print key counts per column family of a local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withClient(cmd, func(ctx context.Context, c *rawkv.Client) error {
				s, ok := c.Dispatcher().(*store.Store)
				if !ok {
					return errors.New("stats needs a single local endpoint (mem://, bolt:// or pebble://)")
				}
				w := cmd.OutOrStdout()
				fmt.Fprintf(w, "engine\t%s\n", s.Engine())
				for _, cf := range s.ColumnFamilies() {
					n, err := s.Stats(cf)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%d\n", cf, n)
				}
				return nil
			})
		},
	}
}
