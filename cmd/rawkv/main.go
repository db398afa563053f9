// Command rawkv issues raw key-value requests from the command line.
//
//	rawkv --endpoints kv1:7450 put greeting hello
//	rawkv --endpoints kv1:7450 scan --start a --end b --reverse
//	rawkv --endpoints bolt:///tmp/kv.db stats
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/andreyvit/rawkv"
	"github.com/andreyvit/rawkv/log"
)

type globalFlags struct {
	endpoints []string
	cf        string
	insecure  bool
	timeout   time.Duration
	hex       bool
	logLevel  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:          "rawkv",
		Short:        "raw key-value client",
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringSliceVar(&g.endpoints, "endpoints", []string{"127.0.0.1:7450"}, "endpoints to connect to; several form a cluster")
	pf.StringVar(&g.cf, "cf", "", "column family (default \"default\")")
	pf.BoolVar(&g.insecure, "insecure", false, "skip server certificate verification")
	pf.DurationVar(&g.timeout, "timeout", 10*time.Second, "per-request timeout")
	pf.BoolVar(&g.hex, "hex", false, "keys and values are hex on input and output")
	pf.StringVar(&g.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		newGetCmd(g),
		newBatchGetCmd(g),
		newPutCmd(g),
		newDeleteCmd(g),
		newScanCmd(g),
		newDeleteRangeCmd(g),
		newStatsCmd(g),
	)
	return root
}

func (g *globalFlags) connect(ctx context.Context) (*rawkv.Client, error) {
	level, err := log.ParseLevel(g.logLevel)
	if err != nil {
		return nil, errors.Wrap(err, "--log-level")
	}
	logger := log.New(log.Options{Level: level})
	return rawkv.Connect(ctx, rawkv.Config{
		Endpoints:          g.endpoints,
		DialTimeout:        g.timeout,
		RequestTimeout:     g.timeout,
		InsecureSkipVerify: g.insecure,
		Logger:             logger,
	})
}

// withClient connects, runs f and closes the client.
func (g *globalFlags) withClient(cmd *cobra.Command, f func(ctx context.Context, c *rawkv.Client) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := g.connect(ctx)
	if err != nil {
		return err
	}
	defer c.Close()
	return f(ctx, c)
}

func (g *globalFlags) columnFamily() rawkv.ColumnFamily {
	return rawkv.ColumnFamily(g.cf)
}

func (g *globalFlags) decode(s string) ([]byte, error) {
	if !g.hex {
		return []byte(s), nil
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "decoding %q", s)
	}
	return b, nil
}

func (g *globalFlags) decodeAll(args []string) ([][]byte, error) {
	out := make([][]byte, len(args))
	for i, a := range args {
		b, err := g.decode(a)
		if err != nil {
			return nil, err
		}
		out[i] = b
	}
	return out, nil
}

func (g *globalFlags) format(b []byte) string {
	if g.hex {
		return hex.EncodeToString(b)
	}
	return string(b)
}

func (g *globalFlags) printPairs(w io.Writer, pairs []rawkv.KvPair, keyOnly bool) {
	for _, p := range pairs {
		if keyOnly {
			fmt.Fprintln(w, g.format(p.Key))
		} else {
			fmt.Fprintf(w, "%s\t%s\n", g.format(p.Key), g.format(p.Value))
		}
	}
}
