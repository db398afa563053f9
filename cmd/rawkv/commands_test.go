package main

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andreyvit/rawkv"
)

type cli struct {
	t        *testing.T
	endpoint string
}

func newCLI(t *testing.T) *cli {
	return &cli{t: t, endpoint: "bolt://" + filepath.Join(t.TempDir(), "kv.db")}
}

func (c *cli) run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--endpoints", c.endpoint, "--log-level", "disabled"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func (c *cli) must(args ...string) string {
	c.t.Helper()
	out, err := c.run(args...)
	require.NoError(c.t, err, "rawkv %v", args)
	return out
}

func TestCLI_PutGetDelete(t *testing.T) {
	c := newCLI(t)
	c.must("put", "a", "1")
	c.must("put", "b", "2", "c", "3")

	assert.Equal(t, "1\n", c.must("get", "a"))
	assert.Equal(t, "c\t3\na\t1\n", c.must("batch-get", "c", "x", "a"))

	c.must("delete", "a", "never")
	_, err := c.run("get", "a")
	assert.ErrorIs(t, err, rawkv.ErrNotFound)
}

func TestCLI_ColumnFamily(t *testing.T) {
	c := newCLI(t)
	c.must("--cf", "write", "put", "k", "w")

	_, err := c.run("get", "k")
	assert.ErrorIs(t, err, rawkv.ErrNotFound)
	assert.Equal(t, "w\n", c.must("--cf", "write", "get", "k"))

	_, err = c.run("--cf", "bogus", "get", "k")
	assert.ErrorIs(t, err, rawkv.ErrUnknownColumnFamily)
}

func TestCLI_Scan(t *testing.T) {
	c := newCLI(t)
	c.must("put", "a", "1", "b", "2", "c", "3", "d", "4")

	assert.Equal(t, "a\t1\nb\t2\nc\t3\nd\t4\n", c.must("scan"))
	assert.Equal(t, "b\t2\nc\t3\n", c.must("scan", "--start", "b", "--end", "d"))
	assert.Equal(t, "c\nd\n", c.must("scan", "--start", "b", "--start-exclusive", "--end", "d", "--end-inclusive", "--key-only"))
	assert.Equal(t, "d\t4\nc\t3\n", c.must("scan", "--reverse", "--limit", "2"))
	assert.Equal(t, "c\t3\n", c.must("scan", "--prefix", "c"))

	_, err := c.run("scan", "--prefix", "c", "--start", "a")
	assert.Error(t, err)
}

func TestCLI_DeleteRange(t *testing.T) {
	c := newCLI(t)
	c.must("put", "a", "1", "b", "2", "c", "3")

	_, err := c.run("delete-range")
	assert.Error(t, err, "unbounded delete needs --all")

	c.must("delete-range", "--start", "a", "--end", "c")
	assert.Equal(t, "c\n", c.must("scan", "--key-only"))

	c.must("delete-range", "--all")
	assert.Equal(t, "", c.must("scan"))
}

func TestCLI_Hex(t *testing.T) {
	c := newCLI(t)
	c.must("--hex", "put", "00ff", "")
	assert.Equal(t, "00ff\t\n", c.must("--hex", "scan"))

	_, err := c.run("--hex", "get", "zz")
	assert.Error(t, err)
}

func TestCLI_Stats(t *testing.T) {
	c := newCLI(t)
	c.must("put", "a", "1", "b", "2")
	c.must("--cf", "lock", "put", "l", "x")

	assert.Equal(t, "engine\tbolt\ndefault\t2\nwrite\t0\nlock\t1\n", c.must("stats"))
}

func TestCLI_StatsNeedsLocalStore(t *testing.T) {
	c := &cli{t: t, endpoint: "mem://,mem://"}
	_, err := c.run("stats")
	assert.Error(t, err)
}
