package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: zerolog.InfoLevel, Format: JSONFormat, Out: &buf})

	sl := Component(l, "store")
	sl.Debug().Msg("hidden")
	sl.Info().Str("cf", "default").Msg("opened")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "store", entry["component"])
	assert.Equal(t, "opened", entry["message"])
	assert.Equal(t, "default", entry["cf"])
	assert.Contains(t, entry, "time")
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: zerolog.DebugLevel, Out: &buf})
	l.Debug().Str("op", "Get").Msg("dispatch")

	assert.Contains(t, buf.String(), "DEBUG")
	assert.Contains(t, buf.String(), "op=Get")
	assert.Contains(t, buf.String(), "dispatch")
}

func TestParse(t *testing.T) {
	f, err := ParseFormat("JSON")
	require.NoError(t, err)
	assert.Equal(t, JSONFormat, f)

	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, ConsoleFormat, f)

	_, err = ParseFormat("xml")
	assert.Error(t, err)

	lvl, err := ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	lvl, err = ParseLevel("warn")
	require.NoError(t, err)
	assert.Equal(t, zerolog.WarnLevel, lvl)
}
