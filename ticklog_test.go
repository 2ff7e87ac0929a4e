package voxgrid

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTickStatsWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	w := NewTickStatsWriter(dir, "physics")

	for i := 0; i < 3; i++ {
		require.NoError(t, w.Write(TickStats{
			Tick:       uint64(i),
			SubSteps:   1,
			Bodies:     i + 2,
			GridsAwake: 1,
			DurationUs: int64(100 * i),
		}))
	}
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	name := entries[0].Name()
	assert.True(t, strings.HasPrefix(name, "physics-"), "file name %q", name)
	assert.True(t, strings.HasSuffix(name, ".jsonl.zst"), "file name %q", name)

	f, err := os.Open(filepath.Join(dir, name))
	require.NoError(t, err)
	defer f.Close()
	dec, err := zstd.NewReader(f)
	require.NoError(t, err)
	defer dec.Close()

	var got []TickStats
	sc := bufio.NewScanner(dec)
	for sc.Scan() {
		var s TickStats
		require.NoError(t, json.Unmarshal(sc.Bytes(), &s))
		got = append(got, s)
	}
	require.NoError(t, sc.Err())

	require.Len(t, got, 3)
	assert.Equal(t, uint64(2), got[2].Tick)
	assert.Equal(t, 4, got[2].Bodies)
	assert.Equal(t, int64(200), got[2].DurationUs)
}

func TestTickStatsWriterNilSafe(t *testing.T) {
	var w *TickStatsWriter
	assert.NoError(t, w.Write(TickStats{Tick: 1}))
	assert.NoError(t, w.Close())
}

func TestTickStatsWriterCloseIdempotent(t *testing.T) {
	w := NewTickStatsWriter(t.TempDir(), "physics")
	require.NoError(t, w.Write(TickStats{Tick: 1}))
	require.NoError(t, w.Close())
	assert.NoError(t, w.Close())
}
