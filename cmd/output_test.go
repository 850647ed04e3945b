package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/dealradar/internal/model"
)

func TestWriteJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.json")
	listing := model.RawListing{AdID: "A1", Title: "ThinkPad <T14>", Images: []string{}}

	require.NoError(t, writeJSONFile(path, listing))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ThinkPad <T14>")

	var got model.RawListing
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "A1", got.AdID)
}

func TestWriteJSONFile_BadPath(t *testing.T) {
	err := writeJSONFile(filepath.Join(t.TempDir(), "missing", "out.json"), 1)
	assert.Error(t, err)
}

func TestFormatStats(t *testing.T) {
	avg := 6.25
	var buf bytes.Buffer
	formatStats(&buf, &model.Stats{TotalPosts: 10, EvaluatedPosts: 8, HighValueDeals: 2, AvgScore: &avg}, 8)
	out := buf.String()
	assert.Contains(t, out, "Total posts:")
	assert.Contains(t, out, "High-value deals (>= 8.0):")
	assert.Contains(t, out, "6.25")

	buf.Reset()
	formatStats(&buf, &model.Stats{}, 8)
	assert.Contains(t, buf.String(), "Average score:")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
	assert.Equal(t, "åäöå…", truncate("åäöåäö", 5))
}
