package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tune = "X:1\nT:Test\nM:3/4\nL:1/4\nK:D\nD F A|d3|\n"

func TestConvertOneToStdout(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := convertOne("-", "", "", strings.NewReader(tune), &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "<score-partwise")
	assert.Empty(t, stderr.String())
}

func TestConvertOneWritesIntoOutDir(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "test.abc")
	require.NoError(t, os.WriteFile(src, []byte(tune), 0644))
	out := filepath.Join(dir, "out")

	var stdout, stderr bytes.Buffer
	require.NoError(t, convertOne(src, "midi", out, nil, &stdout, &stderr))
	assert.Empty(t, stdout.String())
	data, err := os.ReadFile(filepath.Join(out, "test.mid"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("MThd")))
}

func TestConvertOnePrintsDiagnostics(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := convertOne("-", "musicxml", "", strings.NewReader("X:1\nM:3/4\nL:1/4\nK:C\nC D E|F G|A B c|\n"), &stdout, &stderr)
	require.NoError(t, err)
	assert.Contains(t, stderr.String(), "measure duration mismatch")
}

func TestConvertOneRejectsUnknownFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	err := convertOne("-", "pdf", "", strings.NewReader(tune), &stdout, &stderr)
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, inspect(&out, "-", strings.NewReader(tune)))
	assert.Contains(t, out.String(), "title: Test")
	assert.Contains(t, out.String(), "voice 1: 2 measures, 4 notes")
	assert.Contains(t, out.String(), "notes: 4\n")
}

func TestWithin(t *testing.T) {
	tests := []struct {
		path, dir string
		expected  bool
	}{
		{"out/a.abc", "out", true},
		{"out/sub/a.abc", "./out", true},
		{"src/a.abc", "out", false},
		{"outside.abc", "out", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, within(tt.path, tt.dir), tt.path)
	}
}

func TestPendingDrainsSorted(t *testing.T) {
	p := &pending{paths: make(map[string]bool)}
	p.add("b.abc")
	p.add("a.abc")
	p.add("b.abc")
	assert.Equal(t, []string{"a.abc", "b.abc"}, p.drain())
	assert.Empty(t, p.drain())
}
