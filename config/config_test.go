package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Equal("./out", cfg.OutputDir)
	assert.Equal("info", cfg.LogLevel)
	assert.Equal(":8080", cfg.Addr)
	assert.Equal(500*time.Millisecond, cfg.Debounce)
	assert.False(cfg.Strict)
	assert.Positive(cfg.Workers)
	assert.Zero(cfg.MaxFiles)
}

func TestLayering(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "abcxml.yaml")
	require.NoError(t, os.WriteFile(path, []byte("output_dir: from-file\nworkers: 3\ndebounce: 2s\nstrict: true\n"), 0644))
	t.Setenv("ABCXML_WORKERS", "5")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("output-dir", "", "")
	flags.Int("max-files", 0, "")
	require.NoError(t, flags.Parse([]string{"--output-dir", "from-flag"}))

	cfg, err := Load(path, flags)
	require.NoError(t, err)

	assert := assert.New(t)
	assert.Equal("from-flag", cfg.OutputDir)
	assert.Equal(5, cfg.Workers)
	assert.Equal(2*time.Second, cfg.Debounce)
	assert.True(cfg.Strict)
	assert.Zero(cfg.MaxFiles)
}

func TestMissingExplicitFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"max files", func(c *Config) { c.MaxFiles = -1 }},
		{"debounce", func(c *Config) { c.Debounce = -time.Second }},
		{"output dir", func(c *Config) { c.OutputDir = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			assert.NoError(t, cfg.Validate())
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
