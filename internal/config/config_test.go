package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 21, cfg.Kmer.K)
	assert.Equal(t, 15*time.Second, cfg.Server.ReadTimeout.Duration)
}

func TestLoadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "kmerflow.toml")
	data := `
[kmer]
k = 5
chunk-size = 16

[server]
port = 9000
read-timeout = "2s"

[log]
level = "debug"
format = "json"
`
	require.NoError(t, os.WriteFile(file, []byte(data), 0o644))

	cfg, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Kmer.K)
	assert.Equal(t, 16, cfg.Kmer.ChunkSize)
	assert.Equal(t, 4, cfg.Kmer.Partitions)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.ReadTimeout.Duration)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 16, cfg.Shard().ChunkSize)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	assert.Error(t, err)
}

func TestWriteThenLoad(t *testing.T) {
	file := filepath.Join(t.TempDir(), "out.toml")
	cfg := Default()
	cfg.Kmer.K = 9
	cfg.Server.IdleTimeout = Duration{time.Minute}
	require.NoError(t, Write(file, cfg))

	back, err := Load(file)
	require.NoError(t, err)
	assert.Equal(t, cfg, back)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"k zero", func(c *Config) { c.Kmer.K = 0 }},
		{"chunk size", func(c *Config) { c.Kmer.ChunkSize = 0 }},
		{"workers", func(c *Config) { c.Kmer.Workers = -1 }},
		{"partitions", func(c *Config) { c.Kmer.Partitions = 0 }},
		{"port", func(c *Config) { c.Server.Port = 70000 }},
		{"body", func(c *Config) { c.Server.MaxBodyBytes = 0 }},
		{"format", func(c *Config) { c.Log.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestBadFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(file, []byte("[kmer]\nk = \"x\"\n"), 0o644))
	_, err := Load(file)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(file, []byte("[server]\nread-timeout = \"soon\"\n"), 0o644))
	_, err = Load(file)
	assert.Error(t, err)
}
