// Package config loads kmerflow settings from a TOML file.
package config

import (
	"os"
	"runtime"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/shenwei356/util/pathutil"

	"github.com/aria-lang/kmerflow/internal/kmer"
	"github.com/aria-lang/kmerflow/internal/shard"
)

// FileName is the config file looked up when no path is given.
const FileName = "kmerflow.toml"

// Config holds every tunable of the CLI and the server.
type Config struct {
	Kmer   Kmer   `toml:"kmer" comment:"Counting"`
	Server Server `toml:"server" comment:"HTTP server"`
	Log    Log    `toml:"log" comment:"Logging"`
}

// Kmer configures counting.
type Kmer struct {
	K          int `toml:"k"`
	ChunkSize  int `toml:"chunk-size"`
	Workers    int `toml:"workers"`
	Partitions int `toml:"partitions"`
}

// Server configures the HTTP server.
type Server struct {
	Host         string   `toml:"host"`
	Port         int      `toml:"port"`
	ReadTimeout  Duration `toml:"read-timeout"`
	WriteTimeout Duration `toml:"write-timeout"`
	IdleTimeout  Duration `toml:"idle-timeout"`
	MaxBodyBytes int64    `toml:"max-body-bytes"`
}

// Log configures logrus.
type Log struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a string such as "15s".
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Kmer: Kmer{
			K:          21,
			ChunkSize:  shard.DefaultChunkSize,
			Workers:    runtime.GOMAXPROCS(0),
			Partitions: 4,
		},
		Server: Server{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  Duration{15 * time.Second},
			WriteTimeout: Duration{60 * time.Second},
			IdleTimeout:  Duration{60 * time.Second},
			MaxBodyBytes: 64 << 20,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads file on top of the defaults. An empty file name falls back to
// FileName in the working directory, and a missing default file is not an
// error.
func Load(file string) (*Config, error) {
	cfg := Default()

	explicit := file != ""
	if !explicit {
		file = FileName
	}
	existed, err := pathutil.Exists(file)
	if err != nil {
		return nil, errors.Wrapf(err, "check config file: %s", file)
	}
	if !existed {
		if explicit {
			return nil, errors.Errorf("config file not found: %s", file)
		}
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrapf(err, "read config file: %s", file)
	}
	if err = toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrapf(err, "parse config file: %s", file)
	}
	return cfg, cfg.Validate()
}

// Write saves cfg to file.
func Write(file string, cfg *Config) error {
	data, err := toml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "encode config")
	}
	return errors.Wrapf(os.WriteFile(file, data, 0o644), "write config file: %s", file)
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if err := kmer.ValidateK(c.Kmer.K); err != nil {
		return errors.Wrap(err, "kmer.k")
	}
	if c.Kmer.ChunkSize < 1 {
		return errors.Errorf("kmer.chunk-size must be positive, got %d", c.Kmer.ChunkSize)
	}
	if c.Kmer.Workers < 1 {
		return errors.Errorf("kmer.workers must be positive, got %d", c.Kmer.Workers)
	}
	if c.Kmer.Partitions < 1 {
		return errors.Errorf("kmer.partitions must be positive, got %d", c.Kmer.Partitions)
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return errors.Errorf("server.port out of range: %d", c.Server.Port)
	}
	if c.Server.MaxBodyBytes < 1 {
		return errors.Errorf("server.max-body-bytes must be positive, got %d", c.Server.MaxBodyBytes)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}

// Shard returns the bulk counting configuration.
func (c *Config) Shard() shard.Config {
	return shard.Config{ChunkSize: c.Kmer.ChunkSize, Workers: c.Kmer.Workers}
}
