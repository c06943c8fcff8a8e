package repo

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/odvcencio/vessel/pkg/index"
	"github.com/odvcencio/vessel/pkg/object"
)

// ConfigFile is the repository config, relative to the metadata directory.
const ConfigFile = "config.toml"

// Config stores repository-local settings.
type Config struct {
	Core  CoreConfig  `toml:"core"`
	Index IndexConfig `toml:"index"`
	Pack  PackConfig  `toml:"pack"`
	Refs  RefsConfig  `toml:"refs"`
}

type CoreConfig struct {
	Workers          int `toml:"workers"`           // 0 means GOMAXPROCS
	CompressionLevel int `toml:"compression_level"` // zstd level
	CacheSize        int `toml:"cache_size"`        // decoded objects kept in memory
}

type IndexConfig struct {
	FastThreshold int    `toml:"fast_threshold"`
	Strategy      string `toml:"strategy"`
}

type PackConfig struct {
	Fast       bool   `toml:"fast"`
	Codec      string `toml:"codec"`
	PruneLoose bool   `toml:"prune_loose"`
}

type RefsConfig struct {
	LockTimeout Duration `toml:"lock_timeout"`
}

// Duration is a time.Duration written as a Go duration string ("2s").
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// DefaultConfig returns the settings used when config.toml is missing or
// leaves a key out.
func DefaultConfig() *Config {
	return &Config{
		Core: CoreConfig{
			CompressionLevel: 3,
			CacheSize:        1024,
		},
		Index: IndexConfig{
			FastThreshold: index.DefaultFastThreshold,
			Strategy:      index.StrategyAuto.String(),
		},
		Pack: PackConfig{
			Codec:      object.CodecZstd.String(),
			PruneLoose: true,
		},
		Refs: RefsConfig{
			LockTimeout: Duration{2 * time.Second},
		},
	}
}

// Validate checks value ranges and enum names.
func (c *Config) Validate() error {
	if c.Core.Workers < 0 {
		return fmt.Errorf("core.workers must be >= 0, got %d", c.Core.Workers)
	}
	if c.Core.CompressionLevel < 1 || c.Core.CompressionLevel > 22 {
		return fmt.Errorf("core.compression_level must be in 1..22, got %d", c.Core.CompressionLevel)
	}
	if c.Index.FastThreshold < 1 {
		return fmt.Errorf("index.fast_threshold must be >= 1, got %d", c.Index.FastThreshold)
	}
	if _, err := index.ParseStrategy(c.Index.Strategy); err != nil {
		return fmt.Errorf("index.strategy: %w", err)
	}
	if _, err := object.ParseCodec(c.Pack.Codec); err != nil {
		return fmt.Errorf("pack.codec: %w", err)
	}
	if c.Refs.LockTimeout.Duration <= 0 {
		return fmt.Errorf("refs.lock_timeout must be positive, got %s", c.Refs.LockTimeout)
	}
	return nil
}

func (c *Config) indexOptions() []index.Option {
	// Validate has already accepted the strategy name.
	strategy, _ := index.ParseStrategy(c.Index.Strategy)
	return []index.Option{
		index.WithStrategy(strategy),
		index.WithFastThreshold(c.Index.FastThreshold),
		index.WithWorkers(c.Core.Workers),
	}
}

func (c *Config) consolidateOptions() object.ConsolidateOptions {
	codec, _ := object.ParseCodec(c.Pack.Codec)
	return object.ConsolidateOptions{
		Codec:      codec,
		PruneLoose: c.Pack.PruneLoose,
		Workers:    c.Core.Workers,
	}
}

// ReadConfig reads <metaDir>/config.toml over the defaults. A missing file
// yields the defaults.
func ReadConfig(metaDir string) (*Config, error) {
	cfg := DefaultConfig()
	path := filepath.Join(metaDir, ConfigFile)
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		var perr toml.ParseError
		if errors.As(err, &perr) {
			return nil, fmt.Errorf("read config: %w: %s", object.ErrFormat, perr.ErrorWithPosition())
		}
		return nil, fmt.Errorf("read config: %w: %w", object.ErrFormat, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("read config: %w: unknown key %q", object.ErrFormat, undecoded[0].String())
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("read config: %w: %w", object.ErrFormat, err)
	}
	return cfg, nil
}

// WriteConfig atomically writes <metaDir>/config.toml.
func WriteConfig(metaDir string, cfg *Config) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("write config: %w: %w", object.ErrFormat, err)
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}
	if err := writeFileAtomic(metaDir, ConfigFile, buf.Bytes()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// SaveConfig writes the repository's current config back to disk.
func (r *Repo) SaveConfig() error {
	return WriteConfig(r.MetaDir, r.Config)
}

// writeFileAtomic replaces dir/name through a synced temp file and rename.
func writeFileAtomic(dir, name string, data []byte) error {
	tmp, err := os.CreateTemp(dir, "."+name+"-tmp-*")
	if err != nil {
		return fmt.Errorf("%w: tmpfile: %w", object.ErrIO, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: write: %w", object.ErrIO, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: sync: %w", object.ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: close: %w", object.ErrIO, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %w", object.ErrIO, err)
	}
	return nil
}
