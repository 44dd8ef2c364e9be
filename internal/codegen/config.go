package codegen

import (
	"fmt"
	"os"
	"runtime"

	"github.com/naoina/toml"
	"github.com/pkg/errors"

	"github.com/stackgen-lang/stackgen/internal/storage"
)

// Config controls one Compiler. It is read from TOML:
//
//	workers = 4
//	optimize = true
//	static_calls = "conservative"
//	max_rounds = 8
//	peephole = true
//	deploy = false
//	cache_size = 256
type Config struct {
	// Workers bounds how many functions compile at once.
	Workers  int  `toml:"workers"`
	Optimize bool `toml:"optimize"`
	// StaticCalls is "conservative" or "precise".
	StaticCalls string `toml:"static_calls"`
	MaxRounds   int    `toml:"max_rounds"`
	Peephole    bool   `toml:"peephole"`
	// Deploy wraps the runtime code in a constructor.
	Deploy    bool `toml:"deploy"`
	CacheSize int  `toml:"cache_size"`
}

func DefaultConfig() Config {
	return Config{
		Workers:     runtime.NumCPU(),
		Optimize:    true,
		StaticCalls: "conservative",
		MaxRounds:   8,
		Peephole:    true,
		CacheSize:   256,
	}
}

// ParseConfig decodes TOML on top of the defaults.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parsing config")
	}
	return cfg, cfg.Validate()
}

func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return DefaultConfig(), errors.Wrapf(err, "reading config %s", path)
	}
	return ParseConfig(data)
}

func (c Config) Validate() error {
	if c.Workers < 1 {
		return errors.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if c.MaxRounds < 1 {
		return errors.Errorf("max_rounds must be at least 1, got %d", c.MaxRounds)
	}
	if c.CacheSize < 1 {
		return errors.Errorf("cache_size must be at least 1, got %d", c.CacheSize)
	}
	if _, ok := storage.ParseStaticCallPolicy(c.StaticCalls); !ok {
		return errors.Errorf("static_calls must be \"conservative\" or \"precise\", got %q", c.StaticCalls)
	}
	return nil
}

func (c Config) staticCalls() storage.StaticCallPolicy {
	p, _ := storage.ParseStaticCallPolicy(c.StaticCalls)
	return p
}

// fingerprint covers every option that changes the code of a function.
func (c Config) fingerprint() string {
	return fmt.Sprintf("opt=%t static=%s rounds=%d peep=%t", c.Optimize, c.StaticCalls, c.MaxRounds, c.Peephole)
}
