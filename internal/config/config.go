// Package config loads the shared TOML configuration both binaries
// read; individual flags override file values.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config carries the settings shared by mailsift-fetch and
// mailsift-process.
type Config struct {
	AuthDir     string `toml:"auth_dir"`     // gmailctl credential directory
	Database    string `toml:"database"`     // sqlite mirror path
	RPS         int    `toml:"rps"`          // remote requests per second
	PageSize    int    `toml:"page_size"`    // Gmail list page size
	BatchSize   int    `toml:"batch_size"`   // store batch size for processing
	MaxAttempts int    `toml:"max_attempts"` // remote mutation attempts
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		AuthDir:     os.ExpandEnv("$HOME/.gmailctl"),
		Database:    "mailsift.db",
		RPS:         4,
		PageSize:    50,
		BatchSize:   50,
		MaxAttempts: 3,
	}
}

// Load reads a TOML config file over the defaults. A missing file is
// fine when explicit is false (the operator never asked for one).
func Load(path string, explicit bool) (Config, error) {
	cfg := Default()
	meta, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		if os.IsNotExist(err) && !explicit {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("config %s: unknown key %q", path, undecoded[0].String())
	}
	return cfg, nil
}
