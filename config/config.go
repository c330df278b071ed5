// Package config loads the notepad server configuration from an optional
// TOML file. Command-line flags are applied on top by main.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/pelletier/go-toml/v2"
)

// Backend names.
const (
	BackendFile      = "file"
	BackendMemory    = "memory"
	BackendFirestore = "firestore"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all server settings.
type Config struct {
	Addr            string    `toml:"addr"`
	Backend         string    `toml:"backend"`
	DataDir         string    `toml:"data_dir"`
	Ext             string    `toml:"ext"`
	StaticDir       string    `toml:"static_dir"`
	UserHeader      string    `toml:"user_header"`
	MaxContentBytes int64     `toml:"max_content_bytes"`
	Firestore       Firestore `toml:"firestore"`
}

// Firestore configures the Firestore backend.
type Firestore struct {
	Project    string `toml:"project"`
	Collection string `toml:"collection"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Addr:            ":8080",
		Backend:         BackendFile,
		DataDir:         "user_files",
		Ext:             ".txt",
		UserHeader:      "X-Notepad-User",
		MaxContentBytes: 16 << 20,
		Firestore:       Firestore{Collection: "notepads"},
	}
}

// Load reads path over the defaults. An empty path or a missing file
// yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := Parse(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes TOML data into cfg, keeping fields the data leaves unset.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := toml.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var sme *toml.StrictMissingError
		if errors.As(err, &sme) {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, sme.String())
		}
		return err
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("%w: addr is empty", ErrInvalidConfig)
	}
	if c.MaxContentBytes <= 0 {
		return fmt.Errorf("%w: max_content_bytes must be positive", ErrInvalidConfig)
	}
	if c.UserHeader == "" {
		return fmt.Errorf("%w: user_header is empty", ErrInvalidConfig)
	}
	switch c.Backend {
	case BackendFile:
		if c.DataDir == "" {
			return fmt.Errorf("%w: data_dir is required for the file backend", ErrInvalidConfig)
		}
	case BackendMemory:
	case BackendFirestore:
		if c.Firestore.Project == "" {
			return fmt.Errorf("%w: firestore.project is required for the firestore backend", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	return nil
}
