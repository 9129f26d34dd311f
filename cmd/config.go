package cmd

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"
)

// LogConfig controls the devlog handler installed in root.go's init.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// StorageConfig selects the backing store for secure-deletion slots.
// "memory" loses all slots on restart; "sqlite" persists them through a
// GORM-mapped database file. Attestation identity is always held in memory,
// whichever driver is selected.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "memory" | "sqlite"
	DSN    string `mapstructure:"dsn"`
}

func (s *StorageConfig) validate() error {
	switch s.Driver {
	case "", "memory":
		return nil
	case "sqlite":
		if s.DSN == "" {
			return fmt.Errorf("storage: dsn is required for the sqlite driver")
		}
		return nil
	default:
		return fmt.Errorf("storage: unsupported driver %q (must be 'memory' or 'sqlite')", s.Driver)
	}
}

// ListenConfig is the transport the framed request/response protocol is
// served over.
type ListenConfig struct {
	Network string `mapstructure:"network"` // "tcp" | "unix"
	Address string `mapstructure:"address"`
}

func (l *ListenConfig) validate() error {
	switch l.Network {
	case "tcp", "unix":
	default:
		return fmt.Errorf("listen: unsupported network %q (must be 'tcp' or 'unix')", l.Network)
	}
	if l.Address == "" {
		return fmt.Errorf("listen: address is required")
	}
	return nil
}

// RateLimitConfig bounds how fast a single connection may issue requests,
// independent of the TA's own per-key usage-count enforcement.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// RootKeySourceConfig is a polymorphic config section: the concrete shape
// of Params depends on Source. Unmarshaling proceeds in two steps exactly
// like a service_info FSIM entry — decode the envelope, then decode
// RawParams into the typed struct selected by Source.
type RootKeySourceConfig struct {
	Source    string         `mapstructure:"source"` // "static" | "env"
	RawParams map[string]any `mapstructure:"params"`

	staticParams *staticRootKeyParams
	envParams    *envRootKeyParams
}

type staticRootKeyParams struct {
	HexKey string `mapstructure:"hex_key"`
}

type envRootKeyParams struct {
	EnvVar string `mapstructure:"env_var"`
}

// UnmarshalParams converts RawParams into the typed field selected by
// Source. Must be called once after viper.Unmarshal populates the
// envelope fields.
func (r *RootKeySourceConfig) UnmarshalParams() error {
	if r.RawParams == nil {
		return fmt.Errorf("root_key: params is required for source %q", r.Source)
	}
	switch r.Source {
	case "static":
		var params staticRootKeyParams
		if err := mapstructure.Decode(r.RawParams, &params); err != nil {
			return fmt.Errorf("root_key: decoding static params: %w", err)
		}
		if params.HexKey == "" {
			return fmt.Errorf("root_key: hex_key is required for source \"static\"")
		}
		r.staticParams = &params
	case "env":
		var params envRootKeyParams
		if err := mapstructure.Decode(r.RawParams, &params); err != nil {
			return fmt.Errorf("root_key: decoding env params: %w", err)
		}
		if params.EnvVar == "" {
			return fmt.Errorf("root_key: env_var is required for source \"env\"")
		}
		r.envParams = &params
	default:
		return fmt.Errorf("root_key: unsupported source %q (must be 'static' or 'env')", r.Source)
	}
	r.RawParams = nil
	return nil
}

// Resolve returns the raw root key bytes this source describes.
func (r *RootKeySourceConfig) Resolve() ([]byte, error) {
	switch r.Source {
	case "static":
		if r.staticParams == nil {
			return nil, fmt.Errorf("root_key: UnmarshalParams was never called")
		}
		key, err := hex.DecodeString(r.staticParams.HexKey)
		if err != nil {
			return nil, fmt.Errorf("root_key: hex_key is not valid hex: %w", err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("root_key: hex_key must decode to 32 bytes, got %d", len(key))
		}
		return key, nil
	case "env":
		if r.envParams == nil {
			return nil, fmt.Errorf("root_key: UnmarshalParams was never called")
		}
		raw := os.Getenv(r.envParams.EnvVar)
		if raw == "" {
			return nil, fmt.Errorf("root_key: environment variable %q is unset or empty", r.envParams.EnvVar)
		}
		key, err := hex.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("root_key: %s is not valid hex: %w", r.envParams.EnvVar, err)
		}
		if len(key) != 32 {
			return nil, fmt.Errorf("root_key: %s must decode to 32 bytes, got %d", r.envParams.EnvVar, len(key))
		}
		return key, nil
	default:
		return nil, fmt.Errorf("root_key: source was never resolved")
	}
}

// Config is the top-level configuration file shape, loaded by viper from
// a config file, environment variables, and command-line flags, in that
// increasing order of precedence.
type Config struct {
	Log           LogConfig           `mapstructure:"log"`
	SecurityLevel string              `mapstructure:"security_level"` // "tee" | "strongbox"
	Storage       StorageConfig       `mapstructure:"storage"`
	RootKey       RootKeySourceConfig `mapstructure:"root_key"`
	Listen        ListenConfig        `mapstructure:"listen"`
	RateLimit     RateLimitConfig     `mapstructure:"rate_limit"`
}

func (c *Config) validate() error {
	switch c.SecurityLevel {
	case "tee", "strongbox":
	default:
		return fmt.Errorf("security_level: unsupported value %q (must be 'tee' or 'strongbox')", c.SecurityLevel)
	}
	if err := c.Storage.validate(); err != nil {
		return err
	}
	if err := c.Listen.validate(); err != nil {
		return err
	}
	if c.RateLimit.RequestsPerSecond <= 0 {
		c.RateLimit.RequestsPerSecond = 50
	}
	if c.RateLimit.Burst <= 0 {
		c.RateLimit.Burst = 10
	}
	return nil
}
