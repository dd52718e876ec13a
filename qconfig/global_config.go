package qconfig

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const lockPollInterval = 20 * time.Millisecond

// GlobalConfig is the user-level config file. Durations are Go duration strings.
type GlobalConfig struct {
	Servers          map[string]Server `yaml:"servers,omitempty" toml:"servers,omitempty"`
	DefaultServer    string            `yaml:"default_server,omitempty" toml:"default_server,omitempty"`
	ReconnectDelay   string            `yaml:"reconnect_delay,omitempty" toml:"reconnect_delay,omitempty"`
	HandshakeTimeout string            `yaml:"handshake_timeout,omitempty" toml:"handshake_timeout,omitempty"`
	LogLevel         string            `yaml:"log_level,omitempty" toml:"log_level,omitempty"`
}

type Server struct {
	URL    string `yaml:"url,omitempty" toml:"url,omitempty"`
	APIKey string `yaml:"api_key,omitempty" toml:"api_key,omitempty"`
}

// DefaultGlobalConfigPath honours QUILL_CONFIG_PATH, else ~/.config/quill/config.yaml.
func DefaultGlobalConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv("QUILL_CONFIG_PATH")); p != "" {
		return p, nil
	}
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "quill"), nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func LoadGlobal() (*GlobalConfig, error) {
	path, err := DefaultGlobalConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadGlobalFrom(path)
}

// LoadGlobalFrom reads path as TOML when it ends in .toml, YAML otherwise.
// A missing file yields an empty config.
func LoadGlobalFrom(path string) (*GlobalConfig, error) {
	cfg := &GlobalConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg.Servers = map[string]Server{}
			return cfg, nil
		}
		return nil, err
	}

	if isTOML(path) {
		err = toml.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]Server{}
	}
	return cfg, nil
}

// Validate checks the duration fields and that the default server exists.
func (c *GlobalConfig) Validate() error {
	for name, d := range map[string]string{"reconnect_delay": c.ReconnectDelay, "handshake_timeout": c.HandshakeTimeout} {
		if d == "" {
			continue
		}
		v, err := time.ParseDuration(d)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if v <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if c.DefaultServer != "" {
		if _, ok := c.Servers[c.DefaultServer]; !ok {
			return fmt.Errorf("default_server %q is not configured", c.DefaultServer)
		}
	}
	for name, srv := range c.Servers {
		if srv.URL == "" {
			continue
		}
		if err := ValidateBaseURL(srv.URL); err != nil {
			return fmt.Errorf("server %q: %w", name, err)
		}
	}
	return nil
}

func (c *GlobalConfig) SaveGlobalTo(path string) error {
	if c.Servers == nil {
		c.Servers = map[string]Server{}
	}

	var data []byte
	if isTOML(path) {
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return err
		}
		data = buf.Bytes()
	} else {
		out, err := yaml.Marshal(c)
		if err != nil {
			return err
		}
		data = out
	}
	return writeFileAtomic(path, data)
}

// UpdateGlobalAt loads, mutates and saves path under an exclusive lock.
func UpdateGlobalAt(ctx context.Context, path string, fn func(cfg *GlobalConfig) error) error {
	if fn == nil {
		return errors.New("nil update function")
	}

	lock, err := lockExclusive(ctx, path+".lock")
	if err != nil {
		return fmt.Errorf("lock global config: %w", err)
	}
	defer func() { _ = lock.Close() }()

	cfg, err := LoadGlobalFrom(path)
	if err != nil {
		return err
	}
	if err := fn(cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return cfg.SaveGlobalTo(path)
}

// writeFileAtomic replaces path with data via a private temp file and rename.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
