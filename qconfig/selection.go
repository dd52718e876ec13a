package qconfig

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	quill "github.com/quillforge/quill/client"
	"github.com/quillforge/quill/client/realtime"
)

// DefaultHandshakeTimeout bounds the websocket upgrade when nothing is configured.
const DefaultHandshakeTimeout = 10 * time.Second

// Selection is the effective connection settings for one invocation.
type Selection struct {
	ServerName string
	BaseURL    string
	APIKey     string

	ReconnectDelay   time.Duration
	HandshakeTimeout time.Duration
	LogLevel         log.Level
}

type ResolveOptions struct {
	ServerName string

	BaseURLOverride string
	APIKeyOverride  string

	AllowEnvOverrides bool
}

// Resolve picks the server and credentials. Flags beat QUILL_* env vars,
// which beat the config file; with nothing set it falls back to the local backend.
func Resolve(global *GlobalConfig, opts ResolveOptions) (*Selection, error) {
	if global == nil {
		global = &GlobalConfig{}
	}
	if global.Servers == nil {
		global.Servers = map[string]Server{}
	}

	serverName := strings.TrimSpace(opts.ServerName)
	if serverName == "" && opts.AllowEnvOverrides {
		serverName = strings.TrimSpace(os.Getenv("QUILL_SERVER"))
	}
	if serverName == "" {
		serverName = strings.TrimSpace(global.DefaultServer)
	}

	baseURL := strings.TrimSpace(opts.BaseURLOverride)
	apiKey := strings.TrimSpace(opts.APIKeyOverride)
	if opts.AllowEnvOverrides {
		if baseURL == "" {
			if v := strings.TrimSpace(os.Getenv("QUILL_URL")); v != "" {
				if err := ValidateBaseURL(v); err != nil {
					return nil, fmt.Errorf("invalid QUILL_URL: %w", err)
				}
				baseURL = v
			}
		}
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("QUILL_API_KEY"))
		}
	}

	if serverName != "" {
		srv, known := global.Servers[serverName]
		if baseURL == "" {
			if known && strings.TrimSpace(srv.URL) != "" {
				baseURL = strings.TrimSpace(srv.URL)
			} else {
				derived, err := DeriveBaseURLFromServerName(serverName)
				if err != nil {
					return nil, err
				}
				baseURL = derived
			}
		}
		if apiKey == "" && known {
			apiKey = strings.TrimSpace(srv.APIKey)
		}
	}
	if baseURL == "" {
		baseURL = quill.DefaultBaseURL
	}
	if err := ValidateBaseURL(baseURL); err != nil {
		return nil, err
	}
	if serverName == "" {
		name, err := DeriveServerNameFromURL(baseURL)
		if err != nil {
			return nil, err
		}
		serverName = name
	}

	sel := &Selection{
		ServerName:       serverName,
		BaseURL:          baseURL,
		APIKey:           apiKey,
		ReconnectDelay:   realtime.DefaultReconnectDelay,
		HandshakeTimeout: DefaultHandshakeTimeout,
		LogLevel:         log.InfoLevel,
	}
	var err error
	if sel.ReconnectDelay, err = durationOr(global.ReconnectDelay, sel.ReconnectDelay); err != nil {
		return nil, fmt.Errorf("reconnect_delay: %w", err)
	}
	if sel.HandshakeTimeout, err = durationOr(global.HandshakeTimeout, sel.HandshakeTimeout); err != nil {
		return nil, fmt.Errorf("handshake_timeout: %w", err)
	}
	if lvl := strings.TrimSpace(global.LogLevel); lvl != "" {
		if sel.LogLevel, err = log.ParseLevel(lvl); err != nil {
			return nil, fmt.Errorf("log_level: %w", err)
		}
	}
	return sel, nil
}

func durationOr(raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, errors.New("must be positive")
	}
	return d, nil
}

// DeriveBaseURLFromServerName accepts a full URL or host[:port]. Loopback
// hosts get http, everything else https.
func DeriveBaseURLFromServerName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("empty server name")
	}
	if strings.HasPrefix(name, "http://") || strings.HasPrefix(name, "https://") {
		return name, nil
	}
	scheme := "https"
	if strings.HasPrefix(name, "localhost") || strings.HasPrefix(name, "127.0.0.1") || strings.HasPrefix(name, "[::1]") {
		scheme = "http"
	}
	return scheme + "://" + name, nil
}

func DeriveServerNameFromURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("url missing host: %q", raw)
	}
	return u.Host, nil
}

func ValidateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("empty base URL")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q", raw)
	}
	return nil
}
