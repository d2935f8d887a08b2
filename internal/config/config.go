package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Resolver ResolverConfig
	Frames   FramesConfig
	Keys     KeysConfig
	Log      LogConfig
}

type ServerConfig struct {
	Host string
	Port int
}

// Addr is the listen address of the review server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type ResolverConfig struct {
	BaseURL     string
	Timeout     time.Duration
	Concurrency int
}

type FramesConfig struct {
	FFmpegPath string
	// Width scales extracted frames; 0 keeps the source width.
	Width int
}

// KeysConfig holds the keyboard shortcut for each review action, in the
// notation the review page understands ("Enter", "x", "Ctrl+Shift+X").
type KeysConfig struct {
	Continue string
	Reject   string
	Swap     string
	Delete   string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8501,
		},
		Resolver: ResolverConfig{
			BaseURL:     "http://eldrad.cs-i.brandeis.edu:23456",
			Timeout:     10 * time.Second,
			Concurrency: 4,
		},
		Frames: FramesConfig{
			FFmpegPath: "ffmpeg",
		},
		Keys: KeysConfig{
			Continue: "Enter",
			Reject:   "x",
			Swap:     "s",
			Delete:   "Ctrl+Shift+X",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file at
// $XDG_CONFIG_HOME/swtanno/config.json. Environment variables (SWTANNO_*)
// override file values.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()))
}

func loadWith(b ConfigBackend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Resolver.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("resolver.timeout must be positive, got %s", c.Resolver.Timeout))
	}
	if c.Resolver.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("resolver.concurrency must be at least 1, got %d", c.Resolver.Concurrency))
	}
	if c.Frames.Width < 0 {
		errs = append(errs, fmt.Errorf("frames.width must not be negative, got %d", c.Frames.Width))
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}

	seen := make(map[string]string)
	for _, k := range []struct{ name, val string }{
		{"keys.continue", c.Keys.Continue},
		{"keys.reject", c.Keys.Reject},
		{"keys.swap", c.Keys.Swap},
		{"keys.delete", c.Keys.Delete},
	} {
		if strings.TrimSpace(k.val) == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", k.name))
			continue
		}
		norm := strings.ToLower(k.val)
		if other, dup := seen[norm]; dup {
			errs = append(errs, fmt.Errorf("%s duplicates %s (%q)", k.name, other, k.val))
		}
		seen[norm] = k.name
	}
	return errors.Join(errs...)
}

// ParseLevel maps a log.level value to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("log.level: %w", err)
	}
	return l, nil
}
