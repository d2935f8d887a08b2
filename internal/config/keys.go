package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "SWTANNO_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "SWTANNO_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "resolver.base_url", typ: kString, env: "SWTANNO_RESOLVER_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Resolver.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Resolver.BaseURL },
	},
	{
		key: "resolver.timeout", typ: kDuration, env: "SWTANNO_RESOLVER_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Resolver.Timeout = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Resolver.Timeout },
	},
	{
		key: "resolver.concurrency", typ: kInt, env: "SWTANNO_RESOLVER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Resolver.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Resolver.Concurrency },
	},
	{
		key: "frames.ffmpeg_path", typ: kString, env: "SWTANNO_FRAMES_FFMPEG_PATH",
		apply:   func(cfg *Config, v any) { cfg.Frames.FFmpegPath = v.(string) },
		extract: func(cfg Config) any { return cfg.Frames.FFmpegPath },
	},
	{
		key: "frames.width", typ: kInt, env: "SWTANNO_FRAMES_WIDTH",
		apply:   func(cfg *Config, v any) { cfg.Frames.Width = v.(int) },
		extract: func(cfg Config) any { return cfg.Frames.Width },
	},
	{
		key: "keys.continue", typ: kString, env: "SWTANNO_KEYS_CONTINUE",
		apply:   func(cfg *Config, v any) { cfg.Keys.Continue = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.Continue },
	},
	{
		key: "keys.reject", typ: kString, env: "SWTANNO_KEYS_REJECT",
		apply:   func(cfg *Config, v any) { cfg.Keys.Reject = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.Reject },
	},
	{
		key: "keys.swap", typ: kString, env: "SWTANNO_KEYS_SWAP",
		apply:   func(cfg *Config, v any) { cfg.Keys.Swap = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.Swap },
	},
	{
		key: "keys.delete", typ: kString, env: "SWTANNO_KEYS_DELETE",
		apply:   func(cfg *Config, v any) { cfg.Keys.Delete = v.(string) },
		extract: func(cfg Config) any { return cfg.Keys.Delete },
	},
	{
		key: "log.level", typ: kString, env: "SWTANNO_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		switch s.typ {
		case kString:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kInt:
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
		case kDuration:
			v, ok, err := b.GetString(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok && v != "" {
				d, err := time.ParseDuration(v)
				if err != nil {
					return fmt.Errorf("reading %s: %w", s.key, err)
				}
				s.apply(cfg, d)
			}
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		switch s.typ {
		case kString:
			s.apply(cfg, raw)
		case kInt:
			if i, err := strconv.Atoi(raw); err == nil {
				s.apply(cfg, i)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse integer from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		case kDuration:
			if d, err := time.ParseDuration(raw); err == nil {
				s.apply(cfg, d)
			} else {
				fmt.Fprintf(os.Stderr, "[WARN] could not parse duration from env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			}
		}
	}
}
