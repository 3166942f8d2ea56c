// Package config loads livechat configuration from YAML or CUE files,
// validates it against an embedded CUE schema that also supplies
// defaults, and applies LIVECHAT_* environment overrides.
package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"

	"github.com/roach88/livechat/internal/chat"
)

//go:embed schema.cue
var schemaCUE string

// Config is the full server configuration.
type Config struct {
	Server ServerConfig `json:"server"`
	Store  StoreConfig  `json:"store"`
	Engine EngineConfig `json:"engine"`
	Auth   AuthConfig   `json:"auth"`
	Chat   ChatConfig   `json:"chat"`
	Log    LogConfig    `json:"log"`
}

type ServerConfig struct {
	Addr            string     `json:"addr"`
	AllowedOrigins  []string   `json:"allowedOrigins"`
	MutationRate    RateConfig `json:"mutationRate"`
	ShutdownTimeout Duration   `json:"shutdownTimeout"`
}

// RateConfig limits mutations per client address.
type RateConfig struct {
	Requests int      `json:"requests"`
	Window   Duration `json:"window"`
}

type StoreConfig struct {
	Path    string `json:"path"`
	Readers int    `json:"readers"`
}

type EngineConfig struct {
	Workers      int `json:"workers"`
	HistorySize  int `json:"historySize"`
	MaxObservers int `json:"maxObservers"`
}

// AuthConfig holds the HS256 token settings. An empty secret disables
// authentication: every request is anonymous.
type AuthConfig struct {
	Secret string `json:"secret"`
	Issuer string `json:"issuer"`
}

type ChatConfig struct {
	OnlineWindow Duration `json:"onlineWindow"`
	TypingWindow Duration `json:"typingWindow"`
	PollInterval Duration `json:"pollInterval"`
	SearchLimit  int      `json:"searchLimit"`
	PageSize     int      `json:"pageSize"`
	MaxPageSize  int      `json:"maxPageSize"`
}

// Policy converts the chat section to a chat.Policy.
func (c ChatConfig) Policy() chat.Policy {
	return chat.Policy{
		OnlineWindow: c.OnlineWindow.Std(),
		TypingWindow: c.TypingWindow.Std(),
		PollInterval: c.PollInterval.Std(),
		SearchLimit:  c.SearchLimit,
		PageSize:     c.PageSize,
		MaxPageSize:  c.MaxPageSize,
	}
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
}

// Duration is a time.Duration encoded as a Go duration string.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Default returns the configuration an empty file produces.
func Default() (Config, error) {
	return decode(cuecontext.New().CompileString("{}"))
}

// Load reads the file at path (".yaml", ".yml", ".json" or ".cue"),
// validates it and applies environment overrides. An empty path loads
// defaults only.
func Load(path string) (Config, error) {
	ctx := cuecontext.New()
	data := ctx.CompileString("{}")
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		data, err = parse(ctx, path, raw)
		if err != nil {
			return Config{}, err
		}
	}
	cfg, err := decode(data)
	if err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	applyEnv(&cfg)
	return cfg, nil
}

func parse(ctx *cue.Context, path string, raw []byte) (cue.Value, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".cue":
		v := ctx.CompileBytes(raw, cue.Filename(path))
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return v, nil
	case ".yaml", ".yml", ".json":
		var m map[string]any
		if err := yaml.Unmarshal(raw, &m); err != nil {
			return cue.Value{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if m == nil {
			m = map[string]any{}
		}
		v := ctx.Encode(m)
		if err := v.Err(); err != nil {
			return cue.Value{}, fmt.Errorf("parse %s: %w", path, err)
		}
		return v, nil
	default:
		return cue.Value{}, fmt.Errorf("unsupported config format %q", ext)
	}
}

// decode unifies data with the schema and converts the result.
func decode(data cue.Value) (Config, error) {
	ctx := data.Context()
	schema := ctx.CompileString(schemaCUE, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return Config{}, fmt.Errorf("compile schema: %w", err)
	}
	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return Config{}, fmt.Errorf("validate: %w", err)
	}
	raw, err := v.MarshalJSON()
	if err != nil {
		return Config{}, fmt.Errorf("export: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("decode: %w", err)
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Addr = envOr("LIVECHAT_ADDR", cfg.Server.Addr)
	cfg.Store.Path = envOr("LIVECHAT_DB", cfg.Store.Path)
	cfg.Auth.Secret = envOr("LIVECHAT_JWT_SECRET", cfg.Auth.Secret)
	cfg.Auth.Issuer = envOr("LIVECHAT_JWT_ISSUER", cfg.Auth.Issuer)
	cfg.Log.Level = envOr("LIVECHAT_LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envOr("LIVECHAT_LOG_FORMAT", cfg.Log.Format)
	if workers := envInt("LIVECHAT_WORKERS", cfg.Engine.Workers); workers > 0 {
		cfg.Engine.Workers = workers
	} else {
		slog.Warn("config: invalid worker count, keeping", "workers", workers, "keep", cfg.Engine.Workers)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
		slog.Warn("config: invalid int, using default", "key", key, "value", v, "default", fallback)
	}
	return fallback
}
