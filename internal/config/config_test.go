package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg, err := Default()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 120, cfg.Server.MutationRate.Requests)
	assert.Equal(t, time.Minute, cfg.Server.MutationRate.Window.Std())
	assert.Equal(t, "livechat.db", cfg.Store.Path)
	assert.Equal(t, 4, cfg.Store.Readers)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 1024, cfg.Engine.HistorySize)
	assert.Equal(t, 256, cfg.Engine.MaxObservers)
	assert.Empty(t, cfg.Auth.Secret)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)

	p := cfg.Chat.Policy()
	assert.Equal(t, 60*time.Second, p.OnlineWindow)
	assert.Equal(t, 3*time.Second, p.TypingWindow)
	assert.Equal(t, 2*time.Second, p.PollInterval)
	assert.Equal(t, 50, p.SearchLimit)
}

func TestLoad_YAML(t *testing.T) {
	cfg, err := Load("testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 30, cfg.Server.MutationRate.Requests)
	assert.Equal(t, 10*time.Second, cfg.Server.MutationRate.Window.Std())
	assert.Equal(t, "/var/lib/livechat/chat.db", cfg.Store.Path)
	assert.Equal(t, 8, cfg.Store.Readers)
	assert.Equal(t, 16, cfg.Engine.Workers)
	assert.Equal(t, "s3cret", cfg.Auth.Secret)
	assert.Equal(t, "https://auth.example.com", cfg.Auth.Issuer)
	assert.Equal(t, 5*time.Second, cfg.Chat.TypingWindow.Std())
	assert.Equal(t, 60*time.Second, cfg.Chat.OnlineWindow.Std(), "unset fields keep defaults")
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestLoad_CUE(t *testing.T) {
	cfg, err := Load("testdata/partial.cue")
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 90*time.Second, cfg.Chat.OnlineWindow.Std())
	assert.Equal(t, 20, cfg.Chat.SearchLimit)
	assert.Equal(t, ":8080", cfg.Server.Addr)
}

func TestLoad_EmptyFile(t *testing.T) {
	cfg, err := Load("testdata/empty.yaml")
	require.NoError(t, err)

	def, err := Default()
	require.NoError(t, err)
	assert.Equal(t, def, cfg)
}

func TestLoad_Invalid(t *testing.T) {
	for _, path := range []string{
		"testdata/unknown_field.yaml",
		"testdata/bad_level.yaml",
		"testdata/bad_duration.yaml",
		"testdata/missing.yaml",
		"testdata/full.toml",
	} {
		t.Run(path, func(t *testing.T) {
			_, err := Load(path)
			assert.Error(t, err)
		})
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("LIVECHAT_ADDR", ":7000")
	t.Setenv("LIVECHAT_DB", "/tmp/override.db")
	t.Setenv("LIVECHAT_JWT_SECRET", "from-env")
	t.Setenv("LIVECHAT_LOG_LEVEL", "warn")
	t.Setenv("LIVECHAT_WORKERS", "12")

	cfg, err := Load("testdata/full.yaml")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, "/tmp/override.db", cfg.Store.Path)
	assert.Equal(t, "from-env", cfg.Auth.Secret)
	assert.Equal(t, "https://auth.example.com", cfg.Auth.Issuer)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 12, cfg.Engine.Workers)
}

func TestLoad_InvalidEnvWorkersIgnored(t *testing.T) {
	t.Setenv("LIVECHAT_WORKERS", "lots")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 4, cfg.Engine.Workers)
}

func TestDuration_JSON(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalJSON([]byte(`"1500ms"`)))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	out, err := d.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"1.5s"`, string(out))

	assert.Error(t, d.UnmarshalJSON([]byte(`15`)))
}
