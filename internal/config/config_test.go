// Package config_test tests the configuration loading for the TTS bot.
package config_test

import (
	"testing"

	"github.com/pelletier/go-toml/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/voxkit/tts-bot/internal/config"
)

func TestUnmarshalConfig(t *testing.T) {
	t.Parallel()

	tomlData := `
[inworld]
api_base_url = "https://api.inworld.ai"
portal_base_url = "https://platform.inworld.ai"
workspace_id = "default--workspace"
default_voice_id = "pt-BR-Francisca"
default_model_id = "inworld-tts-1.5-max"
speaking_rate = 1.0
sample_rate_hertz = 48000
temperature = 1.0
synthesis_timeout_seconds = 60
clone_timeout_seconds = 300

[identity]
token_endpoint = "https://securetoken.googleapis.com/v1/token"
api_key = "test-api-key"
refresh_secret = "test-refresh-secret"

[retry]
max_attempts = 3
backoff_base = 2.0
backoff_unit_ms = 1000

[queue]
url = "nats://127.0.0.1:4222"
embedded = true
store_dir = "data/nats"
stream_name = "TTS_JOBS"
subject = "tts.jobs"
consumer_name = "tts-worker"

[catalog]
ttl_minutes = 5

[sessions]
staging_dir = "staging"

[storage]
user_db_path = "data/users.db"

[paths]
output_dir = "output"
base_logs_dir = "logs"

[limits]
max_text_chars = 2000
delete_delay_seconds = 50
`

	var cfg config.Config

	err := toml.Unmarshal([]byte(tomlData), &cfg)
	require.NoError(t, err)

	assert.Equal(t, "https://api.inworld.ai", cfg.Inworld.APIBaseURL)
	assert.Equal(t, "default--workspace", cfg.Inworld.WorkspaceID)
	assert.Equal(t, "pt-BR-Francisca", cfg.Inworld.DefaultVoiceID)
	assert.Equal(t, "inworld-tts-1.5-max", cfg.Inworld.DefaultModelID)
	assert.Equal(t, 60, cfg.Inworld.SynthesisTimeoutSecs)
	assert.Equal(t, "test-api-key", cfg.Identity.APIKey)
	assert.Equal(t, "test-refresh-secret", cfg.Identity.RefreshSecret)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.InEpsilon(t, 2.0, cfg.Retry.BackoffBase, 0.001)
	assert.Equal(t, "TTS_JOBS", cfg.Queue.StreamName)
	assert.Equal(t, "tts.jobs", cfg.Queue.Subject)
	assert.True(t, cfg.Queue.Embedded)
	assert.Equal(t, 5, cfg.Catalog.TTLMinutes)
	assert.Equal(t, "data/users.db", cfg.Storage.UserDBPath)
	assert.Equal(t, 2000, cfg.Limits.MaxTextChars)
	assert.Equal(t, 50, cfg.Limits.DeleteDelaySeconds)
}

func TestApplyDefaults(t *testing.T) {
	t.Parallel()

	var cfg config.Config

	cfg.ApplyDefaults()

	assert.Equal(t, config.DefaultMaxTextChars, cfg.Limits.MaxTextChars)
	assert.Equal(t, config.DefaultDeleteDelaySeconds, cfg.Limits.DeleteDelaySeconds)
	assert.Equal(t, config.DefaultCatalogTTLMinutes, cfg.Catalog.TTLMinutes)
	assert.Equal(t, config.DefaultRetryMaxAttempts, cfg.Retry.MaxAttempts)
	assert.InEpsilon(t, config.DefaultRetryBackoffBase, cfg.Retry.BackoffBase, 0.001)
	assert.InEpsilon(t, config.DefaultSpeakingRate, cfg.Inworld.SpeakingRate, 0.001)
	assert.Equal(t, config.DefaultSampleRateHertz, cfg.Inworld.SampleRateHertz)
}

func TestApplyDefaults_DoesNotOverrideExplicitValues(t *testing.T) {
	t.Parallel()

	cfg := config.Config{}
	cfg.Limits.MaxTextChars = 500
	cfg.Retry.MaxAttempts = 5

	cfg.ApplyDefaults()

	assert.Equal(t, 500, cfg.Limits.MaxTextChars)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
}
