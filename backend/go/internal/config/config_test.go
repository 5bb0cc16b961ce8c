package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
app:
  name: factforge
auth:
  jwtSecret: test-secret
audit:
  hmacKey: 0123456789abcdef0123
llm:
  active: primary
  providers:
    - name: primary
      type: gemini
      model: gemini-1.5-flash
    - name: backup
      type: ollama
      model: llama3
thresholds:
  en:
    autoPublishMinConfidence: 92
    reviewMinScore: 50
    reviewMaxScore: 91
    autoRejectMinSuspicion: 0.8
`

func TestParseAndDefaults(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, 6, cfg.Pipeline.TopK)
	assert.InDelta(t, 0.55, cfg.Pipeline.MinSimilarity, 1e-9)
	assert.Equal(t, "5s", cfg.Pipeline.FinalizeTimeout)
	assert.Equal(t, "8s", cfg.LLM.AttemptTimeout)
	assert.Equal(t, "evidence_id", cfg.Databases.Milvus.IDField)
	assert.Equal(t, 92, cfg.Thresholds["en"].AutoPublishMinConfidence)
	_, hasHindi := cfg.Thresholds["hi"]
	assert.False(t, hasHindi, "explicit thresholds replace the defaults")
}

func TestApplyEnvOverridesSecrets(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	env := map[string]string{
		"FACTFORGE_AUDIT_HMAC_KEY": "from-env-key-0123456789",
		"GEMINI_API_KEY":           "g-key",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, "from-env-key-0123456789", cfg.Audit.HMACKey)
	assert.Equal(t, "g-key", cfg.LLM.Providers[0].APIKey)
	assert.Empty(t, cfg.LLM.Providers[1].APIKey)
	assert.Equal(t, "test-secret", cfg.Auth.JwtSecret)
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(c *AppConfig){
		"short hmac key":  func(c *AppConfig) { c.Audit.HMACKey = "short" },
		"unknown active":  func(c *AppConfig) { c.LLM.Active = "nope" },
		"duplicate names": func(c *AppConfig) { c.LLM.Providers[1].Name = "primary" },
		"bad band": func(c *AppConfig) {
			c.Thresholds["en"] = ThresholdConfig{AutoPublishMinConfidence: 90, ReviewMinScore: 80, ReviewMaxScore: 60}
		},
		"bad duration": func(c *AppConfig) { c.Pipeline.Timeout = "soon" },
		"bad finalize": func(c *AppConfig) { c.Pipeline.FinalizeTimeout = "later" },
		"zero suspicion": func(c *AppConfig) {
			c.Thresholds["en"] = ThresholdConfig{AutoPublishMinConfidence: 92, ReviewMinScore: 50, ReviewMaxScore: 91}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg, err := Parse([]byte(sampleYAML))
			require.NoError(t, err)
			cfg.ApplyDefaults()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigReadsDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(sampleYAML), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("FACTFORGE_LOG_LEVEL=debug\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("FACTFORGE_LOG_LEVEL") })

	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logger.Level)
}

func TestThresholdPatchKeepsOmittedFields(t *testing.T) {
	base := DefaultThresholds()["en"]
	conf := 95
	got := ThresholdPatch{AutoPublishMinConfidence: &conf}.Apply(base)
	assert.Equal(t, 95, got.AutoPublishMinConfidence)
	assert.Equal(t, base.ReviewMinScore, got.ReviewMinScore)
	assert.Equal(t, base.ReviewMaxScore, got.ReviewMaxScore)
	assert.InDelta(t, base.AutoRejectMinSuspicion, got.AutoRejectMinSuspicion, 1e-9)
	assert.NoError(t, got.Validate())

	assert.True(t, ThresholdPatch{}.Empty())
	assert.False(t, ThresholdPatch{ReviewMinScore: &conf}.Empty())
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, Duration("2s", time.Minute))
	assert.Equal(t, time.Minute, Duration("", time.Minute))
	assert.Equal(t, time.Minute, Duration("-1s", time.Minute))
}
