package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := NewFromViper(NewEmptyViper())
	require.NoError(t, cfg.Validate())

	storage := cfg.GetStorage()
	assert.Equal(t, "memory", storage.Driver)
	assert.Equal(t, 90*24*time.Hour, storage.LogRetention)

	oracle := cfg.GetOracle()
	assert.Equal(t, "none", oracle.Provider)
	assert.Equal(t, 10*time.Second, oracle.Timeout)
	assert.Equal(t, 5.0, oracle.RatePerSecond)

	assert.Equal(t, 0.85, cfg.GetReputation().Threshold)
	assert.Equal(t, "override", cfg.GetReputation().Policy)
	assert.Equal(t, 5*time.Minute, cfg.GetPhishing().PatternTTL)
	assert.Equal(t, RulesConfig{ScanWindow: 500, Workers: 8}, cfg.GetRules())

	queue := cfg.GetQueue()
	assert.Equal(t, 4, queue.Workers)
	assert.Equal(t, time.Second, queue.RetryBaseDelay)

	assert.Equal(t, 15*time.Minute, cfg.GetScheduler().RulesInterval)

	server := cfg.GetServer()
	assert.Equal(t, "postfix", server.FilterType)
	assert.Equal(t, int64(30*1024*1024), server.MaxMessageBytes)
	assert.Equal(t, 10026, server.PostfixPort)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  driver: sqlite3
  dsn: /tmp/trust.db
oracle:
  provider: openai
  timeout: 3s
openai:
  api_key: sk-test
reputation:
  threshold: 0.9
  policy: blend
phishing:
  blacklisted_domains:
    - evil.example
server:
  reject_critical: true
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, StorageConfig{
		Driver:           "sqlite3",
		DSN:              "/tmp/trust.db",
		LogRetention:     90 * 24 * time.Hour,
		CleanupFrequency: time.Hour,
	}, cfg.GetStorage())
	assert.Equal(t, "openai", cfg.GetOracle().Provider)
	assert.Equal(t, 3*time.Second, cfg.GetOracle().Timeout)
	assert.Equal(t, "sk-test", cfg.GetOpenAI().APIKey)
	assert.Equal(t, "blend", cfg.GetReputation().Policy)
	assert.Equal(t, []string{"evil.example"}, cfg.GetPhishing().BlacklistedDomains)
	assert.True(t, cfg.GetServer().RejectCritical)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("MAIL_TRUST_ORACLE_PROVIDER", "gemini")
	t.Setenv("MAIL_TRUST_RULES_WORKERS", "2")

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.GetOracle().Provider)
	assert.Equal(t, 2, cfg.GetRules().Workers)
	assert.Equal(t, "debug", cfg.GetString("logging.level"))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  interface{}
	}{
		{"bad duration", "queue.task_timeout", "soon"},
		{"unknown provider", "oracle.provider", "llama"},
		{"unknown driver", "storage.driver", "mongo"},
		{"unknown policy", "reputation.policy", "vote"},
		{"threshold out of range", "reputation.threshold", 1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewEmptyViper()
			v.Set(tt.key, tt.val)
			assert.Error(t, NewFromViper(v).Validate())
		})
	}
}
