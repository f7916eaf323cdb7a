package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration
type Config struct {
	v *viper.Viper
}

// New creates a new configuration instance
func New() (*Config, error) {
	return Load("")
}

// Load reads configuration from path, or from the default search paths when path is empty
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("/etc/mail-trust/")
		v.AddConfigPath("$HOME/.mail-trust")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	setDefaults(v)

	v.AutomaticEnv()
	v.SetEnvPrefix("MAIL_TRUST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults
	}

	cfg := &Config{v: v}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewFromViper creates a new configuration instance from an existing Viper instance
func NewFromViper(v *viper.Viper) *Config {
	return &Config{v: v}
}

// NewEmptyViper creates a new Viper instance with defaults
func NewEmptyViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

// setDefaults sets the default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.driver", "memory")
	v.SetDefault("storage.dsn", "")
	v.SetDefault("storage.log_retention", "2160h")
	v.SetDefault("storage.cleanup_frequency", "1h")

	// Oracle defaults
	v.SetDefault("oracle.provider", "none")
	v.SetDefault("oracle.timeout", "10s")
	v.SetDefault("oracle.rate_per_second", 5.0)
	v.SetDefault("oracle.burst", 10)

	// Bedrock defaults
	v.SetDefault("bedrock.region", "us-east-1")
	v.SetDefault("bedrock.model_id", "anthropic.claude-3-haiku-20240307-v1:0")
	v.SetDefault("bedrock.max_tokens", 1000)
	v.SetDefault("bedrock.temperature", 0.1)
	v.SetDefault("bedrock.top_p", 0.9)
	v.SetDefault("bedrock.max_body_size", 4096)

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model_name", "gemini-1.5-flash")
	v.SetDefault("gemini.max_tokens", 1000)
	v.SetDefault("gemini.temperature", 0.1)
	v.SetDefault("gemini.top_p", 0.9)
	v.SetDefault("gemini.max_body_size", 4096)

	// OpenAI defaults
	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model_name", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 1000)
	v.SetDefault("openai.temperature", 0.1)
	v.SetDefault("openai.top_p", 0.9)
	v.SetDefault("openai.max_body_size", 4096)

	// Reputation defaults
	v.SetDefault("reputation.threshold", 0.85)
	v.SetDefault("reputation.policy", "override")
	v.SetDefault("reputation.max_retries", 5)

	// Phishing defaults
	v.SetDefault("phishing.pattern_ttl", "5m")
	v.SetDefault("phishing.whitelisted_domains", []string{})
	v.SetDefault("phishing.blacklisted_domains", []string{})
	v.SetDefault("phishing.seed_patterns", true)

	// Rules defaults
	v.SetDefault("rules.scan_window", 500)
	v.SetDefault("rules.workers", 8)

	// Queue defaults
	v.SetDefault("queue.workers", 4)
	v.SetDefault("queue.capacity", 1024)
	v.SetDefault("queue.max_attempts", 5)
	v.SetDefault("queue.task_timeout", "5m")
	v.SetDefault("queue.retry_base_delay", "1s")
	v.SetDefault("queue.max_retry_delay", "5m")

	// Scheduler defaults
	v.SetDefault("scheduler.rules_interval", "15m")
	v.SetDefault("scheduler.aggregate_interval", "24h")

	// API defaults
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.listen_address", "0.0.0.0:8080")

	// Filter defaults
	v.SetDefault("server.filter_type", "postfix")
	v.SetDefault("server.listen_address", "0.0.0.0:10025")
	v.SetDefault("server.domain", "localhost")
	v.SetDefault("server.user_id", "")
	v.SetDefault("server.reject_critical", false)
	v.SetDefault("server.modify_subject", false)
	v.SetDefault("server.subject_prefix", "[SPAM] ")
	v.SetDefault("server.classify_timeout", "30s")
	v.SetDefault("server.max_message_bytes", 30*1024*1024)
	v.SetDefault("server.postfix.enabled", true)
	v.SetDefault("server.postfix.address", "localhost")
	v.SetDefault("server.postfix.port", 10026)

	// CLI defaults
	v.SetDefault("cli.verbose", false)
	v.SetDefault("cli.user_id", "cli")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

var durationKeys = []string{
	"storage.log_retention",
	"storage.cleanup_frequency",
	"oracle.timeout",
	"phishing.pattern_ttl",
	"queue.task_timeout",
	"queue.retry_base_delay",
	"queue.max_retry_delay",
	"scheduler.rules_interval",
	"scheduler.aggregate_interval",
	"server.classify_timeout",
}

// Validate checks values that would otherwise fail late at startup
func (c *Config) Validate() error {
	for _, key := range durationKeys {
		if _, err := c.GetDuration(key); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", key, err)
		}
	}

	switch p := c.GetString("oracle.provider"); p {
	case "none", "openai", "gemini", "bedrock":
	default:
		return fmt.Errorf("unsupported oracle provider: %s", p)
	}

	switch d := c.GetString("storage.driver"); d {
	case "memory", "sqlite3", "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported storage driver: %s", d)
	}

	switch p := c.GetString("reputation.policy"); p {
	case "override", "blend":
	default:
		return fmt.Errorf("unsupported reputation policy: %s", p)
	}

	if t := c.GetFloat64("reputation.threshold"); t <= 0 || t > 1 {
		return fmt.Errorf("reputation threshold must be in (0, 1], got %v", t)
	}
	return nil
}

// GetString gets a string value from the configuration
func (c *Config) GetString(key string) string {
	return c.v.GetString(key)
}

// GetInt gets an integer value from the configuration
func (c *Config) GetInt(key string) int {
	return c.v.GetInt(key)
}

// GetFloat64 gets a float64 value from the configuration
func (c *Config) GetFloat64(key string) float64 {
	return c.v.GetFloat64(key)
}

// GetBool gets a boolean value from the configuration
func (c *Config) GetBool(key string) bool {
	return c.v.GetBool(key)
}

// GetStringSlice gets a string slice value from the configuration
func (c *Config) GetStringSlice(key string) []string {
	return c.v.GetStringSlice(key)
}

// GetDuration gets a duration value from the configuration
func (c *Config) GetDuration(key string) (time.Duration, error) {
	return time.ParseDuration(c.GetString(key))
}

// duration is GetDuration for keys already checked by Validate
func (c *Config) duration(key string) time.Duration {
	d, _ := c.GetDuration(key)
	return d
}

// GetViper returns the underlying Viper instance
func (c *Config) GetViper() *viper.Viper {
	return c.v
}
