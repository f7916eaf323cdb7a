package config

import "time"

// StorageConfig represents the datastore configuration
type StorageConfig struct {
	Driver           string
	DSN              string
	LogRetention     time.Duration
	CleanupFrequency time.Duration
}

// OracleConfig represents the language-model classifier configuration
type OracleConfig struct {
	Provider      string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
}

// BedrockConfig represents the configuration for Amazon Bedrock
type BedrockConfig struct {
	Region      string
	ModelID     string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// GeminiConfig represents the configuration for Google Gemini
type GeminiConfig struct {
	APIKey      string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// OpenAIConfig represents the configuration for OpenAI
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	ModelName   string
	MaxTokens   int
	Temperature float32
	TopP        float32
	MaxBodySize int
}

// ReputationConfig represents the sender reputation configuration
type ReputationConfig struct {
	Threshold  float64
	Policy     string
	MaxRetries int
}

// PhishingConfig represents the phishing detector configuration
type PhishingConfig struct {
	PatternTTL         time.Duration
	WhitelistedDomains []string
	BlacklistedDomains []string
	SeedPatterns       bool
}

// RulesConfig represents the rules engine configuration
type RulesConfig struct {
	ScanWindow int
	Workers    int
}

// QueueConfig represents the background queue configuration
type QueueConfig struct {
	Workers        int
	Capacity       int
	MaxAttempts    int
	TaskTimeout    time.Duration
	RetryBaseDelay time.Duration
	MaxRetryDelay  time.Duration
}

// SchedulerConfig represents the periodic job configuration
type SchedulerConfig struct {
	RulesInterval     time.Duration
	AggregateInterval time.Duration
}

// APIConfig represents the HTTP API configuration
type APIConfig struct {
	Enabled       bool
	ListenAddress string
}

// ServerConfig represents the mail filter configuration
type ServerConfig struct {
	FilterType      string
	ListenAddress   string
	Domain          string
	UserID          string
	RejectCritical  bool
	ModifySubject   bool
	SubjectPrefix   string
	ClassifyTimeout time.Duration
	MaxMessageBytes int64
	PostfixEnabled  bool
	PostfixAddress  string
	PostfixPort     int
}

// GetStorage returns the storage configuration
func (c *Config) GetStorage() StorageConfig {
	return StorageConfig{
		Driver:           c.GetString("storage.driver"),
		DSN:              c.GetString("storage.dsn"),
		LogRetention:     c.duration("storage.log_retention"),
		CleanupFrequency: c.duration("storage.cleanup_frequency"),
	}
}

// GetOracle returns the oracle configuration
func (c *Config) GetOracle() OracleConfig {
	return OracleConfig{
		Provider:      c.GetString("oracle.provider"),
		Timeout:       c.duration("oracle.timeout"),
		RatePerSecond: c.GetFloat64("oracle.rate_per_second"),
		Burst:         c.GetInt("oracle.burst"),
	}
}

// GetBedrock returns the Bedrock configuration
func (c *Config) GetBedrock() BedrockConfig {
	return BedrockConfig{
		Region:      c.GetString("bedrock.region"),
		ModelID:     c.GetString("bedrock.model_id"),
		MaxTokens:   c.GetInt("bedrock.max_tokens"),
		Temperature: float32(c.GetFloat64("bedrock.temperature")),
		TopP:        float32(c.GetFloat64("bedrock.top_p")),
		MaxBodySize: c.GetInt("bedrock.max_body_size"),
	}
}

// GetGemini returns the Gemini configuration
func (c *Config) GetGemini() GeminiConfig {
	return GeminiConfig{
		APIKey:      c.GetString("gemini.api_key"),
		ModelName:   c.GetString("gemini.model_name"),
		MaxTokens:   c.GetInt("gemini.max_tokens"),
		Temperature: float32(c.GetFloat64("gemini.temperature")),
		TopP:        float32(c.GetFloat64("gemini.top_p")),
		MaxBodySize: c.GetInt("gemini.max_body_size"),
	}
}

// GetOpenAI returns the OpenAI configuration
func (c *Config) GetOpenAI() OpenAIConfig {
	return OpenAIConfig{
		APIKey:      c.GetString("openai.api_key"),
		BaseURL:     c.GetString("openai.base_url"),
		ModelName:   c.GetString("openai.model_name"),
		MaxTokens:   c.GetInt("openai.max_tokens"),
		Temperature: float32(c.GetFloat64("openai.temperature")),
		TopP:        float32(c.GetFloat64("openai.top_p")),
		MaxBodySize: c.GetInt("openai.max_body_size"),
	}
}

// GetReputation returns the sender reputation configuration
func (c *Config) GetReputation() ReputationConfig {
	return ReputationConfig{
		Threshold:  c.GetFloat64("reputation.threshold"),
		Policy:     c.GetString("reputation.policy"),
		MaxRetries: c.GetInt("reputation.max_retries"),
	}
}

// GetPhishing returns the phishing detector configuration
func (c *Config) GetPhishing() PhishingConfig {
	return PhishingConfig{
		PatternTTL:         c.duration("phishing.pattern_ttl"),
		WhitelistedDomains: c.GetStringSlice("phishing.whitelisted_domains"),
		BlacklistedDomains: c.GetStringSlice("phishing.blacklisted_domains"),
		SeedPatterns:       c.GetBool("phishing.seed_patterns"),
	}
}

// GetRules returns the rules engine configuration
func (c *Config) GetRules() RulesConfig {
	return RulesConfig{
		ScanWindow: c.GetInt("rules.scan_window"),
		Workers:    c.GetInt("rules.workers"),
	}
}

// GetQueue returns the background queue configuration
func (c *Config) GetQueue() QueueConfig {
	return QueueConfig{
		Workers:        c.GetInt("queue.workers"),
		Capacity:       c.GetInt("queue.capacity"),
		MaxAttempts:    c.GetInt("queue.max_attempts"),
		TaskTimeout:    c.duration("queue.task_timeout"),
		RetryBaseDelay: c.duration("queue.retry_base_delay"),
		MaxRetryDelay:  c.duration("queue.max_retry_delay"),
	}
}

// GetScheduler returns the periodic job configuration
func (c *Config) GetScheduler() SchedulerConfig {
	return SchedulerConfig{
		RulesInterval:     c.duration("scheduler.rules_interval"),
		AggregateInterval: c.duration("scheduler.aggregate_interval"),
	}
}

// GetAPI returns the HTTP API configuration
func (c *Config) GetAPI() APIConfig {
	return APIConfig{
		Enabled:       c.GetBool("api.enabled"),
		ListenAddress: c.GetString("api.listen_address"),
	}
}

// GetServer returns the mail filter configuration
func (c *Config) GetServer() ServerConfig {
	return ServerConfig{
		FilterType:      c.GetString("server.filter_type"),
		ListenAddress:   c.GetString("server.listen_address"),
		Domain:          c.GetString("server.domain"),
		UserID:          c.GetString("server.user_id"),
		RejectCritical:  c.GetBool("server.reject_critical"),
		ModifySubject:   c.GetBool("server.modify_subject"),
		SubjectPrefix:   c.GetString("server.subject_prefix"),
		ClassifyTimeout: c.duration("server.classify_timeout"),
		MaxMessageBytes: c.v.GetInt64("server.max_message_bytes"),
		PostfixEnabled:  c.GetBool("server.postfix.enabled"),
		PostfixAddress:  c.GetString("server.postfix.address"),
		PostfixPort:     c.GetInt("server.postfix.port"),
	}
}
