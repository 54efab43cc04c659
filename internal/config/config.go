// Package config provides application configuration management using Viper.
// Values come from defaults, an optional config.yaml, a .env file and the
// process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Twilio     TwilioConfig
	OpenAI     OpenAIConfig
	Anthropic  AnthropicConfig
	LLM        LLMConfig
	Blob       BlobConfig
	Database   DatabaseConfig
	Mongo      MongoConfig
	Redis      RedisConfig
	Managers   []string
	Policy     PolicyConfig
	Escalation EscalationConfig
	Recontact  RecontactConfig
	Knowledge  KnowledgeConfig
	Intent     IntentConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         int
	Environment  string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxBodyBytes int64
	// Timezone names the IANA zone used for report days and call tasks.
	Timezone string
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string
	Format string
}

// TwilioConfig holds WhatsApp provider credentials.
type TwilioConfig struct {
	AccountSID    string
	AuthToken     string
	From          string
	BaseURL       string
	Timeout       time.Duration
	RatePerSecond float64
	Burst         int
	// ValidateSignature enables the X-Twilio-Signature check on /whatsapp.
	ValidateSignature bool
	// WebhookURL is the public URL Twilio posts to; the request URL is
	// used when empty.
	WebhookURL string
}

// OpenAIConfig holds OpenAI settings for chat and transcription.
type OpenAIConfig struct {
	APIKey             string
	Model              string
	TranscriptionModel string
}

// AnthropicConfig holds Claude settings.
type AnthropicConfig struct {
	APIKey string
	Model  string
}

// LLMConfig selects the chat provider and the generation parameters.
type LLMConfig struct {
	// Provider is "openai" or "anthropic".
	Provider            string
	MaxTokens           int
	Temperature         float64
	RephraseMaxTokens   int
	RephraseTemperature float64
	DescribeLocation    bool
	Timeout             time.Duration
}

// BlobConfig selects the persistence backend.
type BlobConfig struct {
	// Backend is "fs", "postgres" or "mongo".
	Backend string
	// Bucket is the root directory for fs and the collection for mongo.
	// The postgres backend always uses the blobs table.
	Bucket string
	// PublicBaseURL prefixes download links for files under downloads/.
	PublicBaseURL string
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	Host                  string
	Port                  int
	User                  string
	Password              string
	Name                  string
	SSLMode               string
	MaxConnections        int
	MinConnections        int
	ConnectionMaxLifetime time.Duration
}

// ConnectionString returns a PostgreSQL connection string.
func (d *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode,
	)
}

// MongoConfig holds MongoDB settings.
type MongoConfig struct {
	URI      string
	Database string
}

// RedisConfig holds the Redis URL used for webhook deduplication.
// An empty URL selects the in-memory store.
type RedisConfig struct {
	URL       string
	DedupeTTL time.Duration
}

// PolicyConfig carries every tunable threshold of the conversation rules.
type PolicyConfig struct {
	HistoryDepth      int
	DefaultMinPrice   int64
	HighMarginPct     int
	LowMarginPct      int
	CounterBandPct    int
	BudgetRatioPct    int
	FormalBudget      float64
	FriendlyBudget    float64
	MaxNameAsks       int
	ChunkMaxChars     int
	ChunkMaxLines     int
	MinAnswerLength   int
	ProjectInterest   int
	OfferInterest     int
	CloseInterest     int
	PromptHistoryTurn int
}

// EscalationConfig holds manager escalation settings.
type EscalationConfig struct {
	Delay        time.Duration
	ContextTurns int
}

// RecontactConfig holds the silent-lead schedule.
type RecontactConfig struct {
	ReminderAfter    time.Duration
	ReminderBefore   time.Duration
	FollowUpAfter    time.Duration
	FollowUpInterval time.Duration
	MaxAttempts      int
	TickInterval     time.Duration
}

// KnowledgeConfig holds project knowledge settings.
type KnowledgeConfig struct {
	LocalDir string
}

// IntentConfig points at an optional YAML rule file extending the defaults.
type IntentConfig struct {
	RulesFile string
}

// Load reads configuration from .env, config files and the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/leadconcierge")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFoundErr) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	cfg := fromViper(v)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(v *viper.Viper) *Config {
	return &Config{
		Server: ServerConfig{
			Host:         v.GetString("server.host"),
			Port:         v.GetInt("server.port"),
			Environment:  v.GetString("server.env"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			MaxBodyBytes: v.GetInt64("server.max_body_bytes"),
			Timezone:     v.GetString("server.timezone"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
		Twilio: TwilioConfig{
			AccountSID:    v.GetString("twilio.account_sid"),
			AuthToken:     v.GetString("twilio.auth_token"),
			From:          v.GetString("twilio.from"),
			BaseURL:       v.GetString("twilio.base_url"),
			Timeout:       v.GetDuration("twilio.timeout"),
			RatePerSecond: v.GetFloat64("twilio.rate_per_second"),
			Burst:         v.GetInt("twilio.burst"),

			ValidateSignature: v.GetBool("twilio.validate_signature"),
			WebhookURL:        v.GetString("twilio.webhook_url"),
		},
		OpenAI: OpenAIConfig{
			APIKey:             v.GetString("openai.api_key"),
			Model:              v.GetString("openai.model"),
			TranscriptionModel: v.GetString("openai.transcription_model"),
		},
		Anthropic: AnthropicConfig{
			APIKey: v.GetString("anthropic.api_key"),
			Model:  v.GetString("anthropic.model"),
		},
		LLM: LLMConfig{
			Provider:            strings.ToLower(v.GetString("llm.provider")),
			MaxTokens:           v.GetInt("llm.max_tokens"),
			Temperature:         v.GetFloat64("llm.temperature"),
			RephraseMaxTokens:   v.GetInt("llm.rephrase_max_tokens"),
			RephraseTemperature: v.GetFloat64("llm.rephrase_temperature"),
			DescribeLocation:    v.GetBool("llm.describe_location"),
			Timeout:             v.GetDuration("llm.timeout"),
		},
		Blob: BlobConfig{
			Backend:       strings.ToLower(v.GetString("blob.backend")),
			Bucket:        v.GetString("blob.bucket"),
			PublicBaseURL: v.GetString("blob.public_base_url"),
		},
		Database: DatabaseConfig{
			Host:                  v.GetString("database.host"),
			Port:                  v.GetInt("database.port"),
			User:                  v.GetString("database.user"),
			Password:              v.GetString("database.password"),
			Name:                  v.GetString("database.name"),
			SSLMode:               v.GetString("database.sslmode"),
			MaxConnections:        v.GetInt("database.max_connections"),
			MinConnections:        v.GetInt("database.min_connections"),
			ConnectionMaxLifetime: v.GetDuration("database.connection_max_lifetime"),
		},
		Mongo: MongoConfig{
			URI:      v.GetString("mongo.uri"),
			Database: v.GetString("mongo.database"),
		},
		Redis: RedisConfig{
			URL:       v.GetString("redis.url"),
			DedupeTTL: v.GetDuration("redis.dedupe_ttl"),
		},
		Managers: splitList(v.GetStringSlice("managers")),
		Policy: PolicyConfig{
			HistoryDepth:      v.GetInt("policy.history_depth"),
			DefaultMinPrice:   v.GetInt64("policy.default_min_price"),
			HighMarginPct:     v.GetInt("policy.high_margin_pct"),
			LowMarginPct:      v.GetInt("policy.low_margin_pct"),
			CounterBandPct:    v.GetInt("policy.counter_band_pct"),
			BudgetRatioPct:    v.GetInt("policy.budget_ratio_pct"),
			FormalBudget:      v.GetFloat64("policy.formal_budget"),
			FriendlyBudget:    v.GetFloat64("policy.friendly_budget"),
			MaxNameAsks:       v.GetInt("policy.max_name_asks"),
			ChunkMaxChars:     v.GetInt("policy.chunk_max_chars"),
			ChunkMaxLines:     v.GetInt("policy.chunk_max_lines"),
			MinAnswerLength:   v.GetInt("policy.min_answer_length"),
			ProjectInterest:   v.GetInt("policy.project_interest"),
			OfferInterest:     v.GetInt("policy.offer_interest"),
			CloseInterest:     v.GetInt("policy.close_interest"),
			PromptHistoryTurn: v.GetInt("policy.prompt_history_turns"),
		},
		Escalation: EscalationConfig{
			Delay:        v.GetDuration("escalation.delay"),
			ContextTurns: v.GetInt("escalation.context_turns"),
		},
		Recontact: RecontactConfig{
			ReminderAfter:    v.GetDuration("recontact.reminder_after"),
			ReminderBefore:   v.GetDuration("recontact.reminder_before"),
			FollowUpAfter:    v.GetDuration("recontact.follow_up_after"),
			FollowUpInterval: v.GetDuration("recontact.follow_up_interval"),
			MaxAttempts:      v.GetInt("recontact.max_attempts"),
			TickInterval:     v.GetDuration("recontact.tick_interval"),
		},
		Knowledge: KnowledgeConfig{
			LocalDir: v.GetString("knowledge.local_dir"),
		},
		Intent: IntentConfig{
			RulesFile: v.GetString("intent.rules_file"),
		},
	}
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.env", "development")
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "90s")
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("server.timezone", "America/Mexico_City")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("twilio.base_url", "https://api.twilio.com")
	v.SetDefault("twilio.timeout", "20s")
	v.SetDefault("twilio.rate_per_second", 1.0)
	v.SetDefault("twilio.burst", 5)
	v.SetDefault("twilio.validate_signature", true)

	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.transcription_model", "whisper-1")
	v.SetDefault("anthropic.model", "claude-sonnet-4-20250514")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.max_tokens", 150)
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.rephrase_max_tokens", 50)
	v.SetDefault("llm.rephrase_temperature", 0.3)
	v.SetDefault("llm.describe_location", false)
	v.SetDefault("llm.timeout", "45s")

	v.SetDefault("blob.backend", "fs")
	v.SetDefault("blob.bucket", "./data")

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "leadconcierge")
	v.SetDefault("database.name", "leadconcierge")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.min_connections", 1)
	v.SetDefault("database.connection_max_lifetime", "30m")

	v.SetDefault("mongo.database", "leadconcierge")
	v.SetDefault("redis.dedupe_ttl", "24h")

	v.SetDefault("policy.history_depth", 10)
	v.SetDefault("policy.default_min_price", 100000)
	v.SetDefault("policy.high_margin_pct", 95)
	v.SetDefault("policy.low_margin_pct", 90)
	v.SetDefault("policy.counter_band_pct", 5)
	v.SetDefault("policy.budget_ratio_pct", 80)
	v.SetDefault("policy.formal_budget", 200000)
	v.SetDefault("policy.friendly_budget", 100000)
	v.SetDefault("policy.max_name_asks", 2)
	v.SetDefault("policy.chunk_max_chars", 100)
	v.SetDefault("policy.chunk_max_lines", 2)
	v.SetDefault("policy.min_answer_length", 5)
	v.SetDefault("policy.project_interest", 5)
	v.SetDefault("policy.offer_interest", 8)
	v.SetDefault("policy.close_interest", 9)
	v.SetDefault("policy.prompt_history_turns", 10)

	v.SetDefault("escalation.delay", "30m")
	v.SetDefault("escalation.context_turns", 4)

	v.SetDefault("recontact.reminder_after", "20h")
	v.SetDefault("recontact.reminder_before", "24h")
	v.SetDefault("recontact.follow_up_after", "48h")
	v.SetDefault("recontact.follow_up_interval", "24h")
	v.SetDefault("recontact.max_attempts", 3)
	v.SetDefault("recontact.tick_interval", "15m")

	v.SetDefault("knowledge.local_dir", "")
}

// Validate checks that all required configuration values are present.
func (c *Config) Validate() error {
	var missing []string

	if c.Twilio.AccountSID == "" {
		missing = append(missing, "TWILIO_ACCOUNT_SID")
	}
	if c.Twilio.AuthToken == "" {
		missing = append(missing, "TWILIO_AUTH_TOKEN")
	}
	if c.Twilio.From == "" {
		missing = append(missing, "TWILIO_FROM")
	}
	if len(c.Managers) == 0 {
		missing = append(missing, "MANAGERS")
	}

	switch c.LLM.Provider {
	case "openai":
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_API_KEY")
		}
	case "anthropic":
		if c.Anthropic.APIKey == "" {
			missing = append(missing, "ANTHROPIC_API_KEY")
		}
		if c.OpenAI.APIKey == "" {
			missing = append(missing, "OPENAI_API_KEY (audio transcription)")
		}
	default:
		return fmt.Errorf("invalid configuration: unknown llm.provider %q", c.LLM.Provider)
	}

	switch c.Blob.Backend {
	case "fs":
		if c.Blob.Bucket == "" {
			missing = append(missing, "BLOB_BUCKET")
		}
	case "postgres":
		if c.Database.Password == "" {
			missing = append(missing, "DATABASE_PASSWORD")
		}
	case "mongo":
		if c.Mongo.URI == "" {
			missing = append(missing, "MONGO_URI")
		}
	default:
		return fmt.Errorf("invalid configuration: unknown blob.backend %q", c.Blob.Backend)
	}

	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if c.Policy.LowMarginPct > c.Policy.HighMarginPct {
		return fmt.Errorf("invalid configuration: policy.low_margin_pct above policy.high_margin_pct")
	}
	if c.Recontact.ReminderAfter >= c.Recontact.ReminderBefore {
		return fmt.Errorf("invalid configuration: recontact reminder window is empty")
	}
	if _, err := time.LoadLocation(c.Server.Timezone); err != nil {
		return fmt.Errorf("invalid configuration: server.timezone: %w", err)
	}
	return nil
}

// Location returns the configured time zone, UTC when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Server.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// IsManager reports whether the messaging address belongs to a manager.
func (c *Config) IsManager(phone string) bool {
	for _, m := range c.Managers {
		if m == phone {
			return true
		}
	}
	return false
}

// splitList accepts both YAML lists and comma-separated env values.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
