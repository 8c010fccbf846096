package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"bookforge/internal/httpx"
)

const defaultExternalHTTPTimeoutSeconds = int(httpx.DefaultExternalHTTPTimeout / time.Second)

const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGemini    = "gemini"
)

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
	GeminiBaseURL   string `yaml:"gemini_base_url"`

	TrendsFeedURL string `yaml:"trends_feed_url"`
	TrendsGeo     string `yaml:"trends_geo"`
	TrendsLimit   int    `yaml:"trends_limit"`
	TopK          int    `yaml:"top_k"`

	PixabayAPIKey       string `yaml:"pixabay_api_key"`
	CoverFallbackQuery  string `yaml:"cover_fallback_query"`
	UnsplashURLTemplate string `yaml:"unsplash_url_template"`
	DefaultCoverPath    string `yaml:"default_cover_path"`

	SlackBotToken  string `yaml:"slack_bot_token"`
	SlackChannelID string `yaml:"slack_channel_id"`

	DataDir                    string `yaml:"data_dir"`
	LogDir                     string `yaml:"log_dir"`
	LogLevel                   string `yaml:"log_level"`
	DBPath                     string `yaml:"db_path"`
	MetricsAddr                string `yaml:"metrics_addr"`
	ExternalHTTPTimeoutSeconds int    `yaml:"external_http_timeout_seconds"`

	Schedule string `yaml:"schedule"`
	Timezone string `yaml:"timezone"`

	Location *time.Location `yaml:"-"` // computed from Timezone, not from YAML
}

// Load reads .env, then config.yaml (or CONFIG_PATH), then applies
// environment overrides and defaults, and validates the result.
func Load() (Config, error) {
	var cfg Config

	// .env is optional; real environment variables win over it.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("load .env: %w", err)
	}

	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", configPath, err)
		}
	}

	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.GeminiAPIKey, "GEMINI_API_KEY")
	envOverride(&cfg.GeminiBaseURL, "GEMINI_BASE_URL")
	envOverride(&cfg.TrendsFeedURL, "TRENDS_FEED_URL")
	envOverrideAllowEmpty(&cfg.TrendsGeo, "TRENDS_GEO")
	envOverride(&cfg.PixabayAPIKey, "PIXABAY_API_KEY")
	envOverride(&cfg.CoverFallbackQuery, "COVER_FALLBACK_QUERY")
	envOverride(&cfg.UnsplashURLTemplate, "UNSPLASH_URL_TEMPLATE")
	envOverride(&cfg.DefaultCoverPath, "DEFAULT_COVER_PATH")
	envOverride(&cfg.SlackBotToken, "SLACK_BOT_TOKEN")
	envOverride(&cfg.SlackChannelID, "SLACK_CHANNEL_ID")
	envOverride(&cfg.DataDir, "DATA_DIR")
	envOverride(&cfg.LogDir, "LOG_DIR")
	envOverride(&cfg.LogLevel, "LOG_LEVEL")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverrideAllowEmpty(&cfg.MetricsAddr, "METRICS_ADDR")
	envOverride(&cfg.Schedule, "SCHEDULE")
	envOverride(&cfg.Timezone, "TIMEZONE")
	if err := envOverrideInt(&cfg.TrendsLimit, "TRENDS_LIMIT"); err != nil {
		return cfg, err
	}
	if err := envOverrideInt(&cfg.TopK, "TOP_K"); err != nil {
		return cfg, err
	}
	if err := envOverrideInt(&cfg.ExternalHTTPTimeoutSeconds, "EXTERNAL_HTTP_TIMEOUT_SECONDS"); err != nil {
		return cfg, err
	}

	applyDefaults(&cfg)
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = ProviderGemini
	}
	if cfg.GeminiBaseURL == "" {
		cfg.GeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai/"
	}
	if cfg.TrendsFeedURL == "" {
		cfg.TrendsFeedURL = "https://trends.google.com/trending/rss"
	}
	if cfg.TrendsLimit == 0 {
		cfg.TrendsLimit = 10
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.CoverFallbackQuery == "" {
		cfg.CoverFallbackQuery = "book cover abstract art"
	}
	if cfg.UnsplashURLTemplate == "" {
		cfg.UnsplashURLTemplate = "https://source.unsplash.com/1024x1024/?%s,book,art,illustration"
	}
	if cfg.DefaultCoverPath == "" {
		cfg.DefaultCoverPath = "assets/default_cover.jpg"
	}
	if cfg.DataDir == "" {
		cfg.DataDir = "./data"
	}
	if cfg.LogDir == "" {
		cfg.LogDir = "./logs"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./bookforge.db"
	}
	if cfg.ExternalHTTPTimeoutSeconds == 0 {
		cfg.ExternalHTTPTimeoutSeconds = defaultExternalHTTPTimeoutSeconds
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "0 */3 * * *"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}
}

func (c *Config) validate() error {
	switch c.LLMProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			return errors.New("anthropic_api_key is required when llm_provider=anthropic")
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			return errors.New("openai_api_key is required when llm_provider=openai")
		}
	case ProviderGemini:
		if c.GeminiAPIKey == "" {
			return errors.New("gemini_api_key is required when llm_provider=gemini")
		}
	default:
		return fmt.Errorf("llm_provider must be 'anthropic', 'openai' or 'gemini', got '%s'", c.LLMProvider)
	}

	if strings.EqualFold(c.Timezone, "Local") {
		c.Location = time.Local
	} else {
		loc, err := time.LoadLocation(c.Timezone)
		if err != nil {
			return fmt.Errorf("invalid timezone '%s': %w", c.Timezone, err)
		}
		c.Location = loc
	}

	sched, err := ParseSchedule(c.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule '%s': %w", c.Schedule, err)
	}
	if sched.Next(time.Now().In(c.Location)).IsZero() {
		return fmt.Errorf("invalid schedule '%s': never fires", c.Schedule)
	}
	if c.TopK < 1 {
		return fmt.Errorf("invalid top_k '%d': must be >= 1", c.TopK)
	}
	if c.TrendsLimit < 1 {
		return fmt.Errorf("invalid trends_limit '%d': must be >= 1", c.TrendsLimit)
	}
	if c.ExternalHTTPTimeoutSeconds < 5 {
		return fmt.Errorf("invalid external_http_timeout_seconds '%d': must be >= 5", c.ExternalHTTPTimeoutSeconds)
	}
	return nil
}

// ParseSchedule parses a standard 5-field cron expression
// (minute hour day-of-month month day-of-week).
func ParseSchedule(spec string) (cron.Schedule, error) {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return parser.Parse(strings.TrimSpace(spec))
}

func (c Config) SlackConfigured() bool {
	return c.SlackBotToken != "" && c.SlackChannelID != ""
}

// APIKey returns the key for the configured provider.
func (c Config) APIKey() string {
	switch c.LLMProvider {
	case ProviderAnthropic:
		return c.AnthropicAPIKey
	case ProviderOpenAI:
		return c.OpenAIAPIKey
	default:
		return c.GeminiAPIKey
	}
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideAllowEmpty(field *string, envKey string) {
	if val, ok := os.LookupEnv(envKey); ok {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) error {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", envKey, val, err)
		}
		*field = parsed
	}
	return nil
}
