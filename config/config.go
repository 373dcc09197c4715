// Package config loads sumchat settings from the environment and from a
// TOML secrets file.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/teilomillet/sumchat/tokenizer"
	"github.com/teilomillet/sumchat/utils"
)

// DefaultSystemMessage is used when neither the environment nor the secrets
// file provides one.
const DefaultSystemMessage = "You are a helpful, respectful and honest assistant"

type Config struct {
	Provider            string            `env:"LLM_PROVIDER" validate:"required"`
	EndpointURL         string            `env:"SUMCHAT_ENDPOINT_URL" validate:"required,url"`
	BearerToken         string            `env:"SUMCHAT_BEARER_TOKEN" validate:"required"`
	APIToken            string            `env:"SUMCHAT_API_TOKEN"`
	ExtraHeaders        map[string]string `env:"SUMCHAT_EXTRA_HEADERS"`
	SystemMessage       string            `env:"SUMCHAT_SYSTEM_MESSAGE"`
	Temperature         float64           `env:"LLM_TEMPERATURE" validate:"gte=0,lte=2"`
	MaxNewTokens        int               `env:"LLM_MAX_NEW_TOKENS" validate:"min=1"`
	SummaryMaxNewTokens int               `env:"SUMCHAT_SUMMARY_MAX_NEW_TOKENS" validate:"min=1"`
	Timeout             time.Duration     `env:"LLM_TIMEOUT" validate:"gt=0"`
	RateLimit           float64           `env:"LLM_RATE_LIMIT" validate:"gte=0"`
	LogLevel            utils.LogLevel    `env:"LLM_LOG_LEVEL"`
	LogFile             string            `env:"SUMCHAT_LOG_FILE"`
	Encoding            string            `env:"SUMCHAT_ENCODING" validate:"encoding"`
	MaxModelTokens      int               `env:"SUMCHAT_MAX_MODEL_TOKENS" validate:"min=2"`
	MaxSystemTokens     int               `env:"SUMCHAT_MAX_SYSTEM_TOKENS" validate:"min=1,ltfield=MaxModelTokens"`
}

// LoadConfig reads the configuration from environment variables. Unset
// variables keep the values from NewConfig.
func LoadConfig() (*Config, error) {
	cfg := NewConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// NewConfig returns a Config holding the built-in defaults and no secrets.
func NewConfig() *Config {
	return &Config{
		Provider:            "huggingface",
		ExtraHeaders:        make(map[string]string),
		SystemMessage:       DefaultSystemMessage,
		Temperature:         0.7,
		MaxNewTokens:        256,
		SummaryMaxNewTokens: 256,
		Timeout:             30 * time.Second,
		LogLevel:            utils.LogLevelWarn,
		Encoding:            tokenizer.DefaultEncoding,
		MaxModelTokens:      600,
		MaxSystemTokens:     256,
	}
}

// MemoryTokenLimit is the budget left for summary and buffered turns once
// the system message allowance is reserved.
func (c *Config) MemoryTokenLimit() int {
	return c.MaxModelTokens - c.MaxSystemTokens
}

// SummarizationToken returns the token used for summarization calls. It
// falls back to the bearer token when no separate API token is configured.
func (c *Config) SummarizationToken() string {
	if c.APIToken != "" {
		return c.APIToken
	}
	return c.BearerToken
}

type ConfigOption func(*Config)

func SetProvider(provider string) ConfigOption {
	return func(c *Config) {
		c.Provider = provider
	}
}

func SetEndpointURL(endpoint string) ConfigOption {
	return func(c *Config) {
		c.EndpointURL = endpoint
	}
}

func SetBearerToken(token string) ConfigOption {
	return func(c *Config) {
		c.BearerToken = token
	}
}

func SetAPIToken(token string) ConfigOption {
	return func(c *Config) {
		c.APIToken = token
	}
}

func SetSystemMessage(message string) ConfigOption {
	return func(c *Config) {
		c.SystemMessage = message
	}
}

func SetTemperature(temperature float64) ConfigOption {
	return func(c *Config) {
		c.Temperature = temperature
	}
}

func SetMaxNewTokens(maxNewTokens int) ConfigOption {
	return func(c *Config) {
		if maxNewTokens < 1 {
			maxNewTokens = 1
		}
		c.MaxNewTokens = maxNewTokens
	}
}

func SetTimeout(timeout time.Duration) ConfigOption {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

func SetRateLimit(perSecond float64) ConfigOption {
	return func(c *Config) {
		c.RateLimit = perSecond
	}
}

func SetLogLevel(level utils.LogLevel) ConfigOption {
	return func(c *Config) {
		c.LogLevel = level
	}
}

func SetLogFile(path string) ConfigOption {
	return func(c *Config) {
		c.LogFile = path
	}
}

func SetEncoding(encoding string) ConfigOption {
	return func(c *Config) {
		c.Encoding = encoding
	}
}

// SetTokenBudget sets the total prompt budget and the share reserved for
// the system message.
func SetTokenBudget(maxModelTokens, maxSystemTokens int) ConfigOption {
	return func(c *Config) {
		c.MaxModelTokens = maxModelTokens
		c.MaxSystemTokens = maxSystemTokens
	}
}

func SetExtraHeaders(headers map[string]string) ConfigOption {
	return func(c *Config) {
		if c.ExtraHeaders == nil {
			c.ExtraHeaders = make(map[string]string)
		}
		for k, v := range headers {
			c.ExtraHeaders[k] = v
		}
	}
}

func ApplyOptions(cfg *Config, options ...ConfigOption) {
	for _, option := range options {
		option(cfg)
	}
}
