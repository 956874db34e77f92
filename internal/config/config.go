package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// CustomProvider describes one additional OpenAI-compatible endpoint besides
// the default provider.
type CustomProvider struct {
	Name         string
	APIKey       string
	BaseURL      string
	DefaultModel string
}

// Config holds runtime configuration values for the grading workspace.
type Config struct {
	AppName string
	AppEnv  string
	AppPort string

	DatabaseURL string
	RedisURL    string
	DataDir     string

	LLMProvider string
	LLMAPIKey   string
	LLMBaseURL  string
	LLMModel    string

	Custom1 CustomProvider
	Custom2 CustomProvider
	Custom3 CustomProvider

	PriceInputPer1K     float64
	PriceOutputPer1K    float64
	ImageTokensPerImage int
	MaxOutputTokens     int
	RequestTimeout      time.Duration
	UseJSONMode         bool

	PDFDPI          int
	PDFTextMinChars int
	PDFTextMinRatio float64
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}
	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and an optional
// .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("SAGE")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "SAGE")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("data.dir", "data")
	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-5-mini")
	v.SetDefault("llm.max_output_tokens", 1200)
	v.SetDefault("llm.request_timeout_s", 120)
	v.SetDefault("llm.use_json_mode", true)
	v.SetDefault("pdf.dpi", 300)
	v.SetDefault("pdf.text_min_chars", 200)
	v.SetDefault("pdf.text_min_ratio", 0.5)

	timeoutSeconds := v.GetInt("llm.request_timeout_s")
	if timeoutSeconds <= 0 {
		timeoutSeconds = 120
	}

	cfg := Config{
		AppName:     v.GetString("app.name"),
		AppEnv:      v.GetString("app.env"),
		AppPort:     v.GetString("app.port"),
		DatabaseURL: v.GetString("database.url"),
		RedisURL:    v.GetString("redis.url"),
		DataDir:     v.GetString("data.dir"),
		LLMProvider: strings.ToLower(v.GetString("llm.provider")),
		LLMAPIKey:   v.GetString("llm.api_key"),
		LLMBaseURL:  v.GetString("llm.base_url"),
		LLMModel:    v.GetString("llm.model"),
		Custom1: CustomProvider{
			Name:         v.GetString("llm.custom1.name"),
			APIKey:       v.GetString("llm.custom1.api_key"),
			BaseURL:      v.GetString("llm.custom1.base_url"),
			DefaultModel: v.GetString("llm.custom1.model"),
		},
		Custom2: CustomProvider{
			Name:         v.GetString("llm.custom2.name"),
			APIKey:       v.GetString("llm.custom2.api_key"),
			BaseURL:      v.GetString("llm.custom2.base_url"),
			DefaultModel: v.GetString("llm.custom2.model"),
		},
		Custom3: CustomProvider{
			Name:         v.GetString("llm.custom3.name"),
			APIKey:       v.GetString("llm.custom3.api_key"),
			BaseURL:      v.GetString("llm.custom3.base_url"),
			DefaultModel: v.GetString("llm.custom3.model"),
		},
		PriceInputPer1K:     v.GetFloat64("llm.price_input_per_1k"),
		PriceOutputPer1K:    v.GetFloat64("llm.price_output_per_1k"),
		ImageTokensPerImage: v.GetInt("llm.image_tokens_per_image"),
		MaxOutputTokens:     v.GetInt("llm.max_output_tokens"),
		RequestTimeout:      time.Duration(timeoutSeconds) * time.Second,
		UseJSONMode:         v.GetBool("llm.use_json_mode"),
		PDFDPI:              v.GetInt("pdf.dpi"),
		PDFTextMinChars:     v.GetInt("pdf.text_min_chars"),
		PDFTextMinRatio:     v.GetFloat64("pdf.text_min_ratio"),
	}

	if cfg.MaxOutputTokens <= 0 {
		cfg.MaxOutputTokens = 1200
	}
	if cfg.PDFDPI <= 0 {
		cfg.PDFDPI = 300
	}
	if cfg.PDFTextMinRatio < 0 || cfg.PDFTextMinRatio > 1 {
		return Config{}, fmt.Errorf("pdf text min ratio must be within [0, 1]")
	}

	return cfg, nil
}
