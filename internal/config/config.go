package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Graph store connection
	GraphStoreURL    string
	GraphStoreAPIKey string

	// Auth
	ServiceAPIKey string

	// Claude extraction
	AnthropicAPIKey string
	AnthropicModel  string
	LLMTimeout      time.Duration

	// Worker pool
	WorkerCount          int
	MaxQueueSize         int
	MaxConcurrentExtract int
	MaxConcurrentPublish int

	// Upload limits
	MaxUploadBytes int64

	// Sectioning
	MaxSectionRunes int

	// Matcher vocabulary override (YAML), empty for built-in
	VocabPath string

	// Referral-path policy override: empty derives from document type
	RequireReferralPath string

	// Job state
	JobTTL time.Duration

	// PDF
	PDFFallbackPdftotext bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		GraphStoreURL:    envOr("GRAPHSTORE_URL", "http://localhost:8080"),
		GraphStoreAPIKey: os.Getenv("GRAPHSTORE_API_KEY"),

		ServiceAPIKey: os.Getenv("GRAPHBUILDER_API_KEY"),

		AnthropicAPIKey: os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:  envOr("ANTHROPIC_MODEL", "claude-sonnet-4-5-20250929"),
		LLMTimeout:      envDuration("LLM_TIMEOUT", 120*time.Second),

		WorkerCount:          envInt("WORKER_COUNT", 4),
		MaxQueueSize:         envInt("MAX_QUEUE_SIZE", 100),
		MaxConcurrentExtract: envInt("MAX_CONCURRENT_EXTRACT", 5),
		MaxConcurrentPublish: envInt("MAX_CONCURRENT_PUBLISH", 10),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 52428800), // 50MB

		MaxSectionRunes: envInt("MAX_SECTION_RUNES", 8000),

		VocabPath: os.Getenv("VOCAB_PATH"),

		RequireReferralPath: os.Getenv("REQUIRE_REFERRAL_PATH"),

		JobTTL: envDuration("JOB_TTL", 1*time.Hour),

		PDFFallbackPdftotext: envBool("PDF_FALLBACK_PDFTOTEXT", true),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 100
	}
	if cfg.MaxConcurrentExtract <= 0 {
		cfg.MaxConcurrentExtract = 5
	}
	if cfg.MaxConcurrentPublish <= 0 {
		cfg.MaxConcurrentPublish = 10
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 52428800
	}
	if cfg.MaxSectionRunes <= 0 {
		cfg.MaxSectionRunes = 8000
	}
	if cfg.LLMTimeout <= 0 {
		cfg.LLMTimeout = 120 * time.Second
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.GraphStoreAPIKey == "" {
		return fmt.Errorf("GRAPHSTORE_API_KEY is required")
	}
	if c.ServiceAPIKey == "" {
		return fmt.Errorf("GRAPHBUILDER_API_KEY is required")
	}
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	switch c.RequireReferralPath {
	case "", "true", "false":
	default:
		return fmt.Errorf("REQUIRE_REFERRAL_PATH must be empty, true, or false")
	}
	return nil
}

// ReferralOverride returns the configured referral-path policy, or nil when
// the document type decides.
func (c Config) ReferralOverride() *bool {
	switch c.RequireReferralPath {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
