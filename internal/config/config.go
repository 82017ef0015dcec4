// Package config loads process-wide configuration from the environment.
// A .env file in the working directory is honored if present; all values
// are read once at startup and never mutated afterwards.
package config

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// defaultSideEffectCalls are the ERPNext operations known to write ledgers or
// mutate documents. Call edges into any of these are surfaced as side-effect
// markers so ordering dependencies between methods stay visible downstream.
var defaultSideEffectCalls = []string{
	"make_gl_entries",
	"make_sl_entries",
	"update_stock_ledger",
	"repost_future_sle_and_gle",
	"db_set",
	"set_value",
	"db_update",
	"submit",
	"cancel",
	"save",
	"insert",
	"delete_doc",
	"enqueue",
}

// Config holds every tunable the tool reads from the environment.
type Config struct {
	// GoogleAPIKey authenticates against the embedding service.
	GoogleAPIKey string `envconfig:"GOOGLE_API_KEY"`

	// GroqAPIKeys is an ordered, comma-separated list of generation-service
	// credentials. The order defines the rotation order under quota pressure.
	GroqAPIKeys string `envconfig:"GROQ_API_KEYS"`

	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-004"`
	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL" default:"https://generativelanguage.googleapis.com"`

	GenerationModel   string `envconfig:"GENERATION_MODEL" default:"llama-3.3-70b-versatile"`
	GenerationBaseURL string `envconfig:"GENERATION_BASE_URL" default:"https://api.groq.com/openai/v1"`

	// Workers caps parallel requests to the embedding service. This is a quota
	// ceiling, not a throughput knob: raising it past the service's request
	// rate is the fastest way to cascade into sustained 429s.
	Workers int `envconfig:"WORKERS" default:"3"`

	// AttemptsPerKey bounds quota retries at AttemptsPerKey * pool size.
	AttemptsPerKey int `envconfig:"ATTEMPTS_PER_KEY" default:"3"`

	// MaxHealRounds is the number of verification rounds a migration gets
	// before it is marked failed.
	MaxHealRounds int `envconfig:"MAX_HEAL_ROUNDS" default:"3"`

	// SideEffectCalls overrides the built-in side-effect registry
	// (comma-separated callable names).
	SideEffectCalls string `envconfig:"SIDE_EFFECT_CALLS"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads .env (if present) and the process environment into a Config.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

// GenerationKeys returns the generation credentials in rotation order.
func (c *Config) GenerationKeys() []string {
	return splitList(c.GroqAPIKeys)
}

// SideEffectRegistry returns the configured side-effect callable names,
// falling back to the ERPNext defaults.
func (c *Config) SideEffectRegistry() []string {
	if custom := splitList(c.SideEffectCalls); len(custom) > 0 {
		return custom
	}
	out := make([]string, len(defaultSideEffectCalls))
	copy(out, defaultSideEffectCalls)
	return out
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
