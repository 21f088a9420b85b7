// Package config provides layered configuration loading and validation for the
// reel agent: defaults, then a YAML file, then REEL_ environment variables,
// then explicitly set command-line flags.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/Augustas11/krisskross-jobs-sub000/internal/cache"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/history"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/llm"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/render"
	"github.com/Augustas11/krisskross-jobs-sub000/internal/storage/objectstore"
)

// EnvPrefix is the prefix of environment overrides. A double underscore
// separates sections: REEL_LLM__API_KEY sets llm.api_key.
const EnvPrefix = "REEL_"

// DefaultFiles are searched in order when no config file is given
var DefaultFiles = []string{"reel_agent.yaml", "reel_agent.yml"}

// Store drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Port            int           `koanf:"port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"`
	// RateLimit is generation requests per client per minute; zero disables limiting
	RateLimit       int           `koanf:"rate_limit" validate:"min=0"`
	RateBurst       int           `koanf:"rate_burst" validate:"min=0"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes" validate:"min=1"`
}

// StoreConfig selects the history and cache backend
type StoreConfig struct {
	Driver      string `koanf:"driver" validate:"oneof=memory postgres sqlite"`
	DatabaseURL string `koanf:"database_url" validate:"required_if=Driver postgres"`
	SQLitePath  string `koanf:"sqlite_path" validate:"required_if=Driver sqlite"`
	AutoMigrate bool   `koanf:"auto_migrate"`
}

// LLMConfig configures the generation service
type LLMConfig struct {
	Provider        string            `koanf:"provider" validate:"omitempty,oneof=gemini"`
	APIKey          string            `koanf:"api_key"`
	Models          map[string]string `koanf:"models"`
	Temperature     float32           `koanf:"temperature" validate:"min=0,max=2"`
	MaxOutputTokens int32             `koanf:"max_output_tokens" validate:"min=1"`
}

// RenderConfig configures the external rendering service
type RenderConfig struct {
	BaseURL      string        `koanf:"base_url" validate:"omitempty,url"`
	APIKey       string        `koanf:"api_key"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"min=0"`
	MaxAttempts  int           `koanf:"max_attempts" validate:"min=1"`
	MinDuration  int           `koanf:"min_duration" validate:"min=1"`
	MaxDuration  int           `koanf:"max_duration" validate:"gtefield=MinDuration"`
	HTTPTimeout  time.Duration `koanf:"http_timeout" validate:"min=0"`
	Concurrency  int           `koanf:"concurrency" validate:"min=0"`
	Archive      bool          `koanf:"archive"`
}

// CacheConfig configures the perceptual analysis cache
type CacheConfig struct {
	Threshold int           `koanf:"threshold" validate:"min=0,max=64"`
	Retention time.Duration `koanf:"retention" validate:"min=0"`
}

// VariationsConfig configures the fan-out engine
type VariationsConfig struct {
	Width int `koanf:"width" validate:"min=1,max=12"`
}

// PipelineConfig configures the stage orchestrator
type PipelineConfig struct {
	StrictTransitions bool `koanf:"strict_transitions"`
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=text json"`
}

// Config holds every setting of the reel agent
type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Store       StoreConfig        `koanf:"store"`
	LLM         LLMConfig          `koanf:"llm"`
	Render      RenderConfig       `koanf:"render"`
	Cache       CacheConfig        `koanf:"cache"`
	Variations  VariationsConfig   `koanf:"variations"`
	Pipeline    PipelineConfig     `koanf:"pipeline"`
	ObjectStore objectstore.Config `koanf:"object_store"`
	Pricing     history.Pricing    `koanf:"pricing"`
	Log         LogConfig          `koanf:"log"`

	// File is the config file that was loaded, if any
	File string `koanf:"-"`
}

// Defaults returns the built-in settings as a flat key map
func Defaults() map[string]any {
	llmCfg := llm.DefaultConfig()
	renderCfg := render.DefaultConfig()
	pricing := history.DefaultPricing()

	return map[string]any{
		"server.port":             8080,
		"server.shutdown_timeout": "15s",
		"server.rate_limit":       10,
		"server.rate_burst":       3,
		"server.max_upload_bytes": int64(10 << 20),

		"store.driver":       DriverMemory,
		"store.sqlite_path":  "reel_agent.db",
		"store.auto_migrate": true,

		"llm.provider":          string(llmCfg.Provider),
		"llm.models.lite":       llmCfg.Models[llm.TierLite],
		"llm.models.standard":   llmCfg.Models[llm.TierStandard],
		"llm.models.vision":     llmCfg.Models[llm.TierVision],
		"llm.temperature":       llmCfg.Temperature,
		"llm.max_output_tokens": llmCfg.MaxOutputTokens,

		"render.poll_interval": renderCfg.PollInterval.String(),
		"render.max_attempts":  renderCfg.MaxAttempts,
		"render.min_duration":  renderCfg.MinDuration,
		"render.max_duration":  renderCfg.MaxDuration,
		"render.http_timeout":  renderCfg.HTTPTimeout.String(),
		"render.concurrency":   4,

		"cache.threshold": cache.DefaultThreshold,
		"cache.retention": cache.DefaultRetention.String(),

		"variations.width": 12,

		"pipeline.strict_transitions": false,

		"object_store.region":         "us-east-1",
		"object_store.bucket_images":  "reel-products",
		"object_store.bucket_renders": "reel-renders",

		"pricing.analysis":          pricing.Analysis,
		"pricing.script":            pricing.Script,
		"pricing.composition":       pricing.Composition,
		"pricing.optimization":      pricing.Optimization,
		"pricing.render_per_second": pricing.RenderPerSecond,
		"pricing.per_image":         pricing.PerImage,

		"log.level":  "info",
		"log.format": "text",
	}
}

// Load builds the configuration.
// Precedence (highest to lowest): flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(Defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", used, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
			// Only load flags that were explicitly set
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				return "", nil
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}
	cfg.File = used

	// Well-known variables are honoured when the prefixed form is unset
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.Store.DatabaseURL == "" {
		cfg.Store.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps command-line flags onto config keys
var flagKeys = map[string]string{
	"port":         "server.port",
	"store":        "store.driver",
	"database-url": "store.database_url",
	"sqlite-path":  "store.sqlite_path",
	"render-url":   "render.base_url",
	"width":        "variations.width",
	"strict":       "pipeline.strict_transitions",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// envKey turns REEL_LLM__API_KEY into llm.api_key
func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(s, "__", ".")
}

func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range DefaultFiles {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// ValidationError lists every invalid setting
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "config error: invalid " + strings.Join(e.Fields, ", ")
}

// Validate checks that the configuration has valid values
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return fmt.Errorf("config error: %w", err)
	}
	out := &ValidationError{}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, fmt.Sprintf("%s (%s)", fe.Namespace(), fe.Tag()))
	}
	return out
}

// LLMSettings converts the llm section into the client configuration
func (c *Config) LLMSettings() *llm.Config {
	out := llm.DefaultConfig()
	if c.LLM.Provider != "" {
		out.Provider = llm.Provider(c.LLM.Provider)
	}
	for tier, model := range c.LLM.Models {
		if model != "" {
			out = out.WithModel(llm.ModelTier(tier), model)
		}
	}
	out.Temperature = c.LLM.Temperature
	out.MaxOutputTokens = c.LLM.MaxOutputTokens
	return out
}

// RenderSettings converts the render section into the client configuration
func (c *Config) RenderSettings() render.Config {
	return render.Config{
		BaseURL:      c.Render.BaseURL,
		APIKey:       c.Render.APIKey,
		PollInterval: c.Render.PollInterval,
		MaxAttempts:  c.Render.MaxAttempts,
		MinDuration:  c.Render.MinDuration,
		MaxDuration:  c.Render.MaxDuration,
		HTTPTimeout:  c.Render.HTTPTimeout,
	}
}

// CacheSettings converts the cache section into the cache configuration
func (c *Config) CacheSettings() cache.Config {
	return cache.Config{Threshold: c.Cache.Threshold, Retention: c.Cache.Retention}
}
