package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Provider ProviderConfig `mapstructure:"provider"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Embedder EmbedderConfig `mapstructure:"embedder"`
	Vector   VectorConfig   `mapstructure:"vector"`
	Tracing  TracingConfig  `mapstructure:"tracing"`
	Audit    AuditConfig    `mapstructure:"audit"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
	HealthAddr string `mapstructure:"health_addr"`
}

type ProviderConfig struct {
	Name       string `mapstructure:"name"`
	Model      string `mapstructure:"model"`
	EmbedModel string `mapstructure:"embed_model"`
	APIKey     string `mapstructure:"api_key"`
	BaseURL    string `mapstructure:"base_url"`

	RequestsPerMinute int `mapstructure:"requests_per_minute"`
	BurstSize         int `mapstructure:"burst_size"`
}

type PipelineConfig struct {
	ChunkSize    int           `mapstructure:"chunk_size"`
	ChunkOverlap int           `mapstructure:"chunk_overlap"`
	MaxChunks    int           `mapstructure:"max_chunks"`
	TopK         int           `mapstructure:"top_k"`
	AskTimeout   time.Duration `mapstructure:"ask_timeout"`
}

type EmbedderConfig struct {
	Dimension   int           `mapstructure:"dimension"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

type VectorConfig struct {
	// Backend is "qdrant" or "memory".
	Backend string `mapstructure:"backend"`
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
}

type TracingConfig struct {
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
}

type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Output  string `mapstructure:"output"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Validate checks configuration for issues and returns warnings.
// Warnings never abort startup; a server with a missing API key still
// serves health endpoints and reports degraded.
func (c *Config) Validate() []string {
	var warnings []string

	if c.Provider.Name != "" && c.Provider.Name != "none" && c.Provider.APIKey == "" {
		warnings = append(warnings, fmt.Sprintf("provider '%s' is configured but api_key is empty", c.Provider.Name))
	}

	if c.Pipeline.ChunkSize <= 0 {
		warnings = append(warnings, fmt.Sprintf("pipeline chunk_size %d is not positive, default will be used", c.Pipeline.ChunkSize))
	}
	if c.Pipeline.ChunkOverlap < 0 || (c.Pipeline.ChunkSize > 0 && c.Pipeline.ChunkOverlap >= c.Pipeline.ChunkSize) {
		warnings = append(warnings, fmt.Sprintf("pipeline chunk_overlap %d must be in [0, chunk_size), default will be used", c.Pipeline.ChunkOverlap))
	}
	if c.Pipeline.TopK <= 0 {
		warnings = append(warnings, fmt.Sprintf("pipeline top_k %d is not positive, default will be used", c.Pipeline.TopK))
	}

	if c.Embedder.Dimension <= 0 {
		warnings = append(warnings, fmt.Sprintf("embedder dimension %d is not positive", c.Embedder.Dimension))
	}

	if c.Vector.Backend != "" && c.Vector.Backend != "qdrant" && c.Vector.Backend != "memory" {
		warnings = append(warnings, fmt.Sprintf("vector backend '%s' is unknown, expected 'qdrant' or 'memory'", c.Vector.Backend))
	}

	return warnings
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", "127.0.0.1:8000")
	v.SetDefault("server.health_addr", ":8080")

	v.SetDefault("provider.name", "gemini")
	v.SetDefault("provider.model", "gemini-2.5-flash")
	v.SetDefault("provider.embed_model", "embedding-001")
	v.SetDefault("provider.requests_per_minute", 25)
	v.SetDefault("provider.burst_size", 3)

	v.SetDefault("pipeline.chunk_size", 1000)
	v.SetDefault("pipeline.chunk_overlap", 200)
	v.SetDefault("pipeline.max_chunks", 8)
	v.SetDefault("pipeline.top_k", 5)
	v.SetDefault("pipeline.ask_timeout", 2*time.Minute)

	v.SetDefault("embedder.dimension", 768)
	v.SetDefault("embedder.max_attempts", 3)
	v.SetDefault("embedder.retry_delay", 20*time.Second)

	v.SetDefault("vector.backend", "memory")
	v.SetDefault("vector.host", "localhost")
	v.SetDefault("vector.port", 6334)

	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.output", "stdout")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load reads configuration from file and environment. An empty path skips
// the file and loads from defaults and PAGEASK_* environment variables only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PAGEASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	// GEMINI_API_KEY works as a fallback so the server runs with nothing
	// but the key exported.
	if cfg.Provider.APIKey == "" && cfg.Provider.Name == "gemini" {
		cfg.Provider.APIKey = os.Getenv("GEMINI_API_KEY")
	}

	if warnings := cfg.Validate(); len(warnings) > 0 {
		for _, warning := range warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
	}

	return &cfg, nil
}
