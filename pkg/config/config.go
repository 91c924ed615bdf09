// Package config loads service configuration from a YAML file, a .env file
// and environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/Scopeo/draftnrun-sub004/engine/domain"
	"github.com/Scopeo/draftnrun-sub004/engine/rag"
	"github.com/Scopeo/draftnrun-sub004/engine/schema"
	"github.com/Scopeo/draftnrun-sub004/engine/semantic"
	"github.com/Scopeo/draftnrun-sub004/engine/syncer"
	"github.com/Scopeo/draftnrun-sub004/pkg/ollama"
)

type QdrantConfig struct {
	Addr            string        `yaml:"addr"`
	CallTimeout     time.Duration `yaml:"call_timeout"`
	ScrollBatchSize int           `yaml:"scroll_batch_size"`
}

type EmbeddingConfig struct {
	BaseURL       string        `yaml:"base_url"`
	Model         string        `yaml:"model"`
	Timeout       time.Duration `yaml:"timeout"`
	RatePerSecond float64       `yaml:"rate_per_second"`
	Burst         int           `yaml:"burst"`
}

type IndexConfig struct {
	VectorSize        int    `yaml:"vector_size"`
	Distance          string `yaml:"distance"`
	MutationBatchSize int    `yaml:"mutation_batch_size"`
}

type RetrievalConfig struct {
	TopK                   int           `yaml:"top_k"`
	DateField              string        `yaml:"date_field"`
	PenaltyPerYear         float64       `yaml:"penalty_per_year"`
	MaxDecayYears          float64       `yaml:"max_decay_years"`
	MissingDatePenalty     *float64      `yaml:"missing_date_penalty"`
	MaxResultsAfterPenalty int           `yaml:"max_results_after_penalty"`
	SearchTimeout          time.Duration `yaml:"search_timeout"`
}

type SchemasConfig struct {
	Default domain.IndexSchema            `yaml:"default"`
	Indexes map[string]domain.IndexSchema `yaml:"indexes"`
}

// HTTPConfig configures cmd/api. SearchRatePerSecond caps accepted search
// requests; zero disables the cap.
type HTTPConfig struct {
	Port                string  `yaml:"port"`
	CORSOrigin          string  `yaml:"cors_origin"`
	SearchRatePerSecond float64 `yaml:"search_rate_per_second"`
	SearchBurst         int     `yaml:"search_burst"`
}

// Config is the root configuration shared by every binary.
type Config struct {
	Qdrant      QdrantConfig    `yaml:"qdrant"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	Index       IndexConfig     `yaml:"index"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Schemas     SchemasConfig   `yaml:"schemas"`
	LockDir     string          `yaml:"lock_dir"`
	NATSURL     string          `yaml:"nats_url"`
	MetricsPort int             `yaml:"metrics_port"`
	HTTP        HTTPConfig      `yaml:"http"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Qdrant: QdrantConfig{
			Addr:            "localhost:6334",
			CallTimeout:     30 * time.Second,
			ScrollBatchSize: 1000,
		},
		Embedding: EmbeddingConfig{
			BaseURL: "http://localhost:11434",
			Model:   "nomic-embed-text",
			Timeout: 60 * time.Second,
			Burst:   1,
		},
		Index: IndexConfig{
			VectorSize:        768,
			Distance:          "cosine",
			MutationBatchSize: syncer.DefaultMutationBatchSize,
		},
		Retrieval: RetrievalConfig{
			TopK:           5,
			PenaltyPerYear: 0.05,
			MaxDecayYears:  5,
			SearchTimeout:  5 * time.Second,
		},
		Schemas:     SchemasConfig{Default: domain.DefaultIndexSchema()},
		NATSURL:     "nats://localhost:4222",
		MetricsPort: 9090,
		HTTP:        HTTPConfig{Port: "8080", CORSOrigin: "*"},
	}
}

// LoadDotenv loads .env files into the environment without overriding
// variables that are already set. Missing files are ignored.
func LoadDotenv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			_ = godotenv.Load(p)
		}
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty or missing path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func (c *Config) applyEnv() error {
	c.Qdrant.Addr = envOr("QDRANT_URL", c.Qdrant.Addr)
	c.Embedding.BaseURL = envOr("OLLAMA_URL", c.Embedding.BaseURL)
	c.Embedding.Model = envOr("EMBED_MODEL", c.Embedding.Model)
	c.Index.Distance = envOr("INDEX_DISTANCE", c.Index.Distance)
	c.LockDir = envOr("LOCK_DIR", c.LockDir)
	c.NATSURL = envOr("NATS_URL", c.NATSURL)
	c.HTTP.Port = envOr("PORT", c.HTTP.Port)
	c.HTTP.CORSOrigin = envOr("CORS_ORIGIN", c.HTTP.CORSOrigin)

	ints := []struct {
		key string
		dst *int
	}{
		{"INDEX_VECTOR_SIZE", &c.Index.VectorSize},
		{"INDEX_MUTATION_BATCH_SIZE", &c.Index.MutationBatchSize},
		{"QDRANT_SCROLL_BATCH_SIZE", &c.Qdrant.ScrollBatchSize},
		{"RETRIEVAL_TOP_K", &c.Retrieval.TopK},
		{"METRICS_PORT", &c.MetricsPort},
	}
	for _, e := range ints {
		if v := os.Getenv(e.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", e.key, err)
			}
			*e.dst = n
		}
	}
	durs := []struct {
		key string
		dst *time.Duration
	}{
		{"QDRANT_CALL_TIMEOUT", &c.Qdrant.CallTimeout},
		{"EMBED_TIMEOUT", &c.Embedding.Timeout},
	}
	for _, e := range durs {
		if v := os.Getenv(e.key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("config: %s: %w", e.key, err)
			}
			*e.dst = d
		}
	}
	return nil
}

// Validate rejects settings the engines cannot run with.
func (c Config) Validate() error {
	positive := []struct {
		name string
		v    int
	}{
		{"qdrant.scroll_batch_size", c.Qdrant.ScrollBatchSize},
		{"index.vector_size", c.Index.VectorSize},
		{"index.mutation_batch_size", c.Index.MutationBatchSize},
		{"retrieval.top_k", c.Retrieval.TopK},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return domain.NewValidationError(p.name, strconv.Itoa(p.v), errors.New("must be positive"))
		}
	}
	if _, err := semantic.ParseDistance(c.Index.Distance); err != nil {
		return domain.NewValidationError("index.distance", c.Index.Distance, err)
	}
	if c.Retrieval.PenaltyPerYear < 0 || c.Retrieval.MaxDecayYears < 0 {
		return domain.NewValidationError("retrieval.penalty_per_year", fmt.Sprint(c.Retrieval.PenaltyPerYear), errors.New("must not be negative"))
	}
	return nil
}

// StoreOptions returns the vector store client options.
func (c Config) StoreOptions() semantic.StoreOptions {
	return semantic.StoreOptions{CallTimeout: c.Qdrant.CallTimeout, ScrollBatchSize: c.Qdrant.ScrollBatchSize}
}

// EmbedOptions returns the embedding client options.
func (c Config) EmbedOptions() ollama.Options {
	return ollama.Options{Timeout: c.Embedding.Timeout, RatePerSecond: c.Embedding.RatePerSecond, Burst: c.Embedding.Burst}
}

// SyncOptions returns sync engine options. Locker, metrics and logger are
// left to the caller.
func (c Config) SyncOptions() syncer.Options {
	opts := syncer.DefaultOptions()
	opts.MutationBatchSize = c.Index.MutationBatchSize
	opts.VectorSize = c.Index.VectorSize
	opts.Distance, _ = semantic.ParseDistance(c.Index.Distance)
	return opts
}

// RetrievalOptions returns retrieval options.
func (c Config) RetrievalOptions() rag.Options {
	opts := rag.DefaultOptions()
	opts.TopK = c.Retrieval.TopK
	opts.DateField = c.Retrieval.DateField
	opts.PenaltyPerYear = c.Retrieval.PenaltyPerYear
	opts.MaxDecayYears = c.Retrieval.MaxDecayYears
	opts.MissingDatePenalty = c.Retrieval.MissingDatePenalty
	opts.MaxResultsAfterPenalty = c.Retrieval.MaxResultsAfterPenalty
	if c.Retrieval.SearchTimeout > 0 {
		opts.SearchTimeout = c.Retrieval.SearchTimeout
	}
	return opts
}

// Registry builds the schema registry from the schemas section.
func (c Config) Registry(logger *slog.Logger) *schema.Registry {
	reg := schema.NewRegistry(c.Schemas.Default, logger)
	reg.Load(c.Schemas.Indexes)
	return reg
}
