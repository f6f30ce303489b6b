package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Upload    UploadConfig
	Chunking  ChunkingConfig
	Index     IndexConfig
	Retrieval RetrievalConfig
	Query     QueryConfig
	LLM       LLMConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	Logging   LoggingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int

	// AllowedOrigins feeds CORS and the connect-src security policy.
	AllowedOrigins []string
	Development    bool
}

type UploadConfig struct {
	MaxBytes int64
}

type ChunkingConfig struct {
	Size    int
	Overlap int
}

type IndexConfig struct {
	// Type is "tfidf" or "dense".
	Type string
	// Embedder is "hashing" or "openai"; only used by the dense index.
	Embedder         string
	Dimension        int
	EmbeddingModel   string
	EmbeddingBaseURL string
	EmbeddingAPIKey  string
	CacheEmbeddings  bool
}

type RetrievalConfig struct {
	MinScore float64
}

type QueryConfig struct {
	DefaultTopK       int
	MaxTopK           int
	MaxQuestionLength int
}

type LLMConfig struct {
	APIKey         string
	BaseURL        string
	SiteURL        string
	SiteName       string
	Temperature    float32
	MaxTokens      int
	Models         []ModelConfig
	CircuitBreaker CircuitBreakerConfig
}

type ModelConfig struct {
	ID               string
	Name             string
	MaxContextTokens int
	Timeout          time.Duration
}

type CircuitBreakerConfig struct {
	Enabled          bool
	FailureThreshold uint32
	OpenTimeout      time.Duration
}

type RedisConfig struct {
	Enabled      bool
	Host         string
	Port         int
	Password     string
	DB           int
	AnswerTTL    time.Duration
	EmbeddingTTL time.Duration
}

type RateLimitConfig struct {
	Enabled           bool
	RequestsPerMinute int
	Burst             int
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

// Load reads config.yaml from the usual locations, then applies DOCQA_*
// environment overrides.
func Load() (*Config, error) {
	return load("")
}

// LoadFile reads the given config file instead of searching for one.
func LoadFile(path string) (*Config, error) {
	return load(path)
}

func load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/docqa")
	}

	v.SetEnvPrefix("DOCQA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if config.LLM.APIKey == "" {
		config.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Chunking.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunking.size must be positive"))
	}
	if c.Chunking.Overlap <= 0 || c.Chunking.Overlap >= c.Chunking.Size {
		errs = append(errs, fmt.Errorf("chunking.overlap must be in (0, size)"))
	}
	if c.Upload.MaxBytes <= 0 {
		errs = append(errs, fmt.Errorf("upload.maxBytes must be positive"))
	}
	if c.Query.DefaultTopK <= 0 || c.Query.MaxTopK <= 0 || c.Query.MaxQuestionLength <= 0 {
		errs = append(errs, fmt.Errorf("query limits must be positive"))
	}
	if c.Query.DefaultTopK > c.Query.MaxTopK {
		errs = append(errs, fmt.Errorf("query.defaultTopK exceeds query.maxTopK"))
	}
	switch c.Index.Type {
	case "tfidf", "dense":
	default:
		errs = append(errs, fmt.Errorf("index.type %q is not tfidf or dense", c.Index.Type))
	}
	if c.Index.Type == "dense" {
		switch c.Index.Embedder {
		case "hashing":
		case "openai":
			if c.Index.EmbeddingAPIKey == "" {
				errs = append(errs, fmt.Errorf("index.embeddingAPIKey is required for the openai embedder"))
			}
		default:
			errs = append(errs, fmt.Errorf("index.embedder %q is not hashing or openai", c.Index.Embedder))
		}
	}
	if len(c.LLM.Models) == 0 {
		errs = append(errs, fmt.Errorf("llm.models must list at least one model"))
	}
	for i, m := range c.LLM.Models {
		if m.ID == "" {
			errs = append(errs, fmt.Errorf("llm.models[%d].id is empty", i))
		}
		if m.MaxContextTokens <= c.LLM.MaxTokens {
			errs = append(errs, fmt.Errorf("llm.models[%d].maxContextTokens must exceed llm.maxTokens", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 60)
	v.SetDefault("server.bodyLimit", 10485760)
	v.SetDefault("server.allowedOrigins", []string{"*"})
	v.SetDefault("server.development", false)

	v.SetDefault("upload.maxBytes", 5<<20)

	v.SetDefault("chunking.size", 600)
	v.SetDefault("chunking.overlap", 100)

	v.SetDefault("index.type", "tfidf")
	v.SetDefault("index.embedder", "hashing")
	v.SetDefault("index.dimension", 256)
	v.SetDefault("index.embeddingModel", "text-embedding-3-small")
	v.SetDefault("index.embeddingBaseURL", "https://api.openai.com/v1")
	v.SetDefault("index.embeddingAPIKey", "")
	v.SetDefault("index.cacheEmbeddings", false)

	v.SetDefault("retrieval.minScore", 0.0)

	v.SetDefault("query.defaultTopK", 3)
	v.SetDefault("query.maxTopK", 5)
	v.SetDefault("query.maxQuestionLength", 1000)

	v.SetDefault("llm.apiKey", "")
	v.SetDefault("llm.baseURL", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.siteURL", "https://rag-demo.onrender.com")
	v.SetDefault("llm.siteName", "RAG Demo App")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.models", []map[string]interface{}{
		{
			"id":               "nousresearch/hermes-3-llama-3.1-405b:free",
			"name":             "Hermes 3 405B",
			"maxContextTokens": 8000,
			"timeout":          "8s",
		},
		{
			"id":               "mistralai/mistral-7b-instruct:free",
			"name":             "Mistral 7B",
			"maxContextTokens": 4000,
			"timeout":          "8s",
		},
		{
			"id":               "meta-llama/llama-3.3-70b-instruct:free",
			"name":             "Llama 3.3 70B",
			"maxContextTokens": 3000,
			"timeout":          "8s",
		},
	})
	v.SetDefault("llm.circuitBreaker.enabled", true)
	v.SetDefault("llm.circuitBreaker.failureThreshold", 3)
	v.SetDefault("llm.circuitBreaker.openTimeout", "30s")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.answerTTL", "10m")
	v.SetDefault("redis.embeddingTTL", "24h")

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.requestsPerMinute", 30)
	v.SetDefault("rateLimit.burst", 10)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")
}
