package models

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the service configuration
type Config struct {
	// Server config
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Env      string `yaml:"env"`       // "development" or "production"
	LogLevel string `yaml:"log_level"` // zerolog level name

	AI         AIConfig         `yaml:"ai"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Session    SessionConfig    `yaml:"session"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Events     EventsConfig     `yaml:"events"`
	Registry   RegistryConfig   `yaml:"registry"`
	Issuance   IssuanceConfig   `yaml:"issuance"`
	Auth       AuthConfig       `yaml:"auth"`
}

// AIConfig represents AI provider configuration
type AIConfig struct {
	// OpenAI
	OpenAI OpenAIConfig `yaml:"openai"`

	// Gemini
	Gemini GeminiConfig `yaml:"gemini"`

	// Ollama (local, OpenAI compatible endpoint)
	Ollama OllamaConfig `yaml:"ollama"`

	// Default provider
	DefaultProvider string `yaml:"default_provider"` // "openai", "gemini", "ollama", "rules"
}

// OpenAIConfig for OpenAI/Azure OpenAI
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"` // For custom endpoints
	Model   string `yaml:"model"`              // Default: "gpt-4o-mini"
}

// GeminiConfig for Google Gemini
type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"` // Default: "gemini-1.5-flash"
}

// OllamaConfig for local Ollama
type OllamaConfig struct {
	BaseURL string `yaml:"base_url"` // Default: "http://localhost:11434/v1"
	Model   string `yaml:"model"`    // e.g., "llama3"
}

// ExtractionConfig controls the hybrid router
type ExtractionConfig struct {
	Hybrid  bool          `yaml:"hybrid"`  // classify before calling the model
	Focused bool          `yaml:"focused"` // try the message-less extractor first
	Timeout time.Duration `yaml:"timeout"` // per model call
	// Composer selects how incomplete-data replies are written: "template" or "authored"
	Composer string `yaml:"composer"`
}

// SessionConfig controls session lifetime and locking
type SessionConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	Backend     string        `yaml:"backend"` // "memory" or "redis"
}

// DatabaseConfig for the snapshot database
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RedisConfig for the active session backend
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// StorageConfig for the MinIO document archive
type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// EventsConfig for the RabbitMQ publisher
type EventsConfig struct {
	URL      string `yaml:"url"`
	Exchange string `yaml:"exchange"`
}

// RegistryConfig for the company registry lookup
type RegistryConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// IssuanceConfig for the issuance gateway
type IssuanceConfig struct {
	ProviderCNPJ string `yaml:"provider_cnpj"`
	// Archive stores the issued receipt in the document bucket
	Archive bool `yaml:"archive"`
}

// AuthConfig for gateway authentication
type AuthConfig struct {
	JWTSecret string          `yaml:"jwt_secret"`
	TokenTTL  time.Duration   `yaml:"token_ttl"`
	Clients   []GatewayClient `yaml:"clients"`
}

// GatewayClient is a chat channel allowed to call the message endpoint
type GatewayClient struct {
	ID         string   `yaml:"id"`
	SecretHash string   `yaml:"secret_hash"` // bcrypt
	Tenant     string   `yaml:"tenant"`
	Phones     []string `yaml:"phones"` // empty means every phone of the tenant is accepted
}

// DefaultConfig returns the configuration used when no file is present
func DefaultConfig() Config {
	return Config{
		Port:     8080,
		Host:     "0.0.0.0",
		Env:      "production",
		LogLevel: "info",
		AI: AIConfig{
			OpenAI:          OpenAIConfig{Model: "gpt-4o-mini"},
			Gemini:          GeminiConfig{Model: "gemini-1.5-flash"},
			Ollama:          OllamaConfig{BaseURL: "http://localhost:11434/v1", Model: "llama3"},
			DefaultProvider: "rules",
		},
		Extraction: ExtractionConfig{
			Hybrid:   true,
			Focused:  true,
			Timeout:  20 * time.Second,
			Composer: "template",
		},
		Session: SessionConfig{
			TTL:         time.Hour,
			LockTimeout: 30 * time.Second,
			Backend:     "memory",
		},
		Storage: StorageConfig{
			Endpoint: "minio:9000",
			Bucket:   "nfse",
		},
		Events: EventsConfig{Exchange: "nfse.events"},
		Registry: RegistryConfig{
			BaseURL: "https://brasilapi.com.br",
			Timeout: 5 * time.Second,
		},
		Auth: AuthConfig{TokenTTL: 24 * time.Hour},
	}
}

// LoadConfig reads the YAML file (optional) and applies environment overrides
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
		// defaults + environment only
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(&config)

	if config.Session.TTL <= 0 {
		return nil, fmt.Errorf("session ttl must be positive")
	}
	return &config, nil
}

// applyEnv overrides with environment variables if present
func applyEnv(config *Config) {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if env := os.Getenv("ENV"); env != "" {
		config.Env = env
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.LogLevel = level
	}
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.AI.OpenAI.APIKey = apiKey
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		config.AI.OpenAI.BaseURL = baseURL
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		config.AI.OpenAI.Model = model
	}
	if apiKey := os.Getenv("GEMINI_API_KEY"); apiKey != "" {
		config.AI.Gemini.APIKey = apiKey
	}
	if model := os.Getenv("GEMINI_MODEL"); model != "" {
		config.AI.Gemini.Model = model
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		config.AI.Ollama.BaseURL = baseURL
	}
	if provider := os.Getenv("AI_PROVIDER"); provider != "" {
		config.AI.DefaultProvider = provider
	}
	if url := os.Getenv("DATABASE_URL"); url != "" {
		config.Database.URL = url
	} else if url := databaseURLFromParts(); url != "" {
		config.Database.URL = url
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		config.Redis.Addr = addr
		config.Session.Backend = "redis"
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		config.Redis.Password = password
	}
	if endpoint := os.Getenv("MINIO_ENDPOINT"); endpoint != "" {
		config.Storage.Endpoint = endpoint
	}
	if accessKey := os.Getenv("MINIO_ACCESS_KEY"); accessKey != "" {
		config.Storage.AccessKey = accessKey
	}
	if secretKey := os.Getenv("MINIO_SECRET_KEY"); secretKey != "" {
		config.Storage.SecretKey = secretKey
	}
	if bucket := os.Getenv("MINIO_BUCKET"); bucket != "" {
		config.Storage.Bucket = bucket
	}
	if os.Getenv("MINIO_USE_SSL") == "true" {
		config.Storage.UseSSL = true
	}
	if url := os.Getenv("AMQP_URL"); url != "" {
		config.Events.URL = url
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if ttl := os.Getenv("SESSION_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.Session.TTL = d
		}
	}
}

// databaseURLFromParts builds a URL from DB_HOST, DB_PORT, DB_USER,
// DB_PASSWORD and DB_NAME when DATABASE_URL is not set
func databaseURLFromParts() string {
	host := os.Getenv("DB_HOST")
	user := os.Getenv("DB_USER")
	dbname := os.Getenv("DB_NAME")
	if host == "" || user == "" || dbname == "" {
		return ""
	}
	port := os.Getenv("DB_PORT")
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("postgresql://%s:%s@%s:%s/%s?sslmode=disable",
		user, os.Getenv("DB_PASSWORD"), host, port, dbname)
}
