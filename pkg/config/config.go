package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	OpenAI      OpenAIConfig      `mapstructure:"openai"`
	Agent       AgentConfig       `mapstructure:"agent"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Telegram    TelegramConfig    `mapstructure:"telegram"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
	// Fixtures seeds the in-memory store.
	Fixtures    string `mapstructure:"fixtures"`
}

// RedisConfig enables the shared ticket lock and the reply cache when URL
// is set.
type RedisConfig struct {
	URL     string        `mapstructure:"url"`
	LockTTL time.Duration `mapstructure:"lock_ttl"`
}

type OpenAIConfig struct {
	APIKey         string  `mapstructure:"api_key"`
	BaseURL        string  `mapstructure:"base_url"`
	Model          string  `mapstructure:"model"`
	EmbeddingModel string  `mapstructure:"embedding_model"`
	MaxTokens      int     `mapstructure:"max_tokens"`
	Temperature    float64 `mapstructure:"temperature"`
}

type AgentConfig struct {
	MaxRoundTrips  int           `mapstructure:"max_round_trips"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	SystemPrompt   string        `mapstructure:"system_prompt"`
}

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

type RetrievalConfig struct {
	Backend       string  `mapstructure:"backend"`
	ChunkSize     int     `mapstructure:"chunk_size"`
	Overlap       int     `mapstructure:"overlap"`
	TopK          int     `mapstructure:"top_k"`
	Threshold     float64 `mapstructure:"threshold"`
	HighThreshold float64 `mapstructure:"high_threshold"`
}

type IdempotencyConfig struct {
	TTL time.Duration `mapstructure:"ttl"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
	// Profiles links Telegram user ids to customer profile ids.
	Profiles map[string]string `mapstructure:"profiles"`
}

// ProfileMap returns Profiles keyed by numeric Telegram user id.
func (t TelegramConfig) ProfileMap() (map[int64]string, error) {
	profiles := make(map[int64]string, len(t.Profiles))
	for user, profile := range t.Profiles {
		id, err := strconv.ParseInt(user, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("telegram user id %q: %w", user, err)
		}
		if profile == "" {
			return nil, fmt.Errorf("telegram user %d has no profile", id)
		}
		profiles[id] = profile
	}
	return profiles, nil
}

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	// Set default values
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.use_in_memory", false)
	v.SetDefault("redis.lock_ttl", "30s")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.embedding_model", "text-embedding-ada-002")
	v.SetDefault("openai.max_tokens", 1024)
	v.SetDefault("openai.temperature", 0.2)
	v.SetDefault("agent.max_round_trips", 8)
	v.SetDefault("agent.request_timeout", "2m")
	v.SetDefault("retrieval.backend", BackendMemory)
	v.SetDefault("retrieval.chunk_size", 1000)
	v.SetDefault("retrieval.overlap", 50)
	v.SetDefault("retrieval.top_k", 3)
	v.SetDefault("retrieval.threshold", 0.70)
	v.SetDefault("retrieval.high_threshold", 0.85)
	v.SetDefault("idempotency.ttl", "24h")

	// Enable environment variable support
	v.AutomaticEnv()

	// Read the config file
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("DATABASE_URL"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		dbConfig.Fixtures = config.Database.Fixtures
		config.Database = dbConfig
	}

	// Get other environment variables
	if token := v.GetString("TELEGRAM_TOKEN"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("OPENAI_API_KEY"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if redisURL := v.GetString("REDIS_URL"); redisURL != "" {
		config.Redis.URL = redisURL
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) validate() error {
	switch c.Retrieval.Backend {
	case BackendMemory:
	case BackendPostgres:
		if c.Database.UseInMemory {
			return fmt.Errorf("retrieval backend %q requires a postgres database", BackendPostgres)
		}
	default:
		return fmt.Errorf("unknown retrieval backend %q", c.Retrieval.Backend)
	}
	if c.Retrieval.ChunkSize <= 0 {
		return fmt.Errorf("retrieval chunk size %d must be positive", c.Retrieval.ChunkSize)
	}
	if c.Retrieval.Overlap < 0 || c.Retrieval.Overlap >= c.Retrieval.ChunkSize {
		return fmt.Errorf("retrieval overlap %d must be in [0, %d)", c.Retrieval.Overlap, c.Retrieval.ChunkSize)
	}
	if _, err := c.Telegram.ProfileMap(); err != nil {
		return err
	}
	return nil
}
