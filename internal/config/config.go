package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino/components/model"
)

// Config aggregates everything read from the environment.
type Config struct {
	Server    ServerConfig
	AI        AIConfig
	Session   SessionStoreConfig
	Transport TransportConfig
	Log       LogConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	session, err := loadSessionStoreConfig()
	if err != nil {
		return nil, err
	}

	transport, err := loadTransportConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:    server,
		AI:        ai,
		Session:   session,
		Transport: transport,
		Log:       loadLogConfig(),
	}, nil
}

// ServerConfig describes the reference embed API server.
type ServerConfig struct {
	Addr         string
	HistoryLimit int
}

func loadServerConfig() (ServerConfig, error) {
	historyLimit := 20
	if override, err := parseOptionalIntEnv("EMBED_HISTORY_LIMIT"); err != nil {
		return ServerConfig{}, err
	} else if override != nil {
		if *override < 1 {
			historyLimit = 1
		} else {
			historyLimit = *override
		}
	}

	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8080"
	}

	if strings.Contains(port, ":") {
		// ":8080" and "127.0.0.1:8080" are passed through as-is.
		return ServerConfig{Addr: port, HistoryLimit: historyLimit}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port, HistoryLimit: historyLimit}, nil
}

// AIConfig describes the Ark chat model backing the reference server.
type AIConfig struct {
	APIKey         string
	AccessKey      string
	SecretKey      string
	Model          string
	BaseURL        string
	Region         string
	Temperature    *float64
	TopP           *float64
	MaxTokens      *int
	StreamResponse bool
}

// Enabled reports whether credentials and a model are present.
func (c AIConfig) Enabled() bool {
	return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
}

// NewChatModel builds an Ark chat model from the configuration.
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("ark credentials or model missing: set ARK_API_KEY and Model, or ARK_ACCESS_KEY/ARK_SECRET_KEY")
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	cfg := &ark.ChatModelConfig{
		BaseURL:     c.BaseURL,
		Region:      c.Region,
		APIKey:      c.APIKey,
		AccessKey:   c.AccessKey,
		SecretKey:   c.SecretKey,
		Model:       c.Model,
		MaxTokens:   c.MaxTokens,
		Temperature: temperature,
		TopP:        topP,
	}

	return ark.NewChatModel(ctx, cfg)
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("ARK_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("ARK_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("ARK_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	stream, err := parseBoolEnv("ARK_STREAM", true)
	if err != nil {
		return AIConfig{}, err
	}

	return AIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:      strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:      strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:          strings.TrimSpace(os.Getenv("Model")),
		BaseURL:        getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:         getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:    temperature,
		TopP:           topP,
		MaxTokens:      maxTokens,
		StreamResponse: stream,
	}, nil
}

// StoreBackend names a session id store implementation.
type StoreBackend string

const (
	StoreMemory StoreBackend = "memory"
	StoreFile   StoreBackend = "file"
	StoreSQLite StoreBackend = "sqlite"
	StoreRedis  StoreBackend = "redis"
)

// SessionStoreConfig selects where visitor session ids persist.
type SessionStoreConfig struct {
	Backend        StoreBackend
	Path           string
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisNamespace string
}

func loadSessionStoreConfig() (SessionStoreConfig, error) {
	backend := StoreBackend(strings.ToLower(getEnvOrDefault("SESSION_STORE", string(StoreFile))))
	switch backend {
	case StoreMemory, StoreFile, StoreSQLite, StoreRedis:
	default:
		return SessionStoreConfig{}, fmt.Errorf("invalid SESSION_STORE value %q", backend)
	}

	redisDB, err := parseOptionalIntEnv("REDIS_DB")
	if err != nil {
		return SessionStoreConfig{}, err
	}
	db := 0
	if redisDB != nil {
		db = *redisDB
	}

	return SessionStoreConfig{
		Backend:        backend,
		Path:           getEnvOrDefault("SESSION_STORE_PATH", defaultStorePath(backend)),
		RedisAddr:      getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        db,
		RedisNamespace: getEnvOrDefault("REDIS_NAMESPACE", "embedchat"),
	}, nil
}

func defaultStorePath(backend StoreBackend) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	name := "sessions.json"
	if backend == StoreSQLite {
		name = "sessions.db"
	}
	return filepath.Join(dir, "embedchat", name)
}

// TransportKind names how chat messages are sent.
type TransportKind string

const (
	TransportHTTP      TransportKind = "http"
	TransportWebSocket TransportKind = "ws"
)

// TransportConfig tunes the embed API client.
type TransportConfig struct {
	Kind    TransportKind
	Timeout time.Duration
}

func loadTransportConfig() (TransportConfig, error) {
	kind := TransportKind(strings.ToLower(getEnvOrDefault("TRANSPORT", string(TransportHTTP))))
	if kind != TransportHTTP && kind != TransportWebSocket {
		return TransportConfig{}, fmt.Errorf("invalid TRANSPORT value %q", kind)
	}

	timeout, err := parseOptionalIntEnv("HTTP_TIMEOUT")
	if err != nil {
		return TransportConfig{}, err
	}
	seconds := 30
	if timeout != nil {
		seconds = *timeout
	}

	return TransportConfig{Kind: kind, Timeout: time.Duration(seconds) * time.Second}, nil
}

// LogConfig configures zerolog.
type LogConfig struct {
	Level  string
	Format string
}

func loadLogConfig() LogConfig {
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Format: getEnvOrDefault("LOG_FORMAT", "auto"),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
