package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config 应用配置
type Config struct {
	Env  string `validate:"required"`
	Port string `validate:"required,numeric"`

	DBDriver    string `validate:"oneof=postgres sqlite"`
	DatabaseURL string `validate:"required_if=DBDriver postgres"`
	SQLitePath  string `validate:"required_if=DBDriver sqlite"`
	IndexPath   string // 为空时使用内存索引

	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	EmbeddingDim int `validate:"gt=0"`
	OllamaHost   string
	OllamaModel  string

	TMDBToken        string
	ReadwiseToken    string
	RaindropToken    string
	YouTubeAPIKey    string
	YouTubePlaylists []string
	PodcastFeeds     []string
	PaperlessURL     string `validate:"omitempty,url"`
	PaperlessToken   string
	VaultPath        string

	EnrichDelay       time.Duration `validate:"gte=0"`
	EnrichBatchSize   int           `validate:"gt=0"`
	EnrichMaxAttempts int           `validate:"gt=0"`
	EnrichInterval    time.Duration `validate:"gte=0"` // 0 表示不定时执行
	SyncInterval      time.Duration `validate:"gte=0"`
	SyncPageDelay     time.Duration `validate:"gte=0"`

	PropagationRetryMax int `validate:"gte=0"`
	ReindexBatchSize    int `validate:"gt=0"`
}

// Load 加载配置
func Load() *Config {
	dbUser := getEnv("DB_USER", "postgres")
	dbPass := getEnv("DB_PASSWORD", "postgres")
	dbHost := getEnv("DB_HOST", "localhost")
	dbPort := getEnv("DB_PORT", "5432")
	dbName := getEnv("DB_NAME", "medialib")
	dbSSL := getEnv("DB_SSLMODE", "disable")

	dbURL := getEnv("DATABASE_URL", fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbUser, dbPass, dbHost, dbPort, dbName, dbSSL))

	env := getEnv("APP_ENV", "development")
	logFormat := "console"
	if env == "production" {
		logFormat = "json"
	}

	return &Config{
		Env:         env,
		Port:        getEnv("PORT", "5007"),
		DBDriver:    getEnv("DB_DRIVER", "postgres"),
		DatabaseURL: dbURL,
		SQLitePath:  getEnv("SQLITE_PATH", "medialib.db"),
		IndexPath:   getEnv("INDEX_PATH", "data/search.bleve"),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: getEnv("LOG_FORMAT", logFormat),

		EmbeddingDim: getEnvInt("EMBEDDING_DIM", 768),
		OllamaHost:   getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OllamaModel:  getEnv("OLLAMA_MODEL", "nomic-embed-text"),

		TMDBToken:        os.Getenv("TMDB_TOKEN"),
		ReadwiseToken:    os.Getenv("READWISE_TOKEN"),
		RaindropToken:    os.Getenv("RAINDROP_TOKEN"),
		YouTubeAPIKey:    os.Getenv("YOUTUBE_API_KEY"),
		YouTubePlaylists: getEnvList("YOUTUBE_PLAYLISTS"),
		PodcastFeeds:     getEnvList("PODCAST_FEEDS"),
		PaperlessURL:     os.Getenv("PAPERLESS_URL"),
		PaperlessToken:   os.Getenv("PAPERLESS_TOKEN"),
		VaultPath:        os.Getenv("VAULT_PATH"),

		EnrichDelay:       getEnvDuration("ENRICH_DELAY", 1500*time.Millisecond),
		EnrichBatchSize:   getEnvInt("ENRICH_BATCH_SIZE", 50),
		EnrichMaxAttempts: getEnvInt("ENRICH_MAX_ATTEMPTS", 3),
		EnrichInterval:    getEnvDuration("ENRICH_INTERVAL", 6*time.Hour),
		SyncInterval:      getEnvDuration("SYNC_INTERVAL", time.Hour),
		SyncPageDelay:     getEnvDuration("SYNC_PAGE_DELAY", time.Second),

		PropagationRetryMax: getEnvInt("PROPAGATION_RETRY_MAX", 5),
		ReindexBatchSize:    getEnvInt("REINDEX_BATCH_SIZE", 200),
	}
}

var validate = validator.New()

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("配置无效: %w", err)
	}
	return nil
}

// IsProduction 是否生产环境
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration 支持 "1500ms"、"2h" 以及纯数字（按秒）
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultValue
}

// getEnvList 逗号分隔列表，忽略空项
func getEnvList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
