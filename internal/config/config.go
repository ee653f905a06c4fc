package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultAPIBaseURL はリモート投稿APIのデフォルトのベースURL。
const DefaultAPIBaseURL = "https://posts-api-six.vercel.app"

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Remote API
	APIBaseURL   string
	StrictEgress bool

	// CLI session
	SessionFile string

	// Database (BFF)
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Session (BFF)
	SessionMaxAge int

	// Rate Limit
	RateLimitGeneral  int
	RateLimitMutation int

	// Worker
	SessionCleanupInterval time.Duration
	ViewIdleTTL            time.Duration

	// Logging
	LogLevel slog.Level

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（未指定なら .env）が存在すれば先に読み込むが、既存の環境変数は上書きしない。
// サーバー用の必須項目はValidateServerで検査する。
func Load() (*Config, error) {
	if err := loadEnvFile(os.Getenv("ENV_FILE")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.APIBaseURL = strings.TrimRight(getEnvString("API_BASE_URL", DefaultAPIBaseURL), "/")
	cfg.StrictEgress = getEnvBool("API_STRICT_EGRESS", false)
	cfg.SessionFile = getEnvString("SESSION_FILE", defaultSessionFile())
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 10)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitMutation = getEnvInt("RATE_LIMIT_MUTATION", 30)
	cfg.SessionCleanupInterval = getEnvDuration("SESSION_CLEANUP_INTERVAL", time.Hour)
	cfg.ViewIdleTTL = getEnvDuration("VIEW_IDLE_TTL", 30*time.Minute)
	cfg.LogLevel = getEnvLevel("LOG_LEVEL", slog.LevelInfo)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.BaseURL = getEnvString("BASE_URL", "http://localhost:8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// ValidateServer はBFFサーバー・ワーカー・マイグレーションに必要な設定を検査する。
func (c *Config) ValidateServer() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}
	return nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

func defaultSessionFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".postboard-session.json"
	}
	return filepath.Join(dir, "postboard", "session.json")
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvLevel(key string, defaultVal slog.Level) slog.Level {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return defaultVal
	}
	return level
}
