// Package config は環境変数と任意の.envファイルから設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// 永続化ドライバ
const (
	StoreDriverPostgres = "postgres"
	StoreDriverSQLite   = "sqlite"
)

// minSessionSecretLength はJWT署名鍵の最小バイト数。
const minSessionSecretLength = 32

// Config はアプリケーション全体の設定を保持する。
// 起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	// OAuth
	GoogleClientID     string `mapstructure:"GOOGLE_CLIENT_ID"`
	GoogleClientSecret string `mapstructure:"GOOGLE_CLIENT_SECRET"`
	GoogleRedirectURL  string `mapstructure:"GOOGLE_REDIRECT_URL"`

	// Tokens
	SessionSecret   string        `mapstructure:"SESSION_SECRET"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`
	JWTIssuer       string        `mapstructure:"JWT_ISSUER"`
	JWTAudience     string        `mapstructure:"JWT_AUDIENCE"`

	// Password login
	BcryptCost       int           `mapstructure:"BCRYPT_COST"`
	LoginMaxAttempts int           `mapstructure:"LOGIN_MAX_ATTEMPTS"`
	LoginLockout     time.Duration `mapstructure:"LOGIN_LOCKOUT"`

	// Verification
	VerificationTTL         time.Duration `mapstructure:"VERIFICATION_TTL"`
	VerificationMaxAttempts int           `mapstructure:"VERIFICATION_MAX_ATTEMPTS"`

	// Rate Limit（1分あたりのリクエスト数）
	RateLimitGeneral int `mapstructure:"RATE_LIMIT_GENERAL"`
	RateLimitAuth    int `mapstructure:"RATE_LIMIT_AUTH"`

	// Worker
	CleanupInterval time.Duration `mapstructure:"CLEANUP_INTERVAL"`
	SweepInterval   time.Duration `mapstructure:"SWEEP_INTERVAL"`

	// Logging
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogFormat string `mapstructure:"LOG_FORMAT"`

	// Server
	ServerHost string `mapstructure:"SERVER_HOST"`
	ServerPort string `mapstructure:"SERVER_PORT"`
	BaseURL    string `mapstructure:"BASE_URL"`

	// Cookie
	CookieSecure bool
	CookieDomain string `mapstructure:"COOKIE_DOMAIN"`

	// CORS
	CORSAllowedOrigin string `mapstructure:"CORS_ALLOWED_ORIGIN"`
}

// defaults は任意項目の既定値。必須項目も空文字で登録し、環境変数から読めるようにする。
var defaults = map[string]any{
	"STORE_DRIVER":              StoreDriverPostgres,
	"DATABASE_URL":              "",
	"SQLITE_PATH":               "userbook.db",
	"REDIS_URL":                 "",
	"GOOGLE_CLIENT_ID":          "",
	"GOOGLE_CLIENT_SECRET":      "",
	"GOOGLE_REDIRECT_URL":       "",
	"SESSION_SECRET":            "",
	"ACCESS_TOKEN_TTL":          "15m",
	"REFRESH_TOKEN_TTL":         "720h",
	"JWT_ISSUER":                "userbook",
	"JWT_AUDIENCE":              "userbook-api",
	"BCRYPT_COST":               12,
	"LOGIN_MAX_ATTEMPTS":        5,
	"LOGIN_LOCKOUT":             "15m",
	"VERIFICATION_TTL":          "10m",
	"VERIFICATION_MAX_ATTEMPTS": 5,
	"RATE_LIMIT_GENERAL":        120,
	"RATE_LIMIT_AUTH":           10,
	"CLEANUP_INTERVAL":          "1h",
	"SWEEP_INTERVAL":            "24h",
	"LOG_LEVEL":                 "",
	"LOG_FORMAT":                "",
	"SERVER_HOST":               "",
	"SERVER_PORT":               "8080",
	"BASE_URL":                  "",
	"COOKIE_DOMAIN":             "",
	"CORS_ALLOWED_ORIGIN":       "http://localhost:3000",
}

// Load はカレントディレクトリの.env（任意）と環境変数からConfigを読み込む。
// 必須項目が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile は指定した.envファイル（存在しなくてもよい）と環境変数からConfigを読み込む。
// 環境変数は.envの値より優先される。
func LoadFile(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	_ = v.ReadInConfig() // ファイルが無い場合は環境変数のみ

	v.AutomaticEnv()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	cfg.StoreDriver = strings.ToLower(cfg.StoreDriver)
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")

	return &cfg, nil
}

type requiredKey struct {
	key   string
	value string
}

func (c *Config) validate() error {
	required := []requiredKey{
		{"GOOGLE_CLIENT_ID", c.GoogleClientID},
		{"GOOGLE_CLIENT_SECRET", c.GoogleClientSecret},
		{"GOOGLE_REDIRECT_URL", c.GoogleRedirectURL},
		{"SESSION_SECRET", c.SessionSecret},
		{"BASE_URL", c.BaseURL},
	}
	if strings.EqualFold(c.StoreDriver, StoreDriverPostgres) {
		required = append(required, requiredKey{"DATABASE_URL", c.DatabaseURL})
	}

	var missing []string
	for _, r := range required {
		if r.value == "" {
			missing = append(missing, r.key)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("required environment variables are not set: %v", missing)
	}

	switch strings.ToLower(c.StoreDriver) {
	case StoreDriverPostgres, StoreDriverSQLite:
	default:
		return fmt.Errorf("config: STORE_DRIVER must be %q or %q, got %q", StoreDriverPostgres, StoreDriverSQLite, c.StoreDriver)
	}

	if len(c.SessionSecret) < minSessionSecretLength {
		return fmt.Errorf("config: SESSION_SECRET must be at least %d bytes", minSessionSecretLength)
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return errors.New("config: BCRYPT_COST must be between 4 and 31")
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		return errors.New("config: ACCESS_TOKEN_TTL and REFRESH_TOKEN_TTL must be positive")
	}
	if c.LoginMaxAttempts <= 0 || c.VerificationMaxAttempts <= 0 {
		return errors.New("config: LOGIN_MAX_ATTEMPTS and VERIFICATION_MAX_ATTEMPTS must be positive")
	}
	return nil
}

// ListenAddr はHTTPサーバーの待ち受けアドレスを返す。
func (c *Config) ListenAddr() string {
	return c.ServerHost + ":" + c.ServerPort
}
