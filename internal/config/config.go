package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLength is the shortest HMAC secret accepted for either token type.
const MinSecretLength = 32

var ErrInvalidSecret = errors.New("invalid token secret configuration")

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPAddr    string
	BaseURL     string
	DatabaseURL string

	TokenStore    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	NATSURL     string
	MailSubject string
	SentryDSN   string

	AccessSecret      string
	RefreshSecret     string
	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	TokenClockSkew    time.Duration
	DependencyTimeout time.Duration
	VerificationTTL   time.Duration
	PasswordResetTTL  time.Duration
	BlacklistCeiling  time.Duration

	PasswordHashAlgo string
	BcryptCost       int
	Password         PasswordPolicy

	RateLimitMax    int
	RateLimitWindow time.Duration
}

// PasswordPolicy describes the character classes a new password must contain.
type PasswordPolicy struct {
	MinLength     int
	RequireUpper  bool
	RequireLower  bool
	RequireDigit  bool
	RequireSymbol bool
}

// Load reads .env (when present) and the process environment. Token secrets
// have no defaults: Load fails when either is missing, short, or shared.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv is Load without the .env lookup.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Environment:       getEnv("APP_ENV", "development"),
		HTTPAddr:          getEnv("HTTP_ADDR", "0.0.0.0:8431"),
		BaseURL:           strings.TrimRight(getEnv("APP_BASE_URL", "http://localhost:8431"), "/"),
		DatabaseURL:       strings.TrimSpace(os.Getenv("DATABASE_URL")),
		TokenStore:        strings.ToLower(getEnv("TOKEN_STORE", "redis")),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     os.Getenv("REDIS_PASSWORD"),
		RedisDB:           getInt("REDIS_DB", 0),
		NATSURL:           strings.TrimSpace(os.Getenv("NATS_URL")),
		MailSubject:       getEnv("MAIL_SUBJECT", "mail.outbound"),
		SentryDSN:         os.Getenv("SENTRY_DSN"),
		AccessSecret:      os.Getenv("JWT_ACCESS_SECRET"),
		RefreshSecret:     os.Getenv("JWT_REFRESH_SECRET"),
		AccessTokenTTL:    getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:   getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		TokenClockSkew:    getDuration("TOKEN_CLOCK_SKEW", 0),
		DependencyTimeout: getDuration("DEPENDENCY_TIMEOUT", 3*time.Second),
		VerificationTTL:   getDuration("VERIFICATION_TTL", time.Hour),
		PasswordResetTTL:  getDuration("PASSWORD_RESET_TTL", time.Hour),
		BlacklistCeiling:  getDuration("BLACKLIST_CEILING", time.Hour),
		PasswordHashAlgo:  strings.ToLower(getEnv("PASSWORD_HASH_ALGO", "bcrypt")),
		BcryptCost:        getInt("BCRYPT_COST", 12),
		Password: PasswordPolicy{
			MinLength:     getInt("PASSWORD_MIN_LENGTH", 8),
			RequireUpper:  getBool("PASSWORD_REQUIRE_UPPER", true),
			RequireLower:  getBool("PASSWORD_REQUIRE_LOWER", true),
			RequireDigit:  getBool("PASSWORD_REQUIRE_DIGIT", true),
			RequireSymbol: getBool("PASSWORD_REQUIRE_SYMBOL", false),
		},
		RateLimitMax:    getInt("RATE_LIMIT_MAX", 20),
		RateLimitWindow: getDuration("RATE_LIMIT_WINDOW", time.Minute),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if err := ValidateSecrets(cfg.AccessSecret, cfg.RefreshSecret); err != nil {
		return nil, err
	}
	switch cfg.TokenStore {
	case "redis", "memory":
	default:
		return nil, fmt.Errorf("TOKEN_STORE must be redis or memory, got %q", cfg.TokenStore)
	}
	switch cfg.PasswordHashAlgo {
	case "bcrypt", "argon2id":
	default:
		return nil, fmt.Errorf("PASSWORD_HASH_ALGO must be bcrypt or argon2id, got %q", cfg.PasswordHashAlgo)
	}
	if cfg.BcryptCost < 12 {
		cfg.BcryptCost = 12
	}
	if cfg.Password.MinLength < 8 {
		cfg.Password.MinLength = 8
	}
	return cfg, nil
}

// ValidateSecrets rejects missing, short, or identical signing secrets.
func ValidateSecrets(access, refresh string) error {
	if access == "" {
		return fmt.Errorf("%w: JWT_ACCESS_SECRET is required", ErrInvalidSecret)
	}
	if refresh == "" {
		return fmt.Errorf("%w: JWT_REFRESH_SECRET is required", ErrInvalidSecret)
	}
	if len(access) < MinSecretLength {
		return fmt.Errorf("%w: JWT_ACCESS_SECRET must be at least %d bytes", ErrInvalidSecret, MinSecretLength)
	}
	if len(refresh) < MinSecretLength {
		return fmt.Errorf("%w: JWT_REFRESH_SECRET must be at least %d bytes", ErrInvalidSecret, MinSecretLength)
	}
	if access == refresh {
		return fmt.Errorf("%w: access and refresh secrets must differ", ErrInvalidSecret)
	}
	return nil
}

// IsProduction reports whether APP_ENV names a production deployment.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			return d
		}
	}
	return fallback
}
