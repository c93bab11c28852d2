// Package config loads service settings from the environment, .env and an
// optional YAML file.
package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

const minJWTSecretLength = 32

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	ShutdownTimeout    time.Duration
	RequestTimeout     time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	HashAlgorithm string
	BcryptCost    int

	SuperAdminEmail     string
	FrontendURL         string
	RevealUnknownEmail  bool
	ExternalLoginSecret string
	ResetTokenTTL       time.Duration

	ResetStore    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	MailDriver   string
	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	MailFrom     string
	MailWorkers  int
	MailTimeout  time.Duration

	ImageStore           string
	ImageRoot            string
	S3Region             string
	S3Endpoint           string
	S3Bucket             string
	S3AccessKey          string
	S3SecretKey          string
	S3PathStyle          bool
	ProfileImageMaxBytes int64
	ProfileImageMaxDim   int

	CORSOrigins      []string
	RateLimitRPM     int
	AuthRateLimitRPM int
	CookieSecure     bool

	LogLevel  string
	LogFormat string
}

// Load reads configuration in increasing precedence: built-in defaults, the
// optional YAML file at path, then .env and the process environment.
func Load(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDatabase is Load for tooling that only talks to PostgreSQL, such as
// the migrate command. Only the database settings are validated.
func LoadDatabase(path string) (*Config, error) {
	cfg, err := parse(path)
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func parse(path string) (*Config, error) {
	_ = godotenv.Load()

	src := source{}
	if strings.TrimSpace(path) != "" {
		k := koanf.New(".")
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %q: %w", path, err)
		}
		src.k = k
	}

	cfg := &Config{
		ServerPort:         src.getString("SERVER_PORT", "8080"),
		ServerReadTimeout:  src.getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: src.getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  src.getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:    src.getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
		RequestTimeout:     src.getDuration("REQUEST_TIMEOUT", 30*time.Second),

		DatabaseURL: src.getString("DATABASE_URL", ""),
		DBMaxConns:  int32(src.getInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(src.getInt("DB_MIN_CONNS", 1)),
		AutoMigrate: src.getBool("DB_AUTO_MIGRATE", true),

		JWTSecret: src.getString("JWT_SECRET", ""),
		JWTIssuer: src.getString("JWT_ISSUER", "go-identity-service"),
		JWTTTL:    src.getDuration("JWT_TTL", 24*time.Hour),

		HashAlgorithm: strings.ToLower(src.getString("HASH_ALGORITHM", "bcrypt")),
		BcryptCost:    src.getInt("BCRYPT_COST", 12),

		SuperAdminEmail:     strings.ToLower(src.getString("SUPER_ADMIN_EMAIL", "")),
		FrontendURL:         strings.TrimRight(src.getString("FRONTEND_URL", "http://localhost:3000"), "/"),
		RevealUnknownEmail:  src.getBool("AUTH_REVEAL_UNKNOWN_EMAIL", false),
		ExternalLoginSecret: src.getString("EXTERNAL_LOGIN_SECRET", ""),
		ResetTokenTTL:       src.getDuration("RESET_TOKEN_TTL", 24*time.Hour),

		ResetStore:    strings.ToLower(src.getString("RESET_STORE", "postgres")),
		RedisAddr:     src.getString("REDIS_ADDR", "localhost:6379"),
		RedisPassword: src.getString("REDIS_PASSWORD", ""),
		RedisDB:       src.getInt("REDIS_DB", 0),

		MailDriver:   strings.ToLower(src.getString("MAIL_DRIVER", "log")),
		SMTPHost:     src.getString("SMTP_HOST", ""),
		SMTPPort:     src.getInt("SMTP_PORT", 587),
		SMTPUsername: src.getString("SMTP_USERNAME", ""),
		SMTPPassword: src.getString("SMTP_PASSWORD", ""),
		MailFrom:     src.getString("MAIL_FROM", "no-reply@localhost"),
		MailWorkers:  src.getInt("MAIL_WORKERS", 4),
		MailTimeout:  src.getDuration("MAIL_TIMEOUT", 10*time.Second),

		ImageStore:           strings.ToLower(src.getString("IMAGE_STORE", "local")),
		ImageRoot:            src.getString("IMAGE_ROOT", "./data/images"),
		S3Region:             src.getString("S3_REGION", "us-east-1"),
		S3Endpoint:           src.getString("S3_ENDPOINT", ""),
		S3Bucket:             src.getString("S3_BUCKET", ""),
		S3AccessKey:          src.getString("S3_ACCESS_KEY", ""),
		S3SecretKey:          src.getString("S3_SECRET_KEY", ""),
		S3PathStyle:          src.getBool("S3_PATH_STYLE", false),
		ProfileImageMaxBytes: src.getInt64("PROFILE_IMAGE_MAX_BYTES", 5<<20),
		ProfileImageMaxDim:   src.getInt("PROFILE_IMAGE_MAX_DIM", 512),

		CORSOrigins:      splitCSV(src.getString("CORS_ORIGINS", "*")),
		RateLimitRPM:     src.getInt("RATE_LIMIT_RPM", 100),
		AuthRateLimitRPM: src.getInt("AUTH_RATE_LIMIT_RPM", 10),
		CookieSecure:     src.getBool("COOKIE_SECURE", true),

		LogLevel:  strings.ToLower(src.getString("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(src.getString("LOG_FORMAT", "pretty")),
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretLength)
	}
	if c.JWTTTL <= 0 {
		return fmt.Errorf("JWT_TTL must be positive")
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS/DB_MAX_CONNS out of range")
	}

	if c.HashAlgorithm != "bcrypt" && c.HashAlgorithm != "argon2id" {
		return fmt.Errorf("HASH_ALGORITHM must be bcrypt or argon2id")
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	if c.SuperAdminEmail != "" {
		if _, err := mail.ParseAddress(c.SuperAdminEmail); err != nil {
			return fmt.Errorf("SUPER_ADMIN_EMAIL is not a valid address")
		}
	}
	if u, err := url.Parse(c.FrontendURL); err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("FRONTEND_URL must be an absolute URL")
	}
	if c.ResetTokenTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL must be positive")
	}
	if c.ExternalLoginSecret != "" && len(c.ExternalLoginSecret) < minJWTSecretLength {
		return fmt.Errorf("EXTERNAL_LOGIN_SECRET must be at least %d bytes", minJWTSecretLength)
	}

	switch c.ResetStore {
	case "postgres":
	case "redis":
		if c.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR is required when RESET_STORE=redis")
		}
	default:
		return fmt.Errorf("RESET_STORE must be postgres or redis")
	}

	switch c.MailDriver {
	case "log":
	case "smtp":
		if c.SMTPHost == "" || c.SMTPPort <= 0 {
			return fmt.Errorf("SMTP_HOST and SMTP_PORT are required when MAIL_DRIVER=smtp")
		}
		if _, err := mail.ParseAddress(c.MailFrom); err != nil {
			return fmt.Errorf("MAIL_FROM is not a valid address")
		}
	default:
		return fmt.Errorf("MAIL_DRIVER must be smtp or log")
	}
	if c.MailWorkers <= 0 || c.MailTimeout <= 0 {
		return fmt.Errorf("MAIL_WORKERS and MAIL_TIMEOUT must be positive")
	}

	switch c.ImageStore {
	case "local":
		if strings.TrimSpace(c.ImageRoot) == "" {
			return fmt.Errorf("IMAGE_ROOT cannot be empty")
		}
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when IMAGE_STORE=s3")
		}
	default:
		return fmt.Errorf("IMAGE_STORE must be local or s3")
	}
	if c.ProfileImageMaxBytes <= 0 || c.ProfileImageMaxDim <= 0 {
		return fmt.Errorf("PROFILE_IMAGE_MAX_BYTES and PROFILE_IMAGE_MAX_DIM must be positive")
	}

	if c.LogFormat != "pretty" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be pretty or json")
	}

	return nil
}

// source resolves a key from the environment first, then the YAML file,
// where keys are the lower-cased variable names.
type source struct {
	k *koanf.Koanf
}

func (s source) lookup(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	if s.k != nil {
		return strings.TrimSpace(s.k.String(strings.ToLower(key)))
	}
	return ""
}

func (s source) getString(key string, fallback string) string {
	v := s.lookup(key)
	if v == "" {
		return fallback
	}

	return v
}

func (s source) getInt(key string, fallback int) int {
	raw := s.lookup(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func (s source) getInt64(key string, fallback int64) int64 {
	raw := s.lookup(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fallback
	}

	return v
}

func (s source) getBool(key string, fallback bool) bool {
	raw := s.lookup(key)
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func (s source) getDuration(key string, fallback time.Duration) time.Duration {
	raw := s.lookup(key)
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}
