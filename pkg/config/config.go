package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	Gateway  GatewayConfig
	CORS     CORSConfig
	Log      LogConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// AuthConfig governs token issuance and verification. Access and refresh
// secrets must differ so leaking one cannot forge the other; KeyID is embedded
// in the token header to support versioned secret rotation.
type AuthConfig struct {
	AccessSecret       string
	RefreshSecret      string
	KeyID              string
	Issuer             string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration
	ClockSkewLeeway    time.Duration
	BcryptCost         int
	RevocationCacheTTL time.Duration
}

// GatewayConfig defines the static route table and public route set enforced
// by the gateway. Public routes bypass authentication entirely.
type GatewayConfig struct {
	UserServiceURL  string
	NotesServiceURL string
	TagsServiceURL  string
	AuthServiceURL  string
	PublicRoutes    []string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.Auth = AuthConfig{
		AccessSecret:       v.GetString("AUTH_ACCESS_SECRET"),
		RefreshSecret:      v.GetString("AUTH_REFRESH_SECRET"),
		KeyID:              v.GetString("AUTH_KEY_ID"),
		Issuer:             v.GetString("AUTH_ISSUER"),
		AccessTokenTTL:     parseDuration(v.GetString("AUTH_ACCESS_TOKEN_TTL"), 10*time.Minute),
		RefreshTokenTTL:    parseDuration(v.GetString("AUTH_REFRESH_TOKEN_TTL"), 7*24*time.Hour),
		ClockSkewLeeway:    parseDuration(v.GetString("AUTH_CLOCK_SKEW_LEEWAY"), 5*time.Second),
		BcryptCost:         v.GetInt("AUTH_BCRYPT_COST"),
		RevocationCacheTTL: parseDuration(v.GetString("AUTH_REVOCATION_CACHE_TTL"), 30*time.Second),
	}

	cfg.Gateway = GatewayConfig{
		UserServiceURL:  v.GetString("GATEWAY_USER_SERVICE_URL"),
		NotesServiceURL: v.GetString("GATEWAY_NOTES_SERVICE_URL"),
		TagsServiceURL:  v.GetString("GATEWAY_TAGS_SERVICE_URL"),
		AuthServiceURL:  v.GetString("GATEWAY_AUTH_SERVICE_URL"),
		PublicRoutes:    splitAndTrim(v.GetString("GATEWAY_PUBLIC_ROUTES")),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "noteforge_auth")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("AUTH_ACCESS_SECRET", "dev_access_secret")
	v.SetDefault("AUTH_REFRESH_SECRET", "dev_refresh_secret")
	v.SetDefault("AUTH_KEY_ID", "v1")
	v.SetDefault("AUTH_ISSUER", "noteforge-auth")
	v.SetDefault("AUTH_ACCESS_TOKEN_TTL", "10m")
	v.SetDefault("AUTH_REFRESH_TOKEN_TTL", "168h")
	v.SetDefault("AUTH_CLOCK_SKEW_LEEWAY", "5s")
	v.SetDefault("AUTH_BCRYPT_COST", 12)
	v.SetDefault("AUTH_REVOCATION_CACHE_TTL", "30s")

	v.SetDefault("GATEWAY_USER_SERVICE_URL", "http://localhost:8081")
	v.SetDefault("GATEWAY_NOTES_SERVICE_URL", "http://localhost:8082")
	v.SetDefault("GATEWAY_TAGS_SERVICE_URL", "http://localhost:8083")
	v.SetDefault("GATEWAY_AUTH_SERVICE_URL", "http://localhost:8084")
	v.SetDefault("GATEWAY_PUBLIC_ROUTES", "/auth/register,/auth/login,/auth/refresh,/health,/ready,/metrics")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
