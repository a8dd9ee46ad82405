package config

import "time"

// APIConfig holds runtime configuration for the API service.
type APIConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	SecretKey          string
	AccessTokenTTL     time.Duration
	UploadDir          string
	EngineURL          string
	ExplainURL         string
	ExplainAPIKey      string
	EngineTimeout      time.Duration
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadAPIConfig constructs an APIConfig from environment variables.
//
// SecretKey deliberately has no fallback: an empty value must abort startup
// before the server accepts a single request.
func LoadAPIConfig() APIConfig {
	return APIConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("API_ADDR", ":8000"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://dermsight:dermsight@db:5432/dermsight?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		SecretKey:          GetString("SECRET_KEY", ""),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_EXPIRE_DAYS", 7)) * 24 * time.Hour,
		UploadDir:          GetString("UPLOAD_DIR", "./uploads"),
		EngineURL:          GetString("ENGINE_URL", "http://engine:9000/predict"),
		ExplainURL:         GetString("EXPLAIN_URL", ""),
		ExplainAPIKey:      GetString("EXPLAIN_API_KEY", ""),
		EngineTimeout:      time.Duration(GetInt("ENGINE_TIMEOUT_SECONDS", 30)) * time.Second,
		RedisAddr:          GetString("REDIS_ADDR", ""),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
