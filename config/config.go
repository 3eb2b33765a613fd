package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
// Engine tunables default to the values the live protocol was designed around;
// override them only for tests or unusual deployments.
type Config struct {
	HTTPAddr string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// MinIO sample asset storage
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioUseSSL    bool

	// Local sample library watched and mirrored into MinIO. Empty disables the watcher.
	SampleLibraryDir string

	// Live session engine tunables
	StepsPerTrack            int
	StaleConnectionThreshold time.Duration
	PruneCheckInterval       time.Duration
	SessionEvictGrace        time.Duration

	LogPath  string
	LogLevel string
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a duration expressed in milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if ms, err := strconv.Atoi(value); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return fallback
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		HTTPAddr: getEnv("HTTP_ADDR", ":8080"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // no hardcoded default for credentials
		DBName:     getEnv("DB_NAME", "stepfm"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "stepfm-samples"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),

		SampleLibraryDir: getEnv("SAMPLE_LIBRARY_DIR", ""),

		StepsPerTrack:            getEnvInt("STEPS_PER_TRACK", 16),
		StaleConnectionThreshold: getEnvDuration("STALE_CONNECTION_THRESHOLD_MS", 120*time.Second),
		PruneCheckInterval:       getEnvDuration("PRUNE_CHECK_INTERVAL_MS", 60*time.Second),
		SessionEvictGrace:        getEnvDuration("SESSION_EVICT_GRACE_MS", 60*time.Second),

		LogPath:  getEnv("LOG_PATH", "logs/stepfm.log"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}
