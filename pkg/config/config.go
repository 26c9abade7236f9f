package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string
	LogFile  string

	DBDriver    string
	DatabaseURL string
	DebugSQL    bool

	MongoURI      string
	MongoDatabase string

	JWTSecret               string
	TokenTTL                time.Duration
	AllowAdminSignup        bool
	FirebaseCredentialsPath string
	FirebaseProjectID       string
	FirebaseCheckRevoked    bool
	EnforceAdminResolve     bool

	WSPingInterval    time.Duration
	WSWriteTimeout    time.Duration
	WSMaxMessageBytes int64
	AllowedOrigins    []string
}

// LoadDotEnv reads a .env file into the environment if there is one
func LoadDotEnv() bool {
	return godotenv.Load() == nil
}

func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),
		LogFile:  getEnv("LOG_FILE", ""),

		DBDriver:    strings.ToLower(getEnv("DB_DRIVER", "postgres")),
		DatabaseURL: getEnv("DATABASE_URL", getEnv("POSTGRES_CONN_STR", "")),
		DebugSQL:    getEnvBool("DEBUG_SQL", false),

		MongoURI:      getEnv("MONGO_URI", ""),
		MongoDatabase: getEnv("MONGO_DATABASE", "proofing"),

		JWTSecret:               getEnv("JWT_SECRET", "supersecretjwtkey"),
		TokenTTL:                getEnvDuration("TOKEN_TTL", 72*time.Hour),
		AllowAdminSignup:        getEnvBool("ALLOW_ADMIN_SIGNUP", false),
		FirebaseCredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
		FirebaseProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
		FirebaseCheckRevoked:    getEnvBool("FIREBASE_CHECK_REVOKED", false),
		EnforceAdminResolve:     getEnvBool("ENFORCE_ADMIN_RESOLVE", true),

		WSPingInterval:    getEnvDuration("WS_PING_INTERVAL", 25*time.Second),
		WSWriteTimeout:    getEnvDuration("WS_WRITE_TIMEOUT", 10*time.Second),
		WSMaxMessageBytes: getEnvInt64("WS_MAX_MESSAGE_BYTES", 64<<10),
		AllowedOrigins:    getEnvList("ALLOWED_ORIGINS", []string{"*"}),
	}
}

func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvInt64(key string, defaultValue int64) int64 {
	v, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return defaultValue
	}
	return v
}

// getEnvList splits a comma separated value, dropping blanks
func getEnvList(key string, defaultValue []string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}
