package config

import (
	"fmt"     // For error formatting
	"os"      // For environment variables
	"strconv" // For string to int conversion
	"strings" // For splitting list values
	"time"    // For durations

	"github.com/joho/godotenv" // For loading .env files
)

// Reply handling when a student replaces an already replied review
const (
	ReplyPolicyDiscard  = "discard"  // Replacement clears the professor reply
	ReplyPolicyPreserve = "preserve" // Replacement keeps the professor reply
	ReplyPolicyReject   = "reject"   // Replacement is refused once a reply exists
)

// What happens to authored content when a user is deleted
const (
	DeletePolicyRetain  = "retain"  // Courses and reviews keep a dangling reference
	DeletePolicyCascade = "cascade" // Courses and reviews of the user are removed
)

// Config holds the application configuration
type Config struct {
	AppPort      string        // Application port
	DBDriver     string        // Database driver: mysql or postgres
	DBUser       string        // Database user
	DBPassword   string        // Database password
	DBHost       string        // Database host
	DBPort       string        // Database port
	DBName       string        // Database name
	DBSSLMode    string        // Postgres sslmode
	JWTSecret    string        // JWT secret key
	JWTExpiry    time.Duration // Token lifetime
	RedisAddr    string        // Redis server address, empty disables caching
	RedisPass    string        // Redis password
	RedisDB      int           // Redis database number
	CacheTTL     time.Duration // Catalog cache TTL
	BcryptCost   int           // Password hashing cost
	ReplyPolicy  string        // Review replacement policy
	DeletePolicy string        // User deletion policy
	CORSOrigins  []string      // Allowed CORS origins
	LogLevel     string        // Logrus level
	IsProd       bool          // Is production environment
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // Load .env file if present
	cfg := &Config{
		AppPort:      getEnv("APP_PORT", "5000"),
		DBDriver:     getEnv("DB_DRIVER", "mysql"),
		DBUser:       os.Getenv("DB_USER"),
		DBPassword:   os.Getenv("DB_PASSWORD"),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       os.Getenv("DB_PORT"),
		DBName:       getEnv("DB_NAME", "course_feedback"),
		DBSSLMode:    getEnv("DB_SSLMODE", "disable"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		JWTExpiry:    time.Duration(getEnvAsInt("JWT_EXPIRY_HOURS", 24)) * time.Hour,
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RedisPass:    os.Getenv("REDIS_PASS"),
		RedisDB:      getEnvAsInt("REDIS_DB", 0),
		CacheTTL:     time.Duration(getEnvAsInt("CACHE_TTL_SECONDS", 60)) * time.Second,
		BcryptCost:   getEnvAsInt("BCRYPT_COST", 10),
		ReplyPolicy:  strings.ToLower(getEnv("REVIEW_REPLY_POLICY", ReplyPolicyDiscard)),
		DeletePolicy: strings.ToLower(getEnv("USER_DELETE_POLICY", DeletePolicyRetain)),
		CORSOrigins:  splitList(getEnv("CORS_ORIGINS", "http://localhost:3000")),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		IsProd:       os.Getenv("IS_PROD") == "true",
	}
	if cfg.DBPort == "" {
		cfg.DBPort = defaultDBPort(cfg.DBDriver)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot run with
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set")
	}
	switch c.DBDriver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	switch c.ReplyPolicy {
	case ReplyPolicyDiscard, ReplyPolicyPreserve, ReplyPolicyReject:
	default:
		return fmt.Errorf("unsupported REVIEW_REPLY_POLICY %q", c.ReplyPolicy)
	}
	switch c.DeletePolicy {
	case DeletePolicyRetain, DeletePolicyCascade:
	default:
		return fmt.Errorf("unsupported USER_DELETE_POLICY %q", c.DeletePolicy)
	}
	if c.JWTExpiry <= 0 {
		return fmt.Errorf("JWT_EXPIRY_HOURS must be positive")
	}
	return nil
}

// DSN builds the data source name for the configured driver
func (c *Config) DSN() string {
	if c.DBDriver == "postgres" {
		return "host=" + c.DBHost + " port=" + c.DBPort + " user=" + c.DBUser +
			" password=" + c.DBPassword + " dbname=" + c.DBName + " sslmode=" + c.DBSSLMode
	}
	return c.DBUser + ":" + c.DBPassword + "@tcp(" + c.DBHost + ":" + c.DBPort + ")/" + c.DBName + "?parseTime=true"
}

func defaultDBPort(driver string) string {
	if driver == "postgres" {
		return "5432"
	}
	return "3306"
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return fallback
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
