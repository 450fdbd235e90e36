package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port         string
	Env          string
	LogLevel     string
	PracticeName string

	// Conversation policy. PolicyFile is an optional YAML file; the env
	// values below override what it sets when they are non-zero.
	PolicyFile       string
	MaxMessageLength int
	MaxSlotRetries   int

	ConversationStore   string
	ConversationTTL     time.Duration
	ConversationLockTTL time.Duration
	RedisAddr           string
	RedisPassword       string
	RedisTLS            bool

	TaskStore   string
	DatabaseURL string
	TasksTable  string

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Optional model-backed safety check that runs after the rule set.
	SafetyModelProvider string
	SafetyModelTimeout  time.Duration
	BedrockModelID      string
	GeminiAPIKey        string
	GeminiModelID       string

	AdminJWTSecret     string
	CORSAllowedOrigins []string
	RateLimitRPS       float64
	RateLimitBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:         getEnv("PORT", "8080"),
		Env:          getEnv("ENV", "development"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		PracticeName: getEnv("PRACTICE_NAME", "Example Dental Clinic"),

		PolicyFile:       getEnv("POLICY_FILE", ""),
		MaxMessageLength: getEnvAsInt("MAX_MESSAGE_LENGTH", 0),
		MaxSlotRetries:   getEnvAsInt("MAX_SLOT_RETRIES", 0),

		ConversationStore:   strings.ToLower(strings.TrimSpace(getEnv("CONVERSATION_STORE", "memory"))),
		ConversationTTL:     getEnvAsDuration("CONVERSATION_TTL", 24*time.Hour),
		ConversationLockTTL: getEnvAsDuration("CONVERSATION_LOCK_TTL", 30*time.Second),
		RedisAddr:           getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword:       getEnv("REDIS_PASSWORD", ""),
		RedisTLS:            getEnvAsBool("REDIS_TLS", false),

		TaskStore:   strings.ToLower(strings.TrimSpace(getEnv("TASK_STORE", "memory"))),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		TasksTable:  getEnv("TASKS_TABLE", "callback_tasks"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		SafetyModelProvider: strings.ToLower(strings.TrimSpace(getEnv("SAFETY_MODEL_PROVIDER", "none"))),
		SafetyModelTimeout:  getEnvAsDuration("SAFETY_MODEL_TIMEOUT", 4*time.Second),
		BedrockModelID:      getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:        getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:       getEnv("GEMINI_MODEL_ID", "gemini-1.5-flash"),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RateLimitRPS:       getEnvAsFloat("RATE_LIMIT_RPS", 5),
		RateLimitBurst:     getEnvAsInt("RATE_LIMIT_BURST", 20),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, ""), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
