package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Vapi voice-platform webhook verification.
	VapiWebhookSecret string
	VapiAPIKey        string
	VapiBaseURL       string

	// Global Twilio credentials; per-practice overrides take precedence.
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioWebhookSecret string

	// OpenAI feedback analysis.
	OpenAIAPIKey       string
	OpenAIModel        string
	OpenAIAnalysisTime time.Duration

	// Insurance eligibility API (270/271).
	EligibilityBaseURL string
	EligibilityAPIKey  string

	// Background loops.
	ReminderTickInterval    time.Duration
	WaitlistExpireInterval  time.Duration
	ReminderBatchSize       int
	FeedbackPatternEveryN   int
	FeedbackRetryBaseDelay  time.Duration
	FeedbackRetryMaxAttempt int

	// Redis leader lease for singleton loops.
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Training session audio storage.
	AWSRegion           string
	TrainingAudioBucket string

	AdminJWTSecret string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		VapiWebhookSecret: getEnv("VAPI_WEBHOOK_SECRET", ""),
		VapiAPIKey:        getEnv("VAPI_API_KEY", ""),
		VapiBaseURL:       getEnv("VAPI_BASE_URL", "https://api.vapi.ai"),

		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:        getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIAnalysisTime: getEnvAsDuration("OPENAI_ANALYSIS_TIMEOUT", 45*time.Second),

		EligibilityBaseURL: getEnv("ELIGIBILITY_BASE_URL", ""),
		EligibilityAPIKey:  getEnv("ELIGIBILITY_API_KEY", ""),

		ReminderTickInterval:    getEnvAsDuration("REMINDER_TICK_INTERVAL", 60*time.Second),
		WaitlistExpireInterval:  getEnvAsDuration("WAITLIST_EXPIRE_INTERVAL", 5*time.Minute),
		ReminderBatchSize:       getEnvAsInt("REMINDER_BATCH_SIZE", 100),
		FeedbackPatternEveryN:   getEnvAsInt("FEEDBACK_PATTERN_EVERY_N", 10),
		FeedbackRetryBaseDelay:  getEnvAsDuration("FEEDBACK_RETRY_BASE_DELAY", 2*time.Second),
		FeedbackRetryMaxAttempt: getEnvAsInt("FEEDBACK_RETRY_MAX_ATTEMPTS", 3),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		TrainingAudioBucket: getEnv("TRAINING_AUDIO_BUCKET", ""),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
	}
}

// IsProduction reports whether the server runs with production hardening.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value.
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value.
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
