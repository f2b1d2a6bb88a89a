package app

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	// TokenKey is the hex-encoded 32-byte AES key sealing session tokens.
	// Required; the process refuses to start without it.
	TokenKey string

	DatabaseFile string // Path to the SQLite database file (default: ./auth.db)
	PepperFile   string // Path to the password-hash pepper file (default: ./pepper)

	// Captcha settings; when the secret is empty the captcha gate is
	// disabled (development mode).
	CaptchaSecret    string
	CaptchaVerifyURL string

	// ResetBaseURL is the portal page the emailed reset link points at.
	ResetBaseURL string

	// Session and challenge tuning.
	IdleTimeout       time.Duration // Hard idle logout (default: 2m)
	ReauthAfter       time.Duration // Idle threshold raising the reauth flag (default: 1m)
	OTPTTL            time.Duration // Passcode lifetime (default: 5m)
	LockoutWindow     time.Duration // Failed-attempt lockout window (default: 10m)
	ResetTTL          time.Duration // Reset-link lifetime (default: 20m)
	DeactivationGrace time.Duration // Deferred-deactivation grace (default: 5m)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	Port                 int           // HTTP server port (default: 8080)
	ShutdownGracePeriod  time.Duration // Graceful shutdown timeout (default: 10s)
	HousekeepingInterval time.Duration // Housekeeping sweep interval (default: 1m)
}

func LoadConfig() Config {
	return Config{
		TokenKey:         os.Getenv("AUTH_TOKEN_KEY"),
		DatabaseFile:     getEnvOrDefault("AUTH_DATABASE_FILE", "auth.db"),
		PepperFile:       getEnvOrDefault("AUTH_PEPPER_FILE", "pepper"),
		CaptchaSecret:    os.Getenv("AUTH_CAPTCHA_SECRET"),
		CaptchaVerifyURL: getEnvOrDefault("AUTH_CAPTCHA_VERIFY_URL", "https://challenges.cloudflare.com/turnstile/v0/siteverify"),
		ResetBaseURL:     getEnvOrDefault("AUTH_RESET_BASE_URL", "http://localhost:8080/reset"),

		IdleTimeout:       getEnvDurationOrDefault("AUTH_IDLE_TIMEOUT", 2*time.Minute),
		ReauthAfter:       getEnvDurationOrDefault("AUTH_REAUTH_AFTER", 1*time.Minute),
		OTPTTL:            getEnvDurationOrDefault("AUTH_OTP_TTL", 5*time.Minute),
		LockoutWindow:     getEnvDurationOrDefault("AUTH_LOCKOUT_WINDOW", 10*time.Minute),
		ResetTTL:          getEnvDurationOrDefault("AUTH_RESET_TTL", 20*time.Minute),
		DeactivationGrace: getEnvDurationOrDefault("AUTH_DEACTIVATION_GRACE", 5*time.Minute),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		Port:                 getEnvIntOrDefault("PORT", 8080),
		ShutdownGracePeriod:  getEnvDurationOrDefault("SHUTDOWN_GRACE_PERIOD", 10*time.Second),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Minute),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if intValue, err := strconv.Atoi(value); err == nil {
		return intValue
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if duration, err := time.ParseDuration(value); err == nil {
		return duration
	}
	return defaultValue
}
