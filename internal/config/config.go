package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	WebPort int
	DBPath  string

	// Intent classification
	LLMProvider   string
	LLMTimeout    time.Duration
	OllamaBaseURL string
	OllamaModel   string
	GeminiAPIKey  string
	GeminiModel   string

	// Contact-list provider
	BrevoAPIKey string

	// Mailbox polling
	IMAPEnabled   bool
	IMAPProvider  string
	IMAPHost      string
	IMAPPort      int
	IMAPEmail     string
	IMAPPassword  string
	IMAPFolder    string
	CheckInterval time.Duration

	// Confirmation replies
	SendConfirmation bool
	SMTPHost         string
	SMTPPort         int
}

// Known mail providers and their server hosts. Provider "custom" reads
// IMAP_HOST and SMTP_HOST instead.
var imapPresets = map[string]string{
	"outlook": "outlook.office365.com",
	"gmail":   "imap.gmail.com",
	"yahoo":   "imap.mail.yahoo.com",
	"rediff":  "imap.rediffmail.com",
}

var smtpPresets = map[string]string{
	"outlook": "smtp-mail.outlook.com",
	"gmail":   "smtp.gmail.com",
	"yahoo":   "smtp.mail.yahoo.com",
	"rediff":  "smtp.rediffmail.com",
}

func Load() (*Config, error) {
	// A .env file is optional; deployments usually set real env vars.
	_ = godotenv.Load()

	cfg := &Config{
		WebPort: getEnvInt("WEB_PORT", 8080),
		DBPath:  getEnv("DB_PATH", "unsubscribe.db"),

		LLMProvider:   strings.ToLower(getEnv("LLM_PROVIDER", "ollama")),
		LLMTimeout:    getEnvDuration("LLM_TIMEOUT", 30*time.Second),
		OllamaBaseURL: getEnv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:   getEnv("OLLAMA_MODEL", "llama3.2"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-1.5-flash"),

		BrevoAPIKey: os.Getenv("BREVO_API_KEY"),

		IMAPEnabled:   getEnvBool("IMAP_ENABLED", false),
		IMAPProvider:  strings.ToLower(getEnv("IMAP_PROVIDER", "custom")),
		IMAPHost:      os.Getenv("IMAP_HOST"),
		IMAPPort:      getEnvInt("IMAP_PORT", 993),
		IMAPEmail:     os.Getenv("IMAP_EMAIL"),
		IMAPPassword:  os.Getenv("IMAP_PASSWORD"),
		IMAPFolder:    getEnv("IMAP_FOLDER", "INBOX"),
		CheckInterval: getEnvDuration("IMAP_CHECK_INTERVAL", time.Hour),

		SendConfirmation: getEnvBool("SEND_CONFIRMATION", false),
		SMTPHost:         os.Getenv("SMTP_HOST"),
		SMTPPort:         getEnvInt("SMTP_PORT", 587),
	}

	switch cfg.LLMProvider {
	case "ollama", "gemini", "none":
	default:
		return nil, fmt.Errorf("LLM_PROVIDER must be ollama, gemini or none, got %q", cfg.LLMProvider)
	}
	if cfg.LLMProvider == "gemini" && cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable is required when LLM_PROVIDER=gemini")
	}

	if cfg.BrevoAPIKey == "" {
		return nil, fmt.Errorf("BREVO_API_KEY environment variable is required")
	}

	if host, ok := imapPresets[cfg.IMAPProvider]; ok && cfg.IMAPHost == "" {
		cfg.IMAPHost = host
	}
	if host, ok := smtpPresets[cfg.IMAPProvider]; ok && cfg.SMTPHost == "" {
		cfg.SMTPHost = host
	}

	if cfg.IMAPEnabled {
		if cfg.IMAPEmail == "" {
			return nil, fmt.Errorf("IMAP_EMAIL environment variable is required when IMAP_ENABLED=true")
		}
		if cfg.IMAPPassword == "" {
			return nil, fmt.Errorf("IMAP_PASSWORD environment variable is required when IMAP_ENABLED=true")
		}
		if cfg.IMAPHost == "" {
			return nil, fmt.Errorf("IMAP_HOST is required for IMAP provider %q", cfg.IMAPProvider)
		}
	}

	if cfg.SendConfirmation && cfg.SMTPHost == "" {
		return nil, fmt.Errorf("SMTP_HOST is required when SEND_CONFIRMATION=true")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			return parsed
		}
	}
	return fallback
}

// getEnvDuration accepts Go duration strings ("90s", "1h") and, for
// convenience, bare integers meaning seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if parsed, err := time.ParseDuration(v); err == nil {
		return parsed
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}
