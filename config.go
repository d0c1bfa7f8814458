package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

var defaultAllowedOrigins = []string{
	"http://localhost:3001",
	"http://localhost:3000",
	"https://docuthinker-fullstack-app.vercel.app",
}

// Config holds every setting the service reads from the environment.
type Config struct {
	Port           string
	AllowedOrigins []string
	BodyLimitMB    int

	AIProvider       string // gemini | openrouter
	GoogleAIAPIKey   string
	AIModel          string
	OpenRouterAPIKey string
	OpenRouterModel  string
	OpenRouterURL    string
	AIInstructions   string
	AIRateLimit      float64 // requests per second, 0 disables
	AIBurst          int
	AITimeout        time.Duration
	PromptsFile      string

	StoreBackend string // firestore | sqlite
	SQLitePath   string
	AuthBackend  string // firebase | local
	AuthRequired bool

	Firebase FirebaseConfig

	AudioPollInterval time.Duration
	QueueWorkers      int
	QueueSize         int
	JobTTL            time.Duration

	SessionTTL      time.Duration
	SessionMax      int
	SessionMaxTurns int

	LogLevel  string
	LogFormat string
}

// FirebaseConfig mirrors the service-account JSON fields, one env var each.
type FirebaseConfig struct {
	Type                    string
	ProjectID               string
	PrivateKeyID            string
	PrivateKey              string
	ClientEmail             string
	ClientID                string
	AuthURI                 string
	TokenURI                string
	AuthProviderX509CertURL string
	ClientX509CertURL       string
	DatabaseURL             string
	CredentialsFile         string
	WebAPIKey               string
}

// loadConfig reads .env (if present) and then the process environment.
func loadConfig() (*Config, error) {
	godotenv.Load()
	return configFromEnv()
}

func configFromEnv() (*Config, error) {
	p := envParser{}
	cfg := &Config{
		Port:           envOr("PORT", "3000"),
		AllowedOrigins: p.list("ALLOWED_ORIGINS", defaultAllowedOrigins),
		BodyLimitMB:    p.int("BODY_LIMIT_MB", 15),

		AIProvider:       strings.ToLower(envOr("AI_PROVIDER", "gemini")),
		GoogleAIAPIKey:   os.Getenv("GOOGLE_AI_API_KEY"),
		AIModel:          envOr("AI_MODEL", defaultGeminiModel),
		OpenRouterAPIKey: os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:  envOr("OPENROUTER_MODEL", OpenRouterModel),
		OpenRouterURL:    envOr("OPENROUTER_URL", OpenRouterAPIURL),
		AIInstructions:   os.Getenv("AI_INSTRUCTIONS"),
		AIRateLimit:      p.float("AI_RATE_LIMIT", 2),
		AIBurst:          p.int("AI_BURST", 4),
		AITimeout:        p.duration("AI_TIMEOUT", 2*time.Minute),
		PromptsFile:      os.Getenv("PROMPTS_FILE"),

		StoreBackend: strings.ToLower(envOr("STORE_BACKEND", "firestore")),
		SQLitePath:   envOr("SQLITE_PATH", "docuthinker.db"),
		AuthBackend:  strings.ToLower(envOr("AUTH_BACKEND", "firebase")),
		AuthRequired: p.bool("AUTH_REQUIRED", false),

		Firebase: FirebaseConfig{
			Type:                    envOr("FIREBASE_TYPE", "service_account"),
			ProjectID:               os.Getenv("FIREBASE_PROJECT_ID"),
			PrivateKeyID:            os.Getenv("FIREBASE_PRIVATE_KEY_ID"),
			PrivateKey:              strings.ReplaceAll(os.Getenv("FIREBASE_PRIVATE_KEY"), `\n`, "\n"),
			ClientEmail:             os.Getenv("FIREBASE_CLIENT_EMAIL"),
			ClientID:                os.Getenv("FIREBASE_CLIENT_ID"),
			AuthURI:                 os.Getenv("FIREBASE_AUTH_URI"),
			TokenURI:                os.Getenv("FIREBASE_TOKEN_URI"),
			AuthProviderX509CertURL: os.Getenv("FIREBASE_AUTH_PROVIDER_X509_CERT_URL"),
			ClientX509CertURL:       os.Getenv("FIREBASE_CLIENT_X509_CERT_URL"),
			DatabaseURL:             os.Getenv("FIREBASE_DATABASE_URL"),
			CredentialsFile:         os.Getenv("FIREBASE_CREDENTIALS_FILE"),
			WebAPIKey:               os.Getenv("FIREBASE_WEB_API_KEY"),
		},

		AudioPollInterval: p.duration("AUDIO_POLL_INTERVAL", 10*time.Second),
		QueueWorkers:      p.int("QUEUE_WORKERS", 2),
		QueueSize:         p.int("QUEUE_SIZE", 50),
		JobTTL:            p.duration("JOB_TTL", time.Hour),

		SessionTTL:      p.duration("SESSION_TTL", 2*time.Hour),
		SessionMax:      p.int("SESSION_MAX", 1000),
		SessionMaxTurns: p.int("SESSION_MAX_TURNS", 100),

		LogLevel:  envOr("LOG_LEVEL", "info"),
		LogFormat: envOr("LOG_FORMAT", "json"),
	}
	if len(p.errs) > 0 {
		return nil, fmt.Errorf("invalid configuration: %s", strings.Join(p.errs, "; "))
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.AIProvider {
	case "gemini", "openrouter":
	default:
		return fmt.Errorf("AI_PROVIDER must be gemini or openrouter, got %q", c.AIProvider)
	}
	switch c.StoreBackend {
	case "firestore", "sqlite":
	default:
		return fmt.Errorf("STORE_BACKEND must be firestore or sqlite, got %q", c.StoreBackend)
	}
	switch c.AuthBackend {
	case "firebase", "local":
	default:
		return fmt.Errorf("AUTH_BACKEND must be firebase or local, got %q", c.AuthBackend)
	}
	if c.AuthBackend == "local" && c.StoreBackend != "sqlite" {
		return fmt.Errorf("AUTH_BACKEND=local requires STORE_BACKEND=sqlite")
	}
	if c.QueueWorkers <= 0 {
		return fmt.Errorf("QUEUE_WORKERS must be positive")
	}
	if c.BodyLimitMB <= 0 {
		return fmt.Errorf("BODY_LIMIT_MB must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

// envParser collects parse errors so startup reports all bad variables at once.
type envParser struct {
	errs []string
}

func (p *envParser) int(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (p *envParser) float(key string, fallback float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a number", key, v))
		return fallback
	}
	return f
}

func (p *envParser) bool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

func (p *envParser) duration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.errs = append(p.errs, fmt.Sprintf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}

func (p *envParser) list(key string, fallback []string) []string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
