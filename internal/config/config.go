package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Guest session policies.
const (
	GuestPolicyReuseByEmail = "reuse_by_email"
	GuestPolicyAlwaysNew    = "always_new"
)

// Guest auth modes.
const (
	GuestAuthToken              = "token"
	GuestAuthFingerprint        = "fingerprint"
	GuestAuthTokenOrFingerprint = "token_or_fingerprint"
)

type RateRule struct {
	Limit  int
	Window time.Duration
}

type Config struct {
	Addr      string
	DBDSN     string
	JWTSecret string
	JWTTTL    time.Duration
	LogLevel  string
	LogFormat string

	// cache backend: memory | redis
	CacheBackend  string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost          string
	SMTPPort          int
	SMTPUser          string
	SMTPPass          string
	SMTPFrom          string
	NotifyEmail       string
	NotifyMaxAttempts int
	SiteURL           string

	// first admin, created at startup when missing
	AdminLogin    string
	AdminEmail    string
	AdminPassword string

	// chat
	GuestSessionPolicy string
	GuestAuthMode      string
	RequirePublicToken bool
	SessionTokenTTL    time.Duration
	FingerprintTTL     time.Duration
	PublicTokenTTL     time.Duration
	TombstoneTTL       time.Duration
	NotifyDedupeWindow time.Duration
	MessageListDefault int
	MessageListMax     int
	MessageMaxRunes    int
	StartRate          RateRule
	SendRate           RateRule
	PollRate           RateRule
	CORSAllowedOrigins []string
	FAQFile            string
	QuizTemplatesFile  string

	// AI provider
	AIProvider        string
	AIModel           string
	AITimeout         time.Duration
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	OllamaBaseURL     string
	OllamaModel       string
	OpenRouterBaseURL string
	OpenRouterAPIKey  string
	OpenRouterModel   string
	OpenRouterSiteURL string
	OpenRouterAppName string

	// rabbitMQ
	RabbitURL         string
	RabbitQueue       string
	WorkerConcurrency int
}

// Load reads the process environment (and a .env file when present).
// The returned value is read-only for the lifetime of the process.
func Load() Config {
	_ = godotenv.Load()

	// DSN demo:
	// app:apppass@tcp(127.0.0.1:3306)/quiz_assist?charset=utf8mb4&parseTime=true&loc=Local
	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			"app", "apppass", "127.0.0.1", "3306", "quiz_assist",
		)
	}

	smtpFrom := os.Getenv("SMTP_FROM")
	if smtpFrom == "" {
		smtpFrom = os.Getenv("SMTP_USER")
	}
	notifyEmail := os.Getenv("NOTIFY_EMAIL")
	if notifyEmail == "" {
		notifyEmail = smtpFrom
	}

	return Config{
		Addr:      getenv("ADDR", ":8080"),
		DBDSN:     dsn,
		JWTSecret: getenv("JWT_SECRET", "dev-secret-change-me"),
		JWTTTL:    getdur("JWT_TTL", 24*time.Hour),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),

		CacheBackend:  strings.ToLower(getenv("CACHE_BACKEND", "redis")),
		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getint("REDIS_DB", 0),

		SMTPHost:          os.Getenv("SMTP_HOST"),
		SMTPPort:          getint("SMTP_PORT", 587),
		SMTPUser:          os.Getenv("SMTP_USER"),
		SMTPPass:          os.Getenv("SMTP_PASS"),
		SMTPFrom:          smtpFrom,
		NotifyEmail:       notifyEmail,
		NotifyMaxAttempts: clamp(getint("NOTIFY_MAX_ATTEMPTS", 5), 1, 20),
		SiteURL:           strings.TrimRight(getenv("SITE_URL", "http://localhost:8080"), "/"),

		AdminLogin:    os.Getenv("ADMIN_LOGIN"),
		AdminEmail:    strings.ToLower(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),

		GuestSessionPolicy: oneOf("GUEST_SESSION_POLICY", GuestPolicyReuseByEmail,
			GuestPolicyReuseByEmail, GuestPolicyAlwaysNew),
		GuestAuthMode: oneOf("GUEST_AUTH_MODE", GuestAuthToken,
			GuestAuthToken, GuestAuthFingerprint, GuestAuthTokenOrFingerprint),
		RequirePublicToken: getbool("REQUIRE_PUBLIC_TOKEN", false),
		SessionTokenTTL:    getdur("SESSION_TOKEN_TTL", 7*24*time.Hour),
		FingerprintTTL:     getdur("FINGERPRINT_TTL", 12*time.Hour),
		PublicTokenTTL:     getdur("PUBLIC_TOKEN_TTL", 12*time.Hour),
		TombstoneTTL:       getdur("TOMBSTONE_TTL", 7*24*time.Hour),
		NotifyDedupeWindow: getdur("NOTIFY_DEDUPE_WINDOW", time.Minute),
		MessageListDefault: getint("MESSAGE_LIST_DEFAULT", 100),
		MessageListMax:     getint("MESSAGE_LIST_MAX", 200),
		MessageMaxRunes:    getint("MESSAGE_MAX_RUNES", 4000),
		StartRate:          RateRule{Limit: getint("RATE_START_LIMIT", 8), Window: getdur("RATE_START_WINDOW", 60*time.Second)},
		SendRate:           RateRule{Limit: getint("RATE_SEND_LIMIT", 3), Window: getdur("RATE_SEND_WINDOW", 2*time.Second)},
		PollRate:           RateRule{Limit: getint("RATE_POLL_LIMIT", 2), Window: getdur("RATE_POLL_WINDOW", time.Second)},
		CORSAllowedOrigins: splitList(os.Getenv("CORS_ORIGINS")),
		FAQFile:            getenv("FAQ_FILE", "faqs.yaml"),
		QuizTemplatesFile:  getenv("QUIZ_TEMPLATES_FILE", "quiz_templates.yaml"),

		AIProvider:        strings.ToLower(getenv("AI_PROVIDER", "openai")),
		AIModel:           getenv("AI_MODEL", "gpt-4"),
		AITimeout:         getdur("AI_TIMEOUT", 30*time.Second),
		OpenAIAPIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:     os.Getenv("OPENAI_BASE_URL"),
		OllamaBaseURL:     getenv("OLLAMA_BASE_URL", "http://localhost:11434"),
		OllamaModel:       getenv("OLLAMA_MODEL", "llama3:latest"),
		OpenRouterBaseURL: getenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterAPIKey:  os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterModel:   getenv("OPENROUTER_MODEL", "openrouter/auto"),
		OpenRouterSiteURL: os.Getenv("OPENROUTER_SITE_URL"),
		OpenRouterAppName: os.Getenv("OPENROUTER_APP_NAME"),

		RabbitURL:         os.Getenv("RABBIT_URL"),
		RabbitQueue:       getenv("RABBIT_QUEUE", "chat_notifications"),
		WorkerConcurrency: clamp(getint("WORKER_CONCURRENCY", 2), 1, 50),
	}
}

func getenv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// getdur accepts Go durations ("90s") or bare seconds ("90").
func getdur(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func oneOf(k, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(k)))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func clamp(n, lo, hi int) int {
	if n < lo {
		return lo
	}
	if n > hi {
		return hi
	}
	return n
}
