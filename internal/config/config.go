package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Addr        string // API bind address, e.g., "127.0.0.1:8080" (Windows) or ":8080" (Docker)
	LogDir      string // logs directory
	DatabaseURL string // empty means use the in-memory store

	OpenRouterKey     string
	OpenRouterBaseURL string
	OpenRouterReferer string

	ModelsFile   string        // optional YAML model list; bypasses the API catalog
	CatalogCache string        // on-disk catalog cache file
	CatalogTTL   time.Duration // catalog cache freshness

	Concurrency   int           // probes per batch
	BatchDelay    time.Duration // pause between batches
	ProbeTimeout  time.Duration // per-attempt deadline
	MaxRetries    int           // retries for rate-limited probes
	BackoffStep   time.Duration // backoff = attempt * BackoffStep
	CheckInterval time.Duration // 0 disables scheduled sweeps

	PublicAPIKeys  []string
	AdminAPIKeys   []string
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int

	SlackWebhook    string
	AlertCooldown   time.Duration
	AlertOnRecovery bool
}

// Load reads an optional .env file (existing variables win) and then the
// environment.
func Load(files ...string) Config {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		_ = godotenv.Load(f) // missing file is fine
	}
	return FromEnv()
}

func FromEnv() Config {
	return Config{
		Addr:        str("API_ADDR", "127.0.0.1:8080"),
		LogDir:      str("LOG_DIR", "logs"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		OpenRouterKey:     os.Getenv("OPENROUTER_API_KEY"),
		OpenRouterBaseURL: str("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1"),
		OpenRouterReferer: os.Getenv("OPENROUTER_REFERER"),

		ModelsFile:   os.Getenv("MODELS_FILE"),
		CatalogCache: str("CATALOG_CACHE", "data/models-cache.json"),
		CatalogTTL:   millis("CATALOG_TTL_MS", 24*time.Hour, false),

		Concurrency:   positive("PROBE_CONCURRENCY", 3),
		BatchDelay:    millis("PROBE_BATCH_DELAY_MS", 500*time.Millisecond, true),
		ProbeTimeout:  millis("PROBE_TIMEOUT_MS", 10*time.Second, false),
		MaxRetries:    nonNegative("PROBE_MAX_RETRIES", 2),
		BackoffStep:   millis("PROBE_BACKOFF_MS", 2*time.Second, true),
		CheckInterval: millis("CHECK_INTERVAL_MS", 0, true),

		PublicAPIKeys:  list("PUBLIC_API_KEYS"),
		AdminAPIKeys:   list("ADMIN_API_KEYS"),
		AllowedOrigins: list("ALLOWED_ORIGINS"),
		PublicRPM:      positive("PUBLIC_RPM", 60),
		PublicBurst:    positive("PUBLIC_BURST", 20),

		SlackWebhook:    os.Getenv("SLACK_WEBHOOK"),
		AlertCooldown:   millis("ALERT_COOLDOWN_MS", 15*time.Minute, true),
		AlertOnRecovery: boolean("ALERT_ON_RECOVERY", true),
	}
}

func str(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func positive(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return def
}

func nonNegative(key string, def int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n >= 0 {
		return n
	}
	return def
}

// millis parses a millisecond count. Zero is accepted only when allowZero.
func millis(key string, def time.Duration, allowZero bool) time.Duration {
	ms, err := strconv.Atoi(os.Getenv(key))
	if err != nil || ms < 0 || (ms == 0 && !allowZero) {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func boolean(key string, def bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return def
}

func list(key string) []string {
	var out []string
	for _, p := range strings.Split(os.Getenv(key), ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
