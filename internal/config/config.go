package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultPort                = "8080"
	defaultDatabaseURL         = "file:webchat.db"
	defaultBackendBaseURL      = "http://127.0.0.1:11434"
	defaultBackendAPIStyle     = "native"
	defaultModel               = "llama3.1"
	defaultResultLimit         = 6
	defaultSearchHTMLURL       = "https://html.duckduckgo.com/html/"
	defaultSearchMirrorURL     = "https://duckduckgo.com/html/"
	defaultSearchLiteURL       = "https://lite.duckduckgo.com/lite/"
	defaultSearchInstantURL    = "https://api.duckduckgo.com/"
	defaultSearchNewsRSSURL    = "https://news.google.com/rss/search"
	defaultProbeURL            = "https://duckduckgo.com/"
	defaultResearchTimeoutSecs = 180
)

const (
	APIStyleNative = "native"
	APIStyleOpenAI = "openai"
)

type Config struct {
	Port           string
	Environment    string
	LogLevel       string
	LogFormat      string
	AllowedOrigins []string

	DatabaseURL       string
	DatabaseAuthToken string

	SettingsFile string

	BackendBaseURL  string
	BackendAPIStyle string
	BackendAPIKey   string
	DefaultModel    string

	AutoSearch  bool
	ResultLimit int

	SearchHTMLURL        string
	SearchMirrorURL      string
	SearchLiteURL        string
	SearchInstantURL     string
	SearchNewsRSSURL     string
	SearchAttemptTimeout time.Duration
	SearchMinInterval    time.Duration
	PageFetchTimeout     time.Duration
	EnrichMaxChars       int

	ProbeURL     string
	ProbeTTL     time.Duration
	ProbeTimeout time.Duration

	DirectiveRetryCap          int
	GenerationTimeout          time.Duration
	SideCallTimeout            time.Duration
	DeepResearchIterations     int
	DeepResearchTimeoutSeconds int
}

func (c Config) ListenAddress() string {
	return fmt.Sprintf(":%s", c.Port)
}

// Load reads .env (when present) and then the process environment.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Port:              envOrDefault("PORT", defaultPort),
		Environment:       envOrDefault("APP_ENV", "development"),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFormat:         envOrDefault("LOG_FORMAT", "text"),
		DatabaseURL:       envOrDefault("DATABASE_URL", defaultDatabaseURL),
		DatabaseAuthToken: strings.TrimSpace(os.Getenv("DATABASE_AUTH_TOKEN")),
		SettingsFile:      strings.TrimSpace(os.Getenv("SETTINGS_FILE")),

		BackendBaseURL:  strings.TrimRight(envOrDefault("BACKEND_BASE_URL", defaultBackendBaseURL), "/"),
		BackendAPIStyle: strings.ToLower(envOrDefault("BACKEND_API_STYLE", defaultBackendAPIStyle)),
		BackendAPIKey:   strings.TrimSpace(os.Getenv("BACKEND_API_KEY")),
		DefaultModel:    envOrDefault("DEFAULT_MODEL", defaultModel),

		AutoSearch:  boolOrDefault("AUTO_SEARCH", true),
		ResultLimit: intOrDefault("SEARCH_RESULT_LIMIT", defaultResultLimit),

		SearchHTMLURL:        envOrDefault("SEARCH_HTML_URL", defaultSearchHTMLURL),
		SearchMirrorURL:      envOrDefault("SEARCH_MIRROR_URL", defaultSearchMirrorURL),
		SearchLiteURL:        envOrDefault("SEARCH_LITE_URL", defaultSearchLiteURL),
		SearchInstantURL:     envOrDefault("SEARCH_INSTANT_URL", defaultSearchInstantURL),
		SearchNewsRSSURL:     envOrDefault("SEARCH_NEWS_RSS_URL", defaultSearchNewsRSSURL),
		SearchAttemptTimeout: durationOrDefault("SEARCH_ATTEMPT_TIMEOUT", 8*time.Second),
		SearchMinInterval:    durationOrDefault("SEARCH_MIN_INTERVAL", 0),
		PageFetchTimeout:     durationOrDefault("PAGE_FETCH_TIMEOUT", 6*time.Second),
		EnrichMaxChars:       intOrDefault("ENRICH_MAX_CHARS", 900),

		ProbeURL:     envOrDefault("PROBE_URL", defaultProbeURL),
		ProbeTTL:     durationOrDefault("PROBE_TTL", 5*time.Second),
		ProbeTimeout: durationOrDefault("PROBE_TIMEOUT", 2*time.Second),

		DirectiveRetryCap:          intOrDefault("DIRECTIVE_RETRY_CAP", 2),
		GenerationTimeout:          durationOrDefault("GENERATION_TIMEOUT", 3*time.Minute),
		SideCallTimeout:            durationOrDefault("SIDE_CALL_TIMEOUT", 45*time.Second),
		DeepResearchIterations:     intOrDefault("DEEP_RESEARCH_ITERATIONS", 3),
		DeepResearchTimeoutSeconds: intOrDefault("DEEP_RESEARCH_TIMEOUT_SECONDS", defaultResearchTimeoutSecs),
	}

	origins := parseList(envOrDefault("CORS_ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:4173"))
	if len(origins) == 0 {
		return Config{}, errors.New("CORS_ALLOWED_ORIGINS must include at least one origin")
	}
	cfg.AllowedOrigins = origins

	if cfg.BackendAPIStyle != APIStyleNative && cfg.BackendAPIStyle != APIStyleOpenAI {
		return Config{}, fmt.Errorf("BACKEND_API_STYLE must be %q or %q", APIStyleNative, APIStyleOpenAI)
	}
	if cfg.ResultLimit < 1 || cfg.ResultLimit > 12 {
		return Config{}, errors.New("SEARCH_RESULT_LIMIT must be between 1 and 12")
	}
	if cfg.DeepResearchIterations < 3 || cfg.DeepResearchIterations > 5 {
		return Config{}, errors.New("DEEP_RESEARCH_ITERATIONS must be between 3 and 5")
	}
	if cfg.DirectiveRetryCap < 0 {
		return Config{}, errors.New("DIRECTIVE_RETRY_CAP must be >= 0")
	}
	if strings.HasPrefix(cfg.DatabaseURL, "libsql://") && cfg.DatabaseAuthToken == "" {
		return Config{}, errors.New("DATABASE_AUTH_TOKEN is required for libsql:// URLs")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func boolOrDefault(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func intOrDefault(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return parsed
}

func durationOrDefault(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil || parsed < 0 {
		return fallback
	}
	return parsed
}

func parseList(raw string) []string {
	items := strings.Split(raw, ",")
	out := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
