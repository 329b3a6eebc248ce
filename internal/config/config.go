package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/peterbourgon/ff/v4/ffjson"

	"github.com/zombor/kitcheniq/internal/imagery"
	"github.com/zombor/kitcheniq/internal/scanning"
)

// EnvVarPrefix is prepended to flag names when reading environment variables,
// e.g. --google-api-key becomes KITCHENIQ_GOOGLE_API_KEY.
const EnvVarPrefix = "KITCHENIQ"

// Cache backends for fingerprint-keyed image lookups
const (
	CacheBackendSQLite = "sqlite"
	CacheBackendBolt   = "bolt"
)

// Config is built once at start-up and handed to every component that needs it
type Config struct {
	Port          int
	DBPath        string
	UploadDir     string
	ImageCacheDir string
	CacheBackend  string
	BoltPath      string

	AuthUser string
	AuthPass string

	Scanner       scanning.Config
	Images        imagery.Config
	HomeAssistant HomeAssistant

	LogLevel  string
	LogFormat string

	ShowVersion bool
}

// HomeAssistant holds the supervisor API location used to push the shopping list
type HomeAssistant struct {
	URL   string
	Token string
}

// Enabled reports whether a supervisor token is available
func (h HomeAssistant) Enabled() bool {
	return h.Token != ""
}

// Parse reads flags, KITCHENIQ_* environment variables and an optional JSON
// config file. getenv is used for the provider-conventional key variables
// (OPENAI_API_KEY, GEMINI_API_KEY, GOOGLE_API_KEY, GOOGLE_CX, SUPERVISOR_TOKEN).
func Parse(args []string, getenv func(string) string) (*Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	fs := ff.NewFlagSet("kitcheniq")
	var (
		port          = fs.IntLong("port", 5000, "HTTP server port")
		dbPath        = fs.StringLong("db", "inventory.db", "SQLite database file path")
		uploadDir     = fs.StringLong("uploads", "./uploads", "Directory for uploaded receipts")
		imageCacheDir = fs.StringLong("image-cache", "./image_cache", "Directory for cached product images")
		cacheBackend  = fs.StringLong("image-cache-backend", CacheBackendSQLite, "Image cache index: 'sqlite' or 'bolt'")
		boltPath      = fs.StringLong("image-cache-db", "image_cache.bolt", "BoltDB file used when --image-cache-backend=bolt")

		scannerType    = fs.StringLong("scanner", scanning.ProviderOpenAI, "Extraction oracle: 'openai', 'gemini' or 'ollama'")
		scannerTimeout = fs.DurationLong("scanner-timeout", 60*time.Second, "Timeout for one extraction call")
		openAIKey      = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openAIModel    = fs.StringLong("openai-model", "gpt-4o", "OpenAI model name")
		openAIURL      = fs.StringLong("openai-url", "https://api.openai.com/v1", "OpenAI-compatible API base URL")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-pro", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llava", "Ollama model name")

		googleKey       = fs.StringLong("google-api-key", "", "Google Custom Search API key (optional, or GOOGLE_API_KEY)")
		googleCX        = fs.StringLong("google-cx", "", "Google Custom Search engine id (optional, or GOOGLE_CX)")
		googleURL       = fs.StringLong("google-url", imagery.DefaultGoogleURL, "Google Custom Search endpoint")
		offURL          = fs.StringLong("openfoodfacts-url", imagery.DefaultOpenFoodFactsURL, "Open Food Facts search endpoint")
		wikiAPIURL      = fs.StringLong("wikipedia-api-url", imagery.DefaultWikipediaAPIURL, "Wikipedia search API endpoint")
		wikiSummaryURL  = fs.StringLong("wikipedia-summary-url", imagery.DefaultWikipediaSummaryURL, "Wikipedia REST page summary base URL")
		providerTimeout = fs.DurationLong("provider-timeout", 6*time.Second, "Timeout for one image provider call")
		downloadTimeout = fs.DurationLong("download-timeout", 8*time.Second, "Timeout for downloading a resolved image")
		userAgent       = fs.StringLong("user-agent", "KitchenIQ/1.0 (home inventory app)", "User-Agent sent to image providers")
		negativeTTL     = fs.DurationLong("negative-cache-ttl", 0, "Re-resolve unresolvable queries after this long (0 = never)")

		authUser = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass = fs.StringLong("auth-pass", "", "Basic auth password (optional)")

		haURL   = fs.StringLong("ha-url", "http://supervisor/core/api", "Home Assistant API base URL")
		haToken = fs.StringLong("ha-token", "", "Home Assistant token (or SUPERVISOR_TOKEN)")

		logLevel  = fs.StringLong("log-level", "info", "Log level: debug, info, warn, error")
		logFormat = fs.StringLong("log-format", "text", "Log format: text or json")

		_           = fs.StringLong("config", "", "JSON config file (keys are flag names)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix(EnvVarPrefix),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ffjson.Parse),
		ff.WithConfigAllowMissingFile(),
	); err != nil {
		return nil, fmt.Errorf("%s\n%w", ffhelp.Flags(fs), err)
	}

	cfg := &Config{
		Port:          *port,
		DBPath:        *dbPath,
		UploadDir:     *uploadDir,
		ImageCacheDir: *imageCacheDir,
		CacheBackend:  strings.ToLower(strings.TrimSpace(*cacheBackend)),
		BoltPath:      *boltPath,
		AuthUser:      *authUser,
		AuthPass:      *authPass,
		Images: imagery.Config{
			GoogleAPIKey:        firstNonEmpty(*googleKey, getenv("GOOGLE_API_KEY")),
			GoogleCX:            firstNonEmpty(*googleCX, getenv("GOOGLE_CX")),
			GoogleURL:           *googleURL,
			OpenFoodFactsURL:    *offURL,
			WikipediaAPIURL:     *wikiAPIURL,
			WikipediaSummaryURL: *wikiSummaryURL,
			ProviderTimeout:     *providerTimeout,
			DownloadTimeout:     *downloadTimeout,
			UserAgent:           *userAgent,
			NegativeCacheTTL:    *negativeTTL,
		},
		HomeAssistant: HomeAssistant{
			URL:   strings.TrimRight(*haURL, "/"),
			Token: firstNonEmpty(*haToken, getenv("SUPERVISOR_TOKEN")),
		},
		LogLevel:    *logLevel,
		LogFormat:   *logFormat,
		ShowVersion: *showVersion,
	}

	scannerCfg := scanning.Config{
		Provider: strings.ToLower(strings.TrimSpace(*scannerType)),
		Timeout:  *scannerTimeout,
	}
	switch scannerCfg.Provider {
	case scanning.ProviderOpenAI:
		scannerCfg.APIKey = firstNonEmpty(*openAIKey, getenv("OPENAI_API_KEY"))
		scannerCfg.Model = *openAIModel
		scannerCfg.BaseURL = *openAIURL
	case scanning.ProviderGemini:
		scannerCfg.APIKey = firstNonEmpty(*geminiKey, getenv("GEMINI_API_KEY"))
		scannerCfg.Model = *geminiModel
	case scanning.ProviderOllama:
		scannerCfg.Model = *ollamaModel
		scannerCfg.BaseURL = *ollamaURL
	default:
		return nil, fmt.Errorf("invalid scanner type %q: valid values are openai, gemini or ollama", *scannerType)
	}
	cfg.Scanner = scannerCfg

	switch cfg.CacheBackend {
	case CacheBackendSQLite, CacheBackendBolt:
	default:
		return nil, fmt.Errorf("invalid image cache backend %q: valid values are sqlite or bolt", *cacheBackend)
	}

	return cfg, nil
}

// NewLogger builds the process logger from the configured level and format
func NewLogger(level, format string, w io.Writer) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(strings.TrimSpace(level))); err != nil {
		return nil, fmt.Errorf("parsing log level: %w", err)
	}

	opts := &slog.HandlerOptions{Level: lvl}
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
