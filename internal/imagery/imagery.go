package imagery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Provider endpoints used when the configuration leaves them empty
const (
	DefaultGoogleURL           = "https://www.googleapis.com/customsearch/v1"
	DefaultOpenFoodFactsURL    = "https://world.openfoodfacts.org/cgi/search.pl"
	DefaultWikipediaAPIURL     = "https://en.wikipedia.org/w/api.php"
	DefaultWikipediaSummaryURL = "https://en.wikipedia.org/api/rest_v1/page/summary"

	defaultUserAgent       = "KitchenIQ/1.0 (home inventory app)"
	defaultProviderTimeout = 6 * time.Second
	defaultDownloadTimeout = 8 * time.Second
)

// Config holds provider credentials, endpoints and timeouts for the resolver
type Config struct {
	// GoogleAPIKey and GoogleCX enable Google Custom Search; both are required
	GoogleAPIKey string
	GoogleCX     string
	GoogleURL    string

	OpenFoodFactsURL    string
	WikipediaAPIURL     string
	WikipediaSummaryURL string

	ProviderTimeout time.Duration
	DownloadTimeout time.Duration
	UserAgent       string

	// NegativeCacheTTL bounds how long an unresolvable query stays cached.
	// Zero keeps negative entries until an explicit refresh.
	NegativeCacheTTL time.Duration
}

func (c Config) withDefaults() Config {
	if c.GoogleURL == "" {
		c.GoogleURL = DefaultGoogleURL
	}
	if c.OpenFoodFactsURL == "" {
		c.OpenFoodFactsURL = DefaultOpenFoodFactsURL
	}
	if c.WikipediaAPIURL == "" {
		c.WikipediaAPIURL = DefaultWikipediaAPIURL
	}
	if c.WikipediaSummaryURL == "" {
		c.WikipediaSummaryURL = DefaultWikipediaSummaryURL
	}
	if c.ProviderTimeout <= 0 {
		c.ProviderTimeout = defaultProviderTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = defaultDownloadTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	return c
}

// GoogleEnabled reports whether both Custom Search credentials are present
func (c Config) GoogleEnabled() bool {
	return c.GoogleAPIKey != "" && c.GoogleCX != ""
}

// Query is the free-text product description an image is resolved for
type Query struct {
	Name        string
	Description string
	Store       string
}

// Text is the combined "name description" search string
func (q Query) Text() string {
	return strings.TrimSpace(strings.TrimSpace(q.Name) + " " + strings.TrimSpace(q.Description))
}

// Fingerprint is the cache key for a query: the hex SHA-256 of the
// lowercased, trimmed "name description" string. Store does not participate.
func Fingerprint(q Query) string {
	sum := sha256.Sum256([]byte(strings.ToLower(q.Text())))
	return hex.EncodeToString(sum[:])
}

// Outcome classifies a single provider call
type Outcome int

const (
	// OutcomeNotFound means the provider answered but had no usable image
	OutcomeNotFound Outcome = iota
	// OutcomeFound means the provider returned a candidate image URL
	OutcomeFound
	// OutcomeUnavailable means the call failed: transport error, timeout,
	// non-2xx status or an undecodable body
	OutcomeUnavailable
)

func (o Outcome) String() string {
	switch o {
	case OutcomeFound:
		return "found"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is what one provider reports for one query
type Result struct {
	URL     string
	Outcome Outcome
	Err     error
}

func found(url string) Result {
	return Result{URL: url, Outcome: OutcomeFound}
}

func notFound() Result {
	return Result{Outcome: OutcomeNotFound}
}

func unavailable(err error) Result {
	return Result{Outcome: OutcomeUnavailable, Err: err}
}

// Provider is one stage of the image search cascade
type Provider interface {
	Name() string
	Search(ctx context.Context, q Query) Result
}

// Attempt records how one provider answered during a resolution
type Attempt struct {
	Provider string
	Outcome  Outcome
}

// Resolution is the resolver's answer for a query. Empty LocalPath and
// SourceURL mean nothing was found, which is not an error.
type Resolution struct {
	LocalPath string
	SourceURL string
	// CacheHit is true when the answer came from the cache without provider calls
	CacheHit bool
	Attempts []Attempt
}

// Found reports whether a local image is available
func (r Resolution) Found() bool {
	return r.LocalPath != ""
}
