package imagery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/zombor/kitcheniq/internal/storage"
)

// maxImageBytes caps a downloaded product image
const maxImageBytes = 10 << 20

// Resolver turns product queries into locally cached images. It consults the
// fingerprint cache first and otherwise walks the provider cascade in order,
// stopping at the first provider that finds a candidate.
type Resolver struct {
	cache       Cache
	files       storage.Storage
	providers   []Provider
	client      *http.Client
	userAgent   string
	negativeTTL time.Duration
	now         func() time.Time
}

// NewResolver creates a Resolver. With no providers given, DefaultProviders(cfg) is used.
func NewResolver(cfg Config, cache Cache, files storage.Storage, providers ...Provider) *Resolver {
	cfg = cfg.withDefaults()
	if len(providers) == 0 {
		providers = DefaultProviders(cfg)
	}
	return &Resolver{
		cache:       cache,
		files:       files,
		providers:   providers,
		client:      &http.Client{Timeout: cfg.DownloadTimeout},
		userAgent:   cfg.UserAgent,
		negativeTTL: cfg.NegativeCacheTTL,
		now:         time.Now,
	}
}

// Resolve returns the cached or freshly resolved image for q. Provider and
// download failures degrade to an empty Resolution; Resolve never fails.
func (r *Resolver) Resolve(ctx context.Context, q Query) Resolution {
	fingerprint := Fingerprint(q)

	entry, err := r.cache.GetImage(ctx, fingerprint)
	switch {
	case err == nil:
		if res, ok := r.fromCache(entry); ok {
			return res
		}
	case errors.Is(err, ErrCacheMiss):
		cacheLookups.WithLabelValues("miss").Inc()
	default:
		slog.Warn("Image cache lookup failed", "query", q.Text(), "error", err)
		cacheLookups.WithLabelValues("miss").Inc()
	}

	return r.resolve(ctx, q, fingerprint)
}

// Refresh drops the cached entry for q and resolves it again from the providers
func (r *Resolver) Refresh(ctx context.Context, q Query) (Resolution, error) {
	fingerprint := Fingerprint(q)
	if err := r.cache.DeleteImage(ctx, fingerprint); err != nil {
		return Resolution{}, fmt.Errorf("deleting cache entry: %w", err)
	}
	return r.resolve(ctx, q, fingerprint), nil
}

// Override stores a caller supplied image for q. The entry replaces any
// previous resolution and has no source URL.
func (r *Resolver) Override(ctx context.Context, q Query, data []byte) (Resolution, error) {
	processed, err := processOverride(data)
	if err != nil {
		return Resolution{}, fmt.Errorf("processing image: %w", err)
	}

	fingerprint := Fingerprint(q)
	path, err := r.files.Save("custom_"+fingerprint+".jpg", processed)
	if err != nil {
		return Resolution{}, fmt.Errorf("saving image: %w", err)
	}

	entry := &CacheEntry{
		Fingerprint: fingerprint,
		Query:       q.Text(),
		LocalPath:   path,
		CachedAt:    r.now().UTC(),
	}
	if err := r.cache.PutImage(ctx, entry); err != nil {
		return Resolution{}, fmt.Errorf("writing cache entry: %w", err)
	}

	return Resolution{LocalPath: path}, nil
}

func (r *Resolver) fromCache(entry *CacheEntry) (Resolution, bool) {
	if entry.LocalPath != "" {
		if r.files.Exists(entry.LocalPath) {
			cacheLookups.WithLabelValues("hit").Inc()
			return Resolution{LocalPath: entry.LocalPath, SourceURL: entry.SourceURL, CacheHit: true}, true
		}
		// the file was removed behind our back
		cacheLookups.WithLabelValues("stale").Inc()
		return Resolution{}, false
	}

	if r.negativeTTL > 0 && r.now().Sub(entry.CachedAt) >= r.negativeTTL {
		cacheLookups.WithLabelValues("stale").Inc()
		return Resolution{}, false
	}
	cacheLookups.WithLabelValues("negative_hit").Inc()
	return Resolution{SourceURL: entry.SourceURL, CacheHit: true}, true
}

// resolve runs the cascade, downloads the winner and records the outcome
// in the cache whether or not anything was found.
func (r *Resolver) resolve(ctx context.Context, q Query, fingerprint string) Resolution {
	var res Resolution
	for _, p := range r.providers {
		result := p.Search(ctx, q)
		providerResults.WithLabelValues(p.Name(), result.Outcome.String()).Inc()
		res.Attempts = append(res.Attempts, Attempt{Provider: p.Name(), Outcome: result.Outcome})

		if result.Outcome == OutcomeUnavailable {
			slog.Debug("Image provider unavailable", "provider", p.Name(), "query", q.Text(), "error", result.Err)
			continue
		}
		if result.Outcome == OutcomeFound {
			res.SourceURL = result.URL
			break
		}
	}

	if res.SourceURL != "" {
		path, err := r.download(ctx, res.SourceURL, fingerprint)
		if err != nil {
			downloads.WithLabelValues("failed").Inc()
			slog.Warn("Failed to download product image", "url", res.SourceURL, "error", err)
		} else {
			downloads.WithLabelValues("ok").Inc()
			res.LocalPath = path
		}
	}

	entry := &CacheEntry{
		Fingerprint: fingerprint,
		Query:       q.Text(),
		LocalPath:   res.LocalPath,
		SourceURL:   res.SourceURL,
		CachedAt:    r.now().UTC(),
	}
	if err := r.cache.PutImage(ctx, entry); err != nil {
		slog.Warn("Failed to write image cache entry", "query", q.Text(), "error", err)
	}

	return res
}

func (r *Resolver) download(ctx context.Context, imageURL, fingerprint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return "", fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("requesting image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("reading image: %w", err)
	}
	if len(data) > maxImageBytes {
		return "", fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}

	return r.files.Save(fingerprint+extensionFor(resp.Header.Get("Content-Type")), data)
}

// extensionFor maps a declared content type to png, webp or the jpg default
func extensionFor(contentType string) string {
	contentType = strings.ToLower(contentType)
	switch {
	case strings.Contains(contentType, "png"):
		return ".png"
	case strings.Contains(contentType, "webp"):
		return ".webp"
	default:
		return ".jpg"
	}
}
