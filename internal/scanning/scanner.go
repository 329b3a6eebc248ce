package scanning

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Extraction oracle providers
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"
)

// UnknownStore is used when neither the caller nor the receipt names a store
const UnknownStore = "Unknown"

var (
	// ErrProviderUnavailable means the extraction oracle could not be reached,
	// timed out, or answered with a non-success status. There is no fallback oracle.
	ErrProviderUnavailable = errors.New("extraction provider unavailable")

	// ErrMalformedExtraction means the oracle answered but the text was not a JSON array
	ErrMalformedExtraction = errors.New("malformed extraction response")
)

// LineItem is one product line extracted from a receipt
type LineItem struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Price       float64  `json:"price"`
	Category    Category `json:"category"`
	Store       string   `json:"store"`
	// NeedsReview is set when the category or price had to be defaulted
	NeedsReview bool `json:"needs_review,omitempty"`
}

// Scanner defines the interface for receipt extraction
type Scanner interface {
	// ScanReceipt extracts the purchased line items from a receipt image.
	// A non-empty storeHint is forced onto every returned item.
	ScanReceipt(ctx context.Context, imageData []byte, contentType string, storeHint string) ([]LineItem, error)
	// Close releases any client resources
	Close() error
}

// Config selects and configures the extraction oracle
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
	Timeout  time.Duration
}

// New builds the Scanner named by cfg.Provider
func New(cfg Config) (Scanner, error) {
	switch cfg.Provider {
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.Timeout)
	case ProviderGemini:
		return NewGemini(cfg.APIKey, cfg.Model, cfg.Timeout)
	case ProviderOllama:
		return NewOllama(cfg.BaseURL, cfg.Model, cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown scanner provider %q", cfg.Provider)
	}
}

// NormalizeStoreHint returns "" for blank hints and the Unknown placeholder
func NormalizeStoreHint(store string) string {
	store = strings.TrimSpace(store)
	if strings.EqualFold(store, UnknownStore) {
		return ""
	}
	return store
}
