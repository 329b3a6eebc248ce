package scanning

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	openingFence = regexp.MustCompile("^```(?:json|JSON)?[ \t]*\n?")
	closingFence = regexp.MustCompile("\n?```$")
)

// rawLineItem mirrors the oracle's JSON before validation.
// Price stays raw because models return numbers, strings and nulls interchangeably.
type rawLineItem struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       json.RawMessage `json:"price"`
	Category    string          `json:"category"`
	Store       string          `json:"store"`
}

// stripCodeFence removes a surrounding ``` or ```json markdown fence
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	text = openingFence.ReplaceAllString(text, "")
	text = closingFence.ReplaceAllString(text, "")
	return strings.TrimSpace(text)
}

// parseLineItemsJSON validates the oracle's text response.
// Anything that is not a JSON array is terminal for the whole receipt.
func parseLineItemsJSON(text string, storeHint string) ([]LineItem, error) {
	text = stripCodeFence(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedExtraction)
	}
	if !strings.HasPrefix(text, "[") {
		if json.Valid([]byte(text)) {
			return nil, fmt.Errorf("%w: top level value is not an array", ErrMalformedExtraction)
		}
		return nil, fmt.Errorf("%w: response is not JSON", ErrMalformedExtraction)
	}

	var raw []rawLineItem
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return nil, fmt.Errorf("%w: unmarshaling json: %v", ErrMalformedExtraction, err)
	}

	storeHint = NormalizeStoreHint(storeHint)
	items := make([]LineItem, 0, len(raw))
	for i, r := range raw {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			slog.Warn("Dropping line item without a name", "index", i)
			continue
		}

		item := LineItem{
			Name:        name,
			Description: strings.TrimSpace(r.Description),
		}

		price, ok := parsePrice(r.Price)
		if !ok {
			slog.Warn("Defaulting unparseable price to 0", "item", name, "price", string(r.Price))
			item.NeedsReview = true
		}
		item.Price = price

		category, ok := ParseCategory(r.Category)
		if !ok {
			slog.Warn("Unknown category, defaulting to Other", "item", name, "category", r.Category)
			item.NeedsReview = true
		}
		item.Category = category

		switch {
		case storeHint != "":
			item.Store = storeHint
		case strings.TrimSpace(r.Store) != "":
			item.Store = strings.TrimSpace(r.Store)
		default:
			item.Store = UnknownStore
		}

		items = append(items, item)
	}

	return items, nil
}

// parsePrice accepts a JSON number, a numeric string (optionally with a
// currency symbol), or null/missing. Negative and unparseable values yield 0, false.
func parsePrice(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, true
	}

	var number float64
	if err := json.Unmarshal(raw, &number); err == nil {
		if number < 0 {
			return 0, false
		}
		return number, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, true
	}
	s = strings.TrimLeft(s, "$€£ ")
	s = strings.ReplaceAll(s, ",", "")
	number, err := strconv.ParseFloat(s, 64)
	if err != nil || number < 0 || math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, false
	}
	return number, true
}
