package inventory

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/zombor/kitcheniq/internal/scanning"
)

const (
	// minRestocks is how many restock events a product needs before a cycle is predicted
	minRestocks = 2
	// confidenceSaturation is the restock count at which confidence reaches 1
	confidenceSaturation = 5.0
)

// Suggestion predicts when a product will need restocking again.
// DaysUntilNeeded is negative when the product is overdue.
type Suggestion struct {
	ItemName         string            `json:"item_name"`
	Category         scanning.Category `json:"category"`
	ImageLocal       string            `json:"image_local"`
	ImageURL         string            `json:"image_url"`
	ItemID           *int64            `json:"item_id"`
	Status           Status            `json:"status"`
	AvgCycleDays     int               `json:"avg_cycle_days"`
	DaysSinceRestock int               `json:"days_since_restock"`
	DaysUntilNeeded  int               `json:"days_until_needed"`
	Confidence       float64           `json:"confidence"`
	RestockCount     int               `json:"restock_count"`
}

// ItemLookup returns the current item for a product name, or nil if none exists
type ItemLookup func(name string) *Item

// Suggestions computes restock predictions from restocked events.
// Events are grouped by name case-insensitively; each group needs at least
// two events and an average gap of at least one whole day. Results are
// ordered by DaysUntilNeeded, most overdue first.
func Suggestions(now time.Time, events []*HistoryEvent, lookup ItemLookup) []Suggestion {
	type group struct {
		name  string
		times []time.Time
	}
	var (
		order  []string
		groups = make(map[string]*group)
	)
	for _, ev := range events {
		if ev.Kind != EventRestocked {
			continue
		}
		key := nameKey(ev.ItemName)
		g, ok := groups[key]
		if !ok {
			g = &group{name: strings.TrimSpace(ev.ItemName)}
			groups[key] = g
			order = append(order, key)
		}
		g.times = append(g.times, ev.At)
	}

	suggestions := make([]Suggestion, 0, len(order))
	for _, key := range order {
		g := groups[key]
		if len(g.times) < minRestocks {
			continue
		}
		sort.Slice(g.times, func(i, j int) bool { return g.times[i].Before(g.times[j]) })

		total := 0
		for i := 1; i < len(g.times); i++ {
			total += wholeDays(g.times[i].Sub(g.times[i-1]))
		}
		avgCycle := float64(total) / float64(len(g.times)-1)
		if avgCycle < 1 {
			continue
		}

		daysSince := wholeDays(now.Sub(g.times[len(g.times)-1]))
		s := Suggestion{
			ItemName:         g.name,
			Category:         scanning.CategoryOther,
			AvgCycleDays:     int(math.RoundToEven(avgCycle)),
			DaysSinceRestock: daysSince,
			DaysUntilNeeded:  int(math.RoundToEven(avgCycle - float64(daysSince))),
			Confidence:       math.Round(math.Min(float64(len(g.times))/confidenceSaturation, 1)*100) / 100,
			RestockCount:     len(g.times),
		}
		if lookup != nil {
			if item := lookup(g.name); item != nil {
				id := item.ID
				s.ItemID = &id
				s.Category = item.Category
				s.ImageLocal = item.ImageLocal
				s.ImageURL = item.ImageURL
				s.Status = item.Status
			}
		}
		suggestions = append(suggestions, s)
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].DaysUntilNeeded < suggestions[j].DaysUntilNeeded
	})
	return suggestions
}

// PriceEntry is the latest price seen at one store
type PriceEntry struct {
	Store      string    `json:"store"`
	Price      float64   `json:"price"`
	RecordedAt time.Time `json:"date_recorded"`
	Cheapest   bool      `json:"cheapest,omitempty"`
}

// ComparePrices keeps the most recent observation per store, orders them by
// price ascending and marks the first as cheapest.
func ComparePrices(observations []*PriceObservation) []PriceEntry {
	latest := make(map[string]*PriceObservation)
	for _, obs := range observations {
		current, ok := latest[obs.Store]
		if !ok || !obs.At.Before(current.At) {
			latest[obs.Store] = obs
		}
	}

	entries := make([]PriceEntry, 0, len(latest))
	for _, obs := range latest {
		entries = append(entries, PriceEntry{Store: obs.Store, Price: obs.Price, RecordedAt: obs.At})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Price != entries[j].Price {
			return entries[i].Price < entries[j].Price
		}
		return entries[i].Store < entries[j].Store
	})
	if len(entries) > 0 {
		entries[0].Cheapest = true
	}
	return entries
}

// wholeDays truncates a duration to whole days, rounding toward negative infinity
func wholeDays(d time.Duration) int {
	return int(math.Floor(d.Hours() / 24))
}
