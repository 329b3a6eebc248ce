package inventory

import (
	"errors"
	"time"

	"github.com/zombor/kitcheniq/internal/scanning"
)

// ErrNotFound is returned when a referenced item or shopping list entry does not exist
var ErrNotFound = errors.New("not found")

// Status is the availability of an inventory item
type Status string

const (
	StatusHave   Status = "have"
	StatusNeeded Status = "needed"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusHave || s == StatusNeeded
}

// EventKind is the kind of an item history event
type EventKind string

const (
	EventRestocked EventKind = "restocked"
	EventNeeded    EventKind = "needed"
)

// Item represents one product in the household inventory.
// Name is the identity for reconciliation and is compared case-insensitively.
type Item struct {
	ID          int64             `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    scanning.Category `json:"category"`
	Price       float64           `json:"price"`
	ImageURL    string            `json:"image_url"`
	ImageLocal  string            `json:"image_local"`
	Status      Status            `json:"status"`
	Quantity    int               `json:"quantity"`
	Store       string            `json:"store"`
	NeedsReview bool              `json:"needs_review"`
	CreatedAt   time.Time         `json:"date_added"`
	ModifiedAt  time.Time         `json:"date_modified"`
}

// ShoppingListEntry is a needed item. ItemID is nil for manually added entries.
type ShoppingListEntry struct {
	ID          int64             `json:"id"`
	ItemID      *int64            `json:"item_id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    scanning.Category `json:"category"`
	Price       float64           `json:"price"`
	ImageURL    string            `json:"image_url"`
	ImageLocal  string            `json:"image_local"`
	Store       string            `json:"store"`
	AddedAt     time.Time         `json:"added_date"`
}

// HistoryEvent is an append-only record of an item being restocked or needed
type HistoryEvent struct {
	ID       int64     `json:"id"`
	ItemName string    `json:"item_name"`
	Kind     EventKind `json:"event_type"`
	At       time.Time `json:"event_date"`
}

// PriceObservation is an append-only record of a price paid at a store
type PriceObservation struct {
	ID       int64     `json:"id"`
	ItemName string    `json:"item_name"`
	Store    string    `json:"store"`
	Price    float64   `json:"price"`
	At       time.Time `json:"date_recorded"`
}

// Stats summarises the inventory
type Stats struct {
	Total         int     `json:"total"`
	Have          int     `json:"have"`
	Needed        int     `json:"needed"`
	ShoppingTotal float64 `json:"shopping_total"`
}

// ItemFilter narrows ListItems; empty fields match everything
type ItemFilter struct {
	Category scanning.Category
	Status   Status
}

// ShouldRecordPrice reports whether a price observation is worth keeping:
// the store must be known and the price positive.
func ShouldRecordPrice(store string, price float64) bool {
	return scanning.NormalizeStoreHint(store) != "" && price > 0
}

// newShoppingEntry copies the item fields a shopping list row displays
func newShoppingEntry(item *Item, addedAt time.Time) *ShoppingListEntry {
	id := item.ID
	return &ShoppingListEntry{
		ItemID:      &id,
		Name:        item.Name,
		Description: item.Description,
		Category:    item.Category,
		Price:       item.Price,
		ImageURL:    item.ImageURL,
		ImageLocal:  item.ImageLocal,
		Store:       item.Store,
		AddedAt:     addedAt,
	}
}
