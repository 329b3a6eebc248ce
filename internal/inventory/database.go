package inventory

import (
	"context"
)

// DB defines the interface for the inventory record store
type DB interface {
	// Update runs fn inside one write transaction. A non-nil error from fn
	// rolls back every write fn made.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// ListItems returns items ordered by category then name
	ListItems(ctx context.Context, filter ItemFilter) ([]*Item, error)

	// GetItem retrieves an item by ID
	GetItem(ctx context.Context, id int64) (*Item, error)

	// LatestItemByName returns the most recently modified item whose name
	// matches case-insensitively
	LatestItemByName(ctx context.Context, name string) (*Item, error)

	// ListShoppingList returns shopping list entries ordered by category then name
	ListShoppingList(ctx context.Context) ([]*ShoppingListEntry, error)

	// ListHistory returns all events of one kind ordered by item name then time
	ListHistory(ctx context.Context, kind EventKind) ([]*HistoryEvent, error)

	// ListPrices returns every observation for an item name, compared case-insensitively
	ListPrices(ctx context.Context, itemName string) ([]*PriceObservation, error)

	// Stats returns inventory counts and the shopping list total
	Stats(ctx context.Context) (*Stats, error)

	// Close closes the database connection
	Close() error
}

// Tx is the set of writes available inside DB.Update
type Tx interface {
	// FindItemByName returns the oldest item whose name matches case-insensitively
	FindItemByName(name string) (*Item, error)

	// GetItem retrieves an item by ID
	GetItem(id int64) (*Item, error)

	// InsertItem stores a new item and sets its ID
	InsertItem(item *Item) error

	// UpdateItem overwrites every mutable field of an existing item
	UpdateItem(item *Item) error

	// DeleteItem removes an item
	DeleteItem(id int64) error

	// UpsertShoppingEntry inserts the entry for entry.ItemID or refreshes the
	// copied fields of the existing one. At most one entry exists per item.
	UpsertShoppingEntry(entry *ShoppingListEntry) error

	// InsertShoppingEntry stores a manual entry and sets its ID
	InsertShoppingEntry(entry *ShoppingListEntry) error

	// GetShoppingEntry retrieves a shopping list entry by ID
	GetShoppingEntry(id int64) (*ShoppingListEntry, error)

	// UpdateShoppingImage overwrites the image of the entry for itemID, if any
	UpdateShoppingImage(itemID int64, imageURL, imageLocal string) error

	// DeleteShoppingEntry removes a shopping list entry by ID
	DeleteShoppingEntry(id int64) error

	// DeleteShoppingEntryByItem removes the entry referencing itemID, if any
	DeleteShoppingEntryByItem(itemID int64) error

	// AppendHistory records a history event
	AppendHistory(event *HistoryEvent) error

	// AppendPrice records a price observation
	AppendPrice(obs *PriceObservation) error
}
