package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/kitcheniq/internal/imagery"
	"github.com/zombor/kitcheniq/internal/scanning"
	"github.com/zombor/kitcheniq/internal/storage"
)

var (
	// ErrInvalidInput is returned when a create or update request fails validation
	ErrInvalidInput = errors.New("invalid input")

	// ErrPushNotConfigured is returned when no shopping list pusher is available
	ErrPushNotConfigured = errors.New("shopping list push is not configured")
)

// IDGenerator generates unique IDs for stored uploads
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// defaultIDGenerator generates random UUIDs
type defaultIDGenerator struct{}

func (g *defaultIDGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// ShoppingListPusher sends a shopping list item name to an external list
type ShoppingListPusher interface {
	AddShoppingItem(ctx context.Context, name string) error
}

// Service handles inventory operations
type Service struct {
	db          DB
	scanner     scanning.Scanner
	images      ImageResolver
	uploads     storage.Storage
	pusher      ShoppingListPusher
	reconciler  *Reconciler
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with default ID generator and time source.
// pusher may be nil when no external shopping list is configured.
func NewService(db DB, scanner scanning.Scanner, images ImageResolver, uploads storage.Storage, pusher ShoppingListPusher) *Service {
	return NewServiceWithDeps(db, scanner, images, uploads, pusher, &defaultIDGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner scanning.Scanner, images ImageResolver, uploads storage.Storage, pusher ShoppingListPusher, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		images:      images,
		uploads:     uploads,
		pusher:      pusher,
		reconciler:  NewReconciler(db, images, timeSrc),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename cleans up a filename by removing special characters and truncating length
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, " ")
	base = strings.TrimSpace(base)

	// Truncate to reasonable length (50 chars for base, plus extension)
	maxLen := 50
	if len(base) > maxLen {
		base = base[:maxLen]
	}
	if base == "" {
		base = "receipt"
	}

	return base + ext
}

// IngestReceipt stores an uploaded receipt, extracts its line items and
// reconciles them into the inventory. Extraction failures are terminal and
// remove the stored upload; per-item failures only shrink the report.
func (s *Service) IngestReceipt(ctx context.Context, filename string, data []byte, contentType, storeHint string) (*ReconcileReport, error) {
	id := s.idGenerator.Generate()
	savedPath, err := s.uploads.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, fmt.Errorf("saving file: %w", err)
	}

	items, err := s.scanner.ScanReceipt(ctx, data, contentType, storeHint)
	if err != nil {
		slog.Error("Failed to scan receipt",
			"filename", filename,
			"content_type", contentType,
			"file_size", len(data),
			"error", err,
		)
		if errors.Is(err, scanning.ErrMalformedExtraction) {
			receiptsProcessed.WithLabelValues("extraction_failed").Inc()
		} else {
			receiptsProcessed.WithLabelValues("unavailable").Inc()
		}
		if delErr := s.uploads.Delete(filepath.Base(savedPath)); delErr != nil {
			slog.Warn("Failed to delete receipt upload", "path", savedPath, "error", delErr)
		}
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}

	report := s.reconciler.Reconcile(ctx, items, storeHint)
	receiptsProcessed.WithLabelValues("ok").Inc()
	slog.Info("Receipt reconciled", "filename", filename, "extracted", len(items), "written", report.Count(), "failed", report.Failed)
	return report, nil
}

// ResolveImage resolves a product image without touching the inventory
func (s *Service) ResolveImage(ctx context.Context, name, description, store string) imagery.Resolution {
	return s.images.Resolve(ctx, imagery.Query{Name: name, Description: description, Store: store})
}

// ListItems returns items matching filter
func (s *Service) ListItems(ctx context.Context, filter ItemFilter) ([]*Item, error) {
	items, err := s.db.ListItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	return items, nil
}

// NewItem is the input for CreateItem
type NewItem struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    scanning.Category `json:"category"`
	Price       float64           `json:"price"`
	Store       string            `json:"store"`
}

// CreateItem adds an item by hand. Its image is resolved before the write.
func (s *Service) CreateItem(ctx context.Context, in NewItem) (*Item, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	category := scanning.CategoryPantry
	if in.Category != "" {
		parsed, ok := scanning.ParseCategory(string(in.Category))
		if !ok {
			return nil, fmt.Errorf("%w: unknown category %q", ErrInvalidInput, in.Category)
		}
		category = parsed
	}
	if in.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	store := strings.TrimSpace(in.Store)

	image := s.images.Resolve(ctx, imagery.Query{Name: name, Description: in.Description, Store: store})

	item := &Item{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Category:    category,
		Price:       in.Price,
		ImageURL:    image.SourceURL,
		ImageLocal:  image.LocalPath,
		Status:      StatusHave,
		Quantity:    1,
		Store:       store,
	}
	err := s.db.Update(ctx, func(tx Tx) error {
		now := s.timeSource.Now().UTC()
		item.CreatedAt = now
		item.ModifiedAt = now
		if err := tx.InsertItem(item); err != nil {
			return err
		}
		if err := tx.AppendHistory(&HistoryEvent{ItemName: name, Kind: EventRestocked, At: now}); err != nil {
			return err
		}
		if ShouldRecordPrice(store, item.Price) {
			return tx.AppendPrice(&PriceObservation{ItemName: name, Store: store, Price: item.Price, At: now})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("creating item: %w", err)
	}
	return item, nil
}

// ItemPatch is a partial update; nil fields are left unchanged
type ItemPatch struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	Category    *scanning.Category `json:"category"`
	Price       *float64           `json:"price"`
	Status      *Status            `json:"status"`
	Quantity    *int               `json:"quantity"`
	Store       *string            `json:"store"`
}

func (p ItemPatch) validate() error {
	if p.Name != nil && strings.TrimSpace(*p.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrInvalidInput)
	}
	if p.Category != nil && !p.Category.Valid() {
		return fmt.Errorf("%w: unknown category %q", ErrInvalidInput, *p.Category)
	}
	if p.Price != nil && *p.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidInput, *p.Status)
	}
	if p.Quantity != nil && *p.Quantity < 1 {
		return fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	return nil
}

// UpdateItem applies a partial update. Moving an item to needed logs a
// needed event and puts exactly one entry for it on the shopping list;
// moving it to have removes that entry.
func (s *Service) UpdateItem(ctx context.Context, id int64, patch ItemPatch) (*Item, error) {
	if err := patch.validate(); err != nil {
		return nil, err
	}

	var updated *Item
	err := s.db.Update(ctx, func(tx Tx) error {
		item, err := tx.GetItem(id)
		if err != nil {
			return err
		}
		now := s.timeSource.Now().UTC()
		previous := item.Status

		if patch.Name != nil {
			item.Name = strings.TrimSpace(*patch.Name)
		}
		if patch.Description != nil {
			item.Description = strings.TrimSpace(*patch.Description)
		}
		if patch.Category != nil {
			item.Category = *patch.Category
			item.NeedsReview = false
		}
		if patch.Price != nil {
			item.Price = *patch.Price
		}
		if patch.Status != nil {
			item.Status = *patch.Status
		}
		if patch.Quantity != nil {
			item.Quantity = *patch.Quantity
		}
		if patch.Store != nil {
			item.Store = strings.TrimSpace(*patch.Store)
		}
		item.ModifiedAt = now

		if err := tx.UpdateItem(item); err != nil {
			return err
		}

		if (patch.Price != nil || patch.Store != nil) && ShouldRecordPrice(item.Store, item.Price) {
			if err := tx.AppendPrice(&PriceObservation{ItemName: item.Name, Store: item.Store, Price: item.Price, At: now}); err != nil {
				return err
			}
		}

		if patch.Status != nil {
			switch item.Status {
			case StatusNeeded:
				if previous != StatusNeeded {
					if err := tx.AppendHistory(&HistoryEvent{ItemName: item.Name, Kind: EventNeeded, At: now}); err != nil {
						return err
					}
				}
				if err := tx.UpsertShoppingEntry(newShoppingEntry(item, now)); err != nil {
					return err
				}
			case StatusHave:
				if err := tx.DeleteShoppingEntryByItem(item.ID); err != nil {
					return err
				}
			}
		}

		updated = item
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating item %d: %w", id, err)
	}
	return updated, nil
}

// DeleteItem removes an item and its shopping list entry
func (s *Service) DeleteItem(ctx context.Context, id int64) error {
	err := s.db.Update(ctx, func(tx Tx) error {
		if err := tx.DeleteShoppingEntryByItem(id); err != nil {
			return err
		}
		return tx.DeleteItem(id)
	})
	if err != nil {
		return fmt.Errorf("deleting item %d: %w", id, err)
	}
	return nil
}

// RefreshImage forces a new image resolution for an item
func (s *Service) RefreshImage(ctx context.Context, id int64) (*Item, error) {
	item, err := s.db.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting item %d: %w", id, err)
	}

	res, err := s.images.Refresh(ctx, itemQuery(item))
	if err != nil {
		return nil, fmt.Errorf("refreshing image: %w", err)
	}
	return s.setImage(ctx, id, res)
}

// UploadImage replaces an item's image with a caller supplied one
func (s *Service) UploadImage(ctx context.Context, id int64, data []byte) (*Item, error) {
	item, err := s.db.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting item %d: %w", id, err)
	}

	res, err := s.images.Override(ctx, itemQuery(item), data)
	if err != nil {
		if errors.Is(err, imagery.ErrUnsupportedImage) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return nil, fmt.Errorf("storing image: %w", err)
	}
	return s.setImage(ctx, id, res)
}

// setImage overwrites the image of an item and of its shopping list entry
func (s *Service) setImage(ctx context.Context, id int64, res imagery.Resolution) (*Item, error) {
	var updated *Item
	err := s.db.Update(ctx, func(tx Tx) error {
		item, err := tx.GetItem(id)
		if err != nil {
			return err
		}
		item.ImageURL = res.SourceURL
		item.ImageLocal = res.LocalPath
		item.ModifiedAt = s.timeSource.Now().UTC()
		if err := tx.UpdateItem(item); err != nil {
			return err
		}
		if err := tx.UpdateShoppingImage(id, res.SourceURL, res.LocalPath); err != nil {
			return err
		}
		updated = item
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("updating image for item %d: %w", id, err)
	}
	return updated, nil
}

func itemQuery(item *Item) imagery.Query {
	return imagery.Query{Name: item.Name, Description: item.Description, Store: item.Store}
}

// ShoppingList is the shopping list with its total price
type ShoppingList struct {
	Items []*ShoppingListEntry `json:"items"`
	Total float64              `json:"total"`
}

// ShoppingList returns every entry and the total rounded to cents
func (s *Service) ShoppingList(ctx context.Context) (*ShoppingList, error) {
	entries, err := s.db.ListShoppingList(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing shopping list: %w", err)
	}
	var total float64
	for _, e := range entries {
		total += e.Price
	}
	return &ShoppingList{Items: entries, Total: roundCents(total)}, nil
}

// NewShoppingEntry is the input for AddShoppingEntry
type NewShoppingEntry struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    scanning.Category `json:"category"`
	Price       float64           `json:"price"`
	Store       string            `json:"store"`
}

// AddShoppingEntry adds a manual entry that is not backed by an inventory item
func (s *Service) AddShoppingEntry(ctx context.Context, in NewShoppingEntry) (*ShoppingListEntry, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if in.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidInput)
	}
	category, _ := scanning.ParseCategory(string(in.Category))

	entry := &ShoppingListEntry{
		Name:        name,
		Description: strings.TrimSpace(in.Description),
		Category:    category,
		Price:       in.Price,
		Store:       strings.TrimSpace(in.Store),
		AddedAt:     s.timeSource.Now().UTC(),
	}
	if err := s.db.Update(ctx, func(tx Tx) error { return tx.InsertShoppingEntry(entry) }); err != nil {
		return nil, fmt.Errorf("adding shopping entry: %w", err)
	}
	return entry, nil
}

// PurchaseShoppingEntry removes an entry from the list. When the entry is
// backed by an item, that item goes back to have and a restocked event is logged.
func (s *Service) PurchaseShoppingEntry(ctx context.Context, id int64) error {
	err := s.db.Update(ctx, func(tx Tx) error {
		entry, err := tx.GetShoppingEntry(id)
		if err != nil {
			return err
		}

		if entry.ItemID != nil {
			item, err := tx.GetItem(*entry.ItemID)
			switch {
			case err == nil:
				now := s.timeSource.Now().UTC()
				item.Status = StatusHave
				item.ModifiedAt = now
				if err := tx.UpdateItem(item); err != nil {
					return err
				}
				if err := tx.AppendHistory(&HistoryEvent{ItemName: item.Name, Kind: EventRestocked, At: now}); err != nil {
					return err
				}
			case !errors.Is(err, ErrNotFound):
				return err
			}
		}

		return tx.DeleteShoppingEntry(id)
	})
	if err != nil {
		return fmt.Errorf("purchasing shopping entry %d: %w", id, err)
	}
	return nil
}

// Stats returns inventory counts
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	stats, err := s.db.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return stats, nil
}

// GetSuggestions predicts restock dates from the restocked history
func (s *Service) GetSuggestions(ctx context.Context) ([]Suggestion, error) {
	events, err := s.db.ListHistory(ctx, EventRestocked)
	if err != nil {
		return nil, fmt.Errorf("listing restock history: %w", err)
	}

	lookup := func(name string) *Item {
		item, err := s.db.LatestItemByName(ctx, name)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("Failed to look up item for suggestion", "item", name, "error", err)
			}
			return nil
		}
		return item
	}
	return Suggestions(s.timeSource.Now(), events, lookup), nil
}

// GetPriceHistory returns the latest price per store for a product name, cheapest first
func (s *Service) GetPriceHistory(ctx context.Context, itemName string) ([]PriceEntry, error) {
	observations, err := s.db.ListPrices(ctx, strings.TrimSpace(itemName))
	if err != nil {
		return nil, fmt.Errorf("listing prices: %w", err)
	}
	return ComparePrices(observations), nil
}

// PriceHistoryForItem returns GetPriceHistory for the name of item id
func (s *Service) PriceHistoryForItem(ctx context.Context, id int64) ([]PriceEntry, error) {
	item, err := s.db.GetItem(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("getting item %d: %w", id, err)
	}
	return s.GetPriceHistory(ctx, item.Name)
}

// PushResult counts the outcome of a shopping list push
type PushResult struct {
	Pushed int `json:"pushed"`
	Errors int `json:"errors"`
}

// PushShoppingList sends every shopping list name to the configured pusher.
// Individual failures are counted, not returned.
func (s *Service) PushShoppingList(ctx context.Context) (*PushResult, error) {
	if s.pusher == nil {
		return nil, ErrPushNotConfigured
	}

	entries, err := s.db.ListShoppingList(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing shopping list: %w", err)
	}

	result := &PushResult{}
	for _, e := range entries {
		if err := s.pusher.AddShoppingItem(ctx, e.Name); err != nil {
			slog.Warn("Failed to push shopping list item", "item", e.Name, "error", err)
			result.Errors++
			continue
		}
		result.Pushed++
	}
	return result, nil
}
