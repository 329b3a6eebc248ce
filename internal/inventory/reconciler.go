package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/zombor/kitcheniq/internal/imagery"
	"github.com/zombor/kitcheniq/internal/scanning"
)

// ImageResolver resolves product images. *imagery.Resolver implements it.
type ImageResolver interface {
	Resolve(ctx context.Context, q imagery.Query) imagery.Resolution
	Refresh(ctx context.Context, q imagery.Query) (imagery.Resolution, error)
	Override(ctx context.Context, q imagery.Query, data []byte) (imagery.Resolution, error)
}

// Action says what reconciliation did with one line item
type Action string

const (
	ActionAdded   Action = "added"
	ActionUpdated Action = "updated"
)

// ReconciledItem is one line of a reconciliation report
type ReconciledItem struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Action Action `json:"action"`
}

// ReconcileReport lists the line items that were written. Items that failed are
// logged and counted but not listed.
type ReconcileReport struct {
	Items  []ReconciledItem `json:"items"`
	Failed int              `json:"failed"`
}

// Count is the number of line items written
func (r *ReconcileReport) Count() int {
	return len(r.Items)
}

// Plan is the output of the image phase: the line items of one receipt and
// the image resolved for each distinct name. Building it writes nothing to
// the inventory tables.
type Plan struct {
	Items     []scanning.LineItem
	StoreHint string
	images    map[string]imagery.Resolution
}

// Image returns the resolution prepared for a line item name
func (p *Plan) Image(name string) imagery.Resolution {
	return p.images[nameKey(name)]
}

// Reconciler merges extracted line items into the inventory in two phases.
// Prepare resolves every image first, since the resolver writes to its own
// cache and must not run while an inventory write transaction is open.
// Commit then writes each line item in its own transaction.
type Reconciler struct {
	db         DB
	images     ImageResolver
	timeSource TimeSource
}

// NewReconciler creates a Reconciler
func NewReconciler(db DB, images ImageResolver, timeSource TimeSource) *Reconciler {
	if timeSource == nil {
		timeSource = &defaultTimeSource{}
	}
	return &Reconciler{db: db, images: images, timeSource: timeSource}
}

// Reconcile runs Prepare then Commit
func (r *Reconciler) Reconcile(ctx context.Context, items []scanning.LineItem, storeHint string) *ReconcileReport {
	return r.Commit(ctx, r.Prepare(ctx, items, storeHint))
}

// Prepare resolves an image once per distinct item name, compared case-insensitively
func (r *Reconciler) Prepare(ctx context.Context, items []scanning.LineItem, storeHint string) *Plan {
	plan := &Plan{
		Items:     items,
		StoreHint: scanning.NormalizeStoreHint(storeHint),
		images:    make(map[string]imagery.Resolution, len(items)),
	}
	for _, item := range items {
		key := nameKey(item.Name)
		if key == "" {
			continue
		}
		if _, done := plan.images[key]; done {
			continue
		}
		plan.images[key] = r.images.Resolve(ctx, imagery.Query{
			Name:        strings.TrimSpace(item.Name),
			Description: item.Description,
			Store:       storeFor(item, plan.StoreHint),
		})
	}
	return plan
}

// Commit writes every line item of plan. A failing item is logged and
// skipped; items already written stay written.
func (r *Reconciler) Commit(ctx context.Context, plan *Plan) *ReconcileReport {
	report := &ReconcileReport{Items: make([]ReconciledItem, 0, len(plan.Items))}
	for _, item := range plan.Items {
		reconciled, err := r.commitItem(ctx, item, plan)
		if err != nil {
			slog.Error("Failed to reconcile line item", "item", item.Name, "store", item.Store, "error", err)
			reconciledItems.WithLabelValues("failed").Inc()
			report.Failed++
			continue
		}
		reconciledItems.WithLabelValues(string(reconciled.Action)).Inc()
		report.Items = append(report.Items, reconciled)
	}
	return report
}

func (r *Reconciler) commitItem(ctx context.Context, item scanning.LineItem, plan *Plan) (ReconciledItem, error) {
	name := strings.TrimSpace(item.Name)
	if name == "" {
		return ReconciledItem{}, fmt.Errorf("line item has no name")
	}
	image := plan.Image(name)
	store := storeFor(item, plan.StoreHint)

	var reconciled ReconciledItem
	err := r.db.Update(ctx, func(tx Tx) error {
		now := r.timeSource.Now().UTC()

		existing, err := tx.FindItemByName(name)
		switch {
		case err == nil:
			existing.Quantity++
			existing.Status = StatusHave
			existing.ModifiedAt = now
			// an item that has any image keeps both fields as they are
			if existing.ImageURL == "" && existing.ImageLocal == "" {
				existing.ImageURL = image.SourceURL
				existing.ImageLocal = image.LocalPath
			}
			if err := tx.UpdateItem(existing); err != nil {
				return err
			}
			if err := tx.DeleteShoppingEntryByItem(existing.ID); err != nil {
				return err
			}
			reconciled = ReconciledItem{ID: existing.ID, Name: name, Action: ActionUpdated}
			// history stays keyed by the stored spelling of the name
			name = existing.Name

		case errors.Is(err, ErrNotFound):
			category := item.Category
			if !category.Valid() {
				category = scanning.CategoryOther
			}
			created := &Item{
				Name:        name,
				Description: item.Description,
				Category:    category,
				Price:       item.Price,
				ImageURL:    image.SourceURL,
				ImageLocal:  image.LocalPath,
				Status:      StatusHave,
				Quantity:    1,
				Store:       store,
				NeedsReview: item.NeedsReview,
				CreatedAt:   now,
				ModifiedAt:  now,
			}
			if err := tx.InsertItem(created); err != nil {
				return err
			}
			reconciled = ReconciledItem{ID: created.ID, Name: name, Action: ActionAdded}

		default:
			return fmt.Errorf("finding item: %w", err)
		}

		if err := tx.AppendHistory(&HistoryEvent{ItemName: name, Kind: EventRestocked, At: now}); err != nil {
			return err
		}
		if ShouldRecordPrice(store, item.Price) {
			if err := tx.AppendPrice(&PriceObservation{ItemName: name, Store: store, Price: item.Price, At: now}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return ReconciledItem{}, err
	}
	return reconciled, nil
}

// storeFor prefers the line item's own store and falls back to the receipt hint
func storeFor(item scanning.LineItem, storeHint string) string {
	store := strings.TrimSpace(item.Store)
	if scanning.NormalizeStoreHint(store) == "" && storeHint != "" {
		return storeHint
	}
	return store
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
