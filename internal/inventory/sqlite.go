package inventory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"github.com/zombor/kitcheniq/internal/scanning"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS items (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    category      TEXT NOT NULL DEFAULT 'Pantry',
    price         REAL NOT NULL DEFAULT 0,
    image_url     TEXT NOT NULL DEFAULT '',
    image_local   TEXT NOT NULL DEFAULT '',
    status        TEXT NOT NULL DEFAULT 'have' CHECK (status IN ('have', 'needed')),
    quantity      INTEGER NOT NULL DEFAULT 1 CHECK (quantity > 0),
    store         TEXT NOT NULL DEFAULT '',
    needs_review  INTEGER NOT NULL DEFAULT 0,
    date_added    TEXT NOT NULL,
    date_modified TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_items_name ON items(name COLLATE NOCASE);

CREATE TABLE IF NOT EXISTS shopping_list (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    item_id     INTEGER REFERENCES items(id) ON DELETE SET NULL,
    name        TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    category    TEXT NOT NULL DEFAULT 'Other',
    price       REAL NOT NULL DEFAULT 0,
    image_url   TEXT NOT NULL DEFAULT '',
    image_local TEXT NOT NULL DEFAULT '',
    store       TEXT NOT NULL DEFAULT '',
    added_date  TEXT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_shopping_list_item ON shopping_list(item_id);

CREATE TABLE IF NOT EXISTS image_cache (
    query_hash  TEXT PRIMARY KEY,
    query       TEXT NOT NULL,
    local_path  TEXT,
    source_url  TEXT,
    date_cached TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS item_history (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    item_name  TEXT NOT NULL,
    event_type TEXT NOT NULL CHECK (event_type IN ('restocked', 'needed')),
    event_date TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_item_history_type ON item_history(event_type, item_name);

CREATE TABLE IF NOT EXISTS price_history (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    item_name     TEXT NOT NULL,
    store         TEXT NOT NULL,
    price         REAL NOT NULL CHECK (price > 0),
    date_recorded TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_price_history_item ON price_history(item_name COLLATE NOCASE);
`

const itemColumns = `id, name, description, category, price, image_url, image_local, status, quantity, store, needs_review, date_added, date_modified`

const shoppingColumns = `id, item_id, name, description, category, price, image_url, image_local, store, added_date`

// SQLiteDB implements the DB interface using SQLite. It also implements
// imagery.Cache on the image_cache table.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) the database at path and ensures the schema
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	// Pragmas go in the DSN so every pooled connection gets them.
	params := url.Values{}
	params.Add("_pragma", "busy_timeout(5000)")
	params.Add("_pragma", "journal_mode(WAL)")
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", "synchronous(NORMAL)")

	db, err := sql.Open("sqlite", path+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &SQLiteDB{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Update runs fn in a transaction, committing only if fn succeeds
func (s *SQLiteDB) Update(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListItems returns items matching filter
func (s *SQLiteDB) ListItems(ctx context.Context, filter ItemFilter) ([]*Item, error) {
	query := `SELECT ` + itemColumns + ` FROM items WHERE 1=1`
	var args []any
	if filter.Category != "" {
		query += ` AND category = ?`
		args = append(args, string(filter.Category))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY category, name COLLATE NOCASE, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing items: %w", err)
	}
	defer rows.Close()

	items := make([]*Item, 0)
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetItem retrieves an item by ID
func (s *SQLiteDB) GetItem(ctx context.Context, id int64) (*Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if err != nil {
		return nil, noRows(err)
	}
	return item, nil
}

// LatestItemByName returns the most recently modified item with a matching name
func (s *SQLiteDB) LatestItemByName(ctx context.Context, name string) (*Item, error) {
	item, err := scanItem(s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE name = ? COLLATE NOCASE ORDER BY date_modified DESC, id DESC LIMIT 1`,
		strings.TrimSpace(name)))
	if err != nil {
		return nil, noRows(err)
	}
	return item, nil
}

// ListShoppingList returns every shopping list entry
func (s *SQLiteDB) ListShoppingList(ctx context.Context) ([]*ShoppingListEntry, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+shoppingColumns+` FROM shopping_list ORDER BY category, name COLLATE NOCASE, id`)
	if err != nil {
		return nil, fmt.Errorf("listing shopping list: %w", err)
	}
	defer rows.Close()

	entries := make([]*ShoppingListEntry, 0)
	for rows.Next() {
		entry, err := scanShoppingEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// ListHistory returns events of one kind
func (s *SQLiteDB) ListHistory(ctx context.Context, kind EventKind) ([]*HistoryEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_name, event_type, event_date FROM item_history WHERE event_type = ? ORDER BY item_name, event_date, id`,
		string(kind))
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	events := make([]*HistoryEvent, 0)
	for rows.Next() {
		var (
			ev   HistoryEvent
			kind string
			at   string
		)
		if err := rows.Scan(&ev.ID, &ev.ItemName, &kind, &at); err != nil {
			return nil, fmt.Errorf("scanning history event: %w", err)
		}
		ev.Kind = EventKind(kind)
		if ev.At, err = parseTime(at); err != nil {
			return nil, err
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

// ListPrices returns every observation for itemName
func (s *SQLiteDB) ListPrices(ctx context.Context, itemName string) ([]*PriceObservation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, item_name, store, price, date_recorded FROM price_history WHERE item_name = ? COLLATE NOCASE ORDER BY date_recorded, id`,
		itemName)
	if err != nil {
		return nil, fmt.Errorf("listing prices: %w", err)
	}
	defer rows.Close()

	observations := make([]*PriceObservation, 0)
	for rows.Next() {
		var (
			obs PriceObservation
			at  string
		)
		if err := rows.Scan(&obs.ID, &obs.ItemName, &obs.Store, &obs.Price, &at); err != nil {
			return nil, fmt.Errorf("scanning price observation: %w", err)
		}
		if obs.At, err = parseTime(at); err != nil {
			return nil, err
		}
		observations = append(observations, &obs)
	}
	return observations, rows.Err()
}

// Stats returns item counts and the shopping list total rounded to cents
func (s *SQLiteDB) Stats(ctx context.Context) (*Stats, error) {
	var (
		stats Stats
		total float64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT
		    (SELECT COUNT(*) FROM items),
		    (SELECT COUNT(*) FROM items WHERE status = 'have'),
		    (SELECT COUNT(*) FROM items WHERE status = 'needed'),
		    (SELECT COALESCE(SUM(price), 0) FROM shopping_list)`,
	).Scan(&stats.Total, &stats.Have, &stats.Needed, &total)
	if err != nil {
		return nil, fmt.Errorf("reading stats: %w", err)
	}
	stats.ShoppingTotal = roundCents(total)
	return &stats, nil
}

// sqliteTx implements Tx on an open transaction
type sqliteTx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *sqliteTx) FindItemByName(name string) (*Item, error) {
	item, err := scanItem(t.tx.QueryRowContext(t.ctx,
		`SELECT `+itemColumns+` FROM items WHERE name = ? COLLATE NOCASE ORDER BY id LIMIT 1`,
		strings.TrimSpace(name)))
	if err != nil {
		return nil, noRows(err)
	}
	return item, nil
}

func (t *sqliteTx) GetItem(id int64) (*Item, error) {
	item, err := scanItem(t.tx.QueryRowContext(t.ctx, `SELECT `+itemColumns+` FROM items WHERE id = ?`, id))
	if err != nil {
		return nil, noRows(err)
	}
	return item, nil
}

func (t *sqliteTx) InsertItem(item *Item) error {
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO items (name, description, category, price, image_url, image_local, status, quantity, store, needs_review, date_added, date_modified)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.Name, item.Description, string(item.Category), item.Price, item.ImageURL, item.ImageLocal,
		string(item.Status), item.Quantity, item.Store, item.NeedsReview,
		formatTime(item.CreatedAt), formatTime(item.ModifiedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting item: %w", err)
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading item id: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateItem(item *Item) error {
	res, err := t.tx.ExecContext(t.ctx, `
		UPDATE items SET name = ?, description = ?, category = ?, price = ?, image_url = ?, image_local = ?,
		    status = ?, quantity = ?, store = ?, needs_review = ?, date_modified = ?
		WHERE id = ?`,
		item.Name, item.Description, string(item.Category), item.Price, item.ImageURL, item.ImageLocal,
		string(item.Status), item.Quantity, item.Store, item.NeedsReview, formatTime(item.ModifiedAt),
		item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating item %d: %w", item.ID, err)
	}
	return requireRow(res, item.ID)
}

func (t *sqliteTx) DeleteItem(id int64) error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting item %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (t *sqliteTx) UpsertShoppingEntry(entry *ShoppingListEntry) error {
	if entry.ItemID == nil {
		return fmt.Errorf("upserting shopping entry: item id is required")
	}
	_, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO shopping_list (item_id, name, description, category, price, image_url, image_local, store, added_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
		    name = excluded.name,
		    description = excluded.description,
		    category = excluded.category,
		    price = excluded.price,
		    store = excluded.store`,
		*entry.ItemID, entry.Name, entry.Description, string(entry.Category), entry.Price,
		entry.ImageURL, entry.ImageLocal, entry.Store, formatTime(entry.AddedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting shopping entry for item %d: %w", *entry.ItemID, err)
	}

	return t.tx.QueryRowContext(t.ctx, `SELECT id FROM shopping_list WHERE item_id = ?`, *entry.ItemID).Scan(&entry.ID)
}

func (t *sqliteTx) InsertShoppingEntry(entry *ShoppingListEntry) error {
	var itemID sql.NullInt64
	if entry.ItemID != nil {
		itemID = sql.NullInt64{Int64: *entry.ItemID, Valid: true}
	}
	res, err := t.tx.ExecContext(t.ctx, `
		INSERT INTO shopping_list (item_id, name, description, category, price, image_url, image_local, store, added_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		itemID, entry.Name, entry.Description, string(entry.Category), entry.Price,
		entry.ImageURL, entry.ImageLocal, entry.Store, formatTime(entry.AddedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting shopping entry: %w", err)
	}
	entry.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading shopping entry id: %w", err)
	}
	return nil
}

func (t *sqliteTx) GetShoppingEntry(id int64) (*ShoppingListEntry, error) {
	entry, err := scanShoppingEntry(t.tx.QueryRowContext(t.ctx, `SELECT `+shoppingColumns+` FROM shopping_list WHERE id = ?`, id))
	if err != nil {
		return nil, noRows(err)
	}
	return entry, nil
}

func (t *sqliteTx) UpdateShoppingImage(itemID int64, imageURL, imageLocal string) error {
	_, err := t.tx.ExecContext(t.ctx,
		`UPDATE shopping_list SET image_url = ?, image_local = ? WHERE item_id = ?`,
		imageURL, imageLocal, itemID)
	if err != nil {
		return fmt.Errorf("updating shopping image for item %d: %w", itemID, err)
	}
	return nil
}

func (t *sqliteTx) DeleteShoppingEntry(id int64) error {
	res, err := t.tx.ExecContext(t.ctx, `DELETE FROM shopping_list WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting shopping entry %d: %w", id, err)
	}
	return requireRow(res, id)
}

func (t *sqliteTx) DeleteShoppingEntryByItem(itemID int64) error {
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM shopping_list WHERE item_id = ?`, itemID); err != nil {
		return fmt.Errorf("deleting shopping entry for item %d: %w", itemID, err)
	}
	return nil
}

func (t *sqliteTx) AppendHistory(event *HistoryEvent) error {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO item_history (item_name, event_type, event_date) VALUES (?, ?, ?)`,
		event.ItemName, string(event.Kind), formatTime(event.At))
	if err != nil {
		return fmt.Errorf("appending history: %w", err)
	}
	event.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading history id: %w", err)
	}
	return nil
}

func (t *sqliteTx) AppendPrice(obs *PriceObservation) error {
	res, err := t.tx.ExecContext(t.ctx,
		`INSERT INTO price_history (item_name, store, price, date_recorded) VALUES (?, ?, ?, ?)`,
		obs.ItemName, obs.Store, obs.Price, formatTime(obs.At))
	if err != nil {
		return fmt.Errorf("appending price: %w", err)
	}
	obs.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading price id: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var (
		item             Item
		category, status string
		added, modified  string
	)
	err := row.Scan(&item.ID, &item.Name, &item.Description, &category, &item.Price, &item.ImageURL,
		&item.ImageLocal, &status, &item.Quantity, &item.Store, &item.NeedsReview, &added, &modified)
	if err != nil {
		return nil, err
	}
	item.Category = scanning.Category(category)
	item.Status = Status(status)
	if item.CreatedAt, err = parseTime(added); err != nil {
		return nil, err
	}
	if item.ModifiedAt, err = parseTime(modified); err != nil {
		return nil, err
	}
	return &item, nil
}

func scanShoppingEntry(row scanner) (*ShoppingListEntry, error) {
	var (
		entry    ShoppingListEntry
		itemID   sql.NullInt64
		category string
		added    string
	)
	err := row.Scan(&entry.ID, &itemID, &entry.Name, &entry.Description, &category, &entry.Price,
		&entry.ImageURL, &entry.ImageLocal, &entry.Store, &added)
	if err != nil {
		return nil, err
	}
	if itemID.Valid {
		id := itemID.Int64
		entry.ItemID = &id
	}
	entry.Category = scanning.Category(category)
	if entry.AddedAt, err = parseTime(added); err != nil {
		return nil, err
	}
	return &entry, nil
}

// noRows maps sql.ErrNoRows to ErrNotFound
func noRows(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("scanning row: %w", err)
}

func requireRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("reading rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("id %d: %w", id, ErrNotFound)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func roundCents(v float64) float64 {
	return math.Round(v*100) / 100
}
