package inventory

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/zombor/kitcheniq/internal/imagery"
	"github.com/zombor/kitcheniq/internal/scanning"
	"github.com/zombor/kitcheniq/internal/storage"
)

// maxFormSize caps multipart uploads (high-resolution phone photos included)
const maxFormSize = int64(50 << 20)

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// writeJSON encodes v with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeJSONError writes {"error": message}
func writeJSONError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors onto status codes
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "Not found")
	case errors.Is(err, ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("Request failed", "error", err)
		writeJSONError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// pathID parses the {id} path value
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// handleListItems returns items, optionally filtered by category and status
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	filter := ItemFilter{
		Category: scanning.Category(r.URL.Query().Get("category")),
		Status:   Status(r.URL.Query().Get("status")),
	}
	items, err := s.service.ListItems(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

// handleCreateItem adds an item by hand
func (s *Server) handleCreateItem(w http.ResponseWriter, r *http.Request) {
	var req NewItem
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := s.service.CreateItem(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"success": true, "id": item.ID, "item": item})
}

// handleUpdateItem applies a partial update
func (s *Server) handleUpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	var patch ItemPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	item, err := s.service.UpdateItem(r.Context(), id, patch)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "item": item})
}

// handleDeleteItem deletes an item
func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.DeleteItem(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleRefreshImage re-resolves the image of an item
func (s *Server) handleRefreshImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	item, err := s.service.RefreshImage(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"image_url":   item.ImageURL,
		"image_local": item.ImageLocal,
	})
}

// handleUploadImage replaces the image of an item with the uploaded file
func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}

	data, _, ok := readUpload(w, r, nil)
	if !ok {
		return
	}

	item, err := s.service.UploadImage(r.Context(), id, data)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "image_local": item.ImageLocal})
}

// handleItemPriceHistory compares prices for the item's name across stores
func (s *Server) handleItemPriceHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		corsError(w, "Item ID required", http.StatusBadRequest)
		return
	}
	prices, err := s.service.PriceHistoryForItem(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// handlePriceHistory compares prices for ?name= across stores
func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	prices, err := s.service.GetPriceHistory(r.Context(), name)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prices)
}

// handleShoppingList returns the shopping list and its total
func (s *Server) handleShoppingList(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ShoppingList(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// handleAddShoppingEntry adds a manual shopping list entry
func (s *Server) handleAddShoppingEntry(w http.ResponseWriter, r *http.Request) {
	var req NewShoppingEntry
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	entry, err := s.service.AddShoppingEntry(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

// handlePurchaseShoppingEntry marks an entry as bought and removes it
func (s *Server) handlePurchaseShoppingEntry(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		corsError(w, "Shopping list entry ID required", http.StatusBadRequest)
		return
	}
	if err := s.service.PurchaseShoppingEntry(r.Context(), id); err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePushShoppingList sends the shopping list to Home Assistant
func (s *Server) handlePushShoppingList(w http.ResponseWriter, r *http.Request) {
	result, err := s.service.PushShoppingList(r.Context())
	if errors.Is(err, ErrPushNotConfigured) {
		writeJSONError(w, http.StatusBadRequest, "Home Assistant is not configured (no supervisor token)")
		return
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"pushed":  result.Pushed,
		"errors":  result.Errors,
	})
}

// handleStats returns inventory counts
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.service.Stats(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSuggestions returns restock predictions
func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	suggestions, err := s.service.GetSuggestions(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

// handleResolveImage resolves an image for ?name=&description=&store=
func (s *Server) handleResolveImage(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	name := strings.TrimSpace(q.Get("name"))
	if name == "" {
		writeJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	res := s.service.ResolveImage(r.Context(), name, q.Get("description"), q.Get("store"))

	attempts := make([]map[string]string, 0, len(res.Attempts))
	for _, a := range res.Attempts {
		attempts = append(attempts, map[string]string{"provider": a.Provider, "outcome": a.Outcome.String()})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"image_local": res.LocalPath,
		"image_url":   res.SourceURL,
		"cache_hit":   res.CacheHit,
		"attempts":    attempts,
	})
}

// handleUploadReceipt extracts a receipt and reconciles its items into the inventory
func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	data, header, ok := readUpload(w, r, map[string]any{"count": 0})
	if !ok {
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = contentTypeFromExt(header.Filename)
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	report, err := s.service.IngestReceipt(r.Context(), header.Filename, data, contentType, r.FormValue("store"))
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		code := http.StatusInternalServerError
		switch {
		case errors.Is(err, scanning.ErrProviderUnavailable):
			code = http.StatusBadGateway
		case errors.Is(err, scanning.ErrMalformedExtraction):
			code = http.StatusUnprocessableEntity
		}
		writeJSON(w, code, map[string]any{"error": err.Error(), "count": 0})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"items":   report.Items,
		"count":   report.Count(),
	})
}

// uploadHeader is the part of a multipart file header handlers need
type uploadHeader struct {
	Filename string
	Header   http.Header
}

// readUpload reads the "file" part of a multipart form. On failure it writes
// a JSON error merged with extra and returns false.
func readUpload(w http.ResponseWriter, r *http.Request, extra map[string]any) ([]byte, *uploadHeader, bool) {
	fail := func(code int, message string) {
		body := map[string]any{"error": message}
		for k, v := range extra {
			body[k] = v
		}
		writeJSON(w, code, body)
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			fail(http.StatusRequestEntityTooLarge, "File is too large. Maximum size is 50MB.")
			return nil, nil, false
		}
		fail(http.StatusBadRequest, "Error parsing form")
		return nil, nil, false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		fail(http.StatusBadRequest, "No file provided")
		return nil, nil, false
	}
	defer f.Close()

	if header.Filename == "" {
		fail(http.StatusBadRequest, "No filename")
		return nil, nil, false
	}

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		fail(http.StatusInternalServerError, "Error reading file. Please try again.")
		return nil, nil, false
	}

	return data, &uploadHeader{Filename: header.Filename, Header: http.Header(header.Header)}, true
}

// contentTypeFromExt guesses a receipt content type from its file extension
func contentTypeFromExt(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// serveFile serves {filename} from files
func (s *Server) serveFile(files storage.Storage) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("filename")
		data, err := files.Get(name)
		if err != nil {
			if !errors.Is(err, storage.ErrInvalidName) && !errors.Is(err, fs.ErrNotExist) {
				slog.Error("Error reading stored file", "filename", name, "error", err)
			}
			corsError(w, "File not found", http.StatusNotFound)
			return
		}
		setCORSHeaders(w)
		http.ServeContent(w, r, name, time.Time{}, bytes.NewReader(data))
	}
}

var _ ImageResolver = (*imagery.Resolver)(nil)
