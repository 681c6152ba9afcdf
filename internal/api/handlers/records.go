package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/mlozhkin/docledger/internal/api/middleware"
	"github.com/mlozhkin/docledger/internal/ledger"
	"github.com/mlozhkin/docledger/internal/normalize"
	"github.com/mlozhkin/docledger/internal/record"
)

// RecordsHandler handles ledger record endpoints.
type RecordsHandler struct {
	store *ledger.Store
	log   zerolog.Logger
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(store *ledger.Store, log zerolog.Logger) *RecordsHandler {
	return &RecordsHandler{
		store: store,
		log:   log,
	}
}

// ListRecords handles GET /api/records.
// Supported query parameters: category, status, merchant, from, to.
func (h *RecordsHandler) ListRecords(w http.ResponseWriter, r *http.Request) {
	filters, err := recordFilters(r.URL.Query())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	records := []record.DocumentRecord{}
	for _, rec := range h.store.Records(filters...) {
		records = append(records, rec)
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": records,
		"count":   len(records),
	})
}

// GetRecord handles GET /api/records/{id}.
func (h *RecordsHandler) GetRecord(w http.ResponseWriter, r *http.Request, recordID string) {
	rec, ok := h.store.Get(recordID)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Record not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

// GetAudit handles GET /api/records/{id}/audit.
func (h *RecordsHandler) GetAudit(w http.ResponseWriter, r *http.Request, recordID string) {
	if _, ok := h.store.Get(recordID); !ok {
		middleware.WriteError(w, http.StatusNotFound, "Record not found")
		return
	}

	entries := h.store.Audit(recordID)
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"record_id": recordID,
		"entries":   entries,
		"count":     len(entries),
	})
}

// ListAuditLog handles GET /api/audit: the full trail in append order.
func (h *RecordsHandler) ListAuditLog(w http.ResponseWriter, r *http.Request) {
	entries := h.store.AuditLog()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

// Recategorize handles POST /api/records/{id}/recategorize.
func (h *RecordsHandler) Recategorize(w http.ResponseWriter, r *http.Request, recordID string) {
	var req struct {
		Category string `json:"category"`
		Actor    string `json:"actor"`
		Note     string `json:"note,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category, ok := record.ParseCategory(req.Category)
	if !ok {
		middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Unknown category %q", req.Category))
		return
	}

	rec, err := h.store.Recategorize(r.Context(), recordID, category, req.Actor, req.Note)
	if err != nil {
		h.writeStoreError(w, err, recordID, "recategorize")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rec)
}

type supersedeRequest struct {
	Merchant    string `json:"merchant"`
	Description string `json:"description,omitempty"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Date        string `json:"date"`
	Category    string `json:"category"`
	Actor       string `json:"actor"`
}

// Supersede handles POST /api/records/{id}/supersede. A human submits the
// corrected fields for a needs_review record; the correction is stored as a
// new fully-trusted record carrying a supersedes link back to the original.
func (h *RecordsHandler) Supersede(w http.ResponseWriter, r *http.Request, recordID string) {
	var req supersedeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rec, err := correctionRecord(recordID, req)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := h.store.Accept(r.Context(), rec, req.Actor)
	if errors.Is(err, ledger.ErrDuplicate) {
		// The same correction submitted twice resolves to the same record.
		middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
			"record":    stored,
			"duplicate": true,
		})
		return
	}
	if err != nil {
		h.writeStoreError(w, err, recordID, "supersede")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, stored)
}

// correctionRecord builds the superseding record from human-corrected fields.
// The id is a content hash over the target and the corrected fields, so
// resubmitting the identical correction is idempotent.
func correctionRecord(targetID string, req supersedeRequest) (*record.DocumentRecord, error) {
	if req.Merchant == "" {
		return nil, fmt.Errorf("merchant is required")
	}
	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	amount, err := record.MoneyFromString(req.Amount, currency)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", req.Amount)
	}
	date, err := civil.ParseDate(req.Date)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q; expected YYYY-MM-DD", req.Date)
	}
	category, ok := record.ParseCategory(req.Category)
	if !ok {
		return nil, fmt.Errorf("unknown category %q", req.Category)
	}

	text := fmt.Sprintf("correction of %s\n%s\n%s\n%s\n%s",
		targetID, req.Merchant, amount, date, category)

	return &record.DocumentRecord{
		ID:                   normalize.ContentHash(record.SourceText, text),
		Merchant:             req.Merchant,
		Description:          req.Description,
		Amount:               amount,
		Date:                 date,
		Category:             category,
		Confidence:           1.0,
		ExtractionConfidence: 1.0,
		FieldConfidence:      record.FieldConfidence{Merchant: 1.0, Amount: 1.0, Date: 1.0, Category: 1.0},
		SourceKind:           record.SourceText,
		RawExcerpt:           text,
		Status:               record.StatusPending,
		Supersedes:           targetID,
	}, nil
}

// writeStoreError maps ledger errors onto HTTP statuses.
func (h *RecordsHandler) writeStoreError(w http.ResponseWriter, err error, recordID, op string) {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		middleware.WriteError(w, http.StatusNotFound, "Record not found")
	case errors.Is(err, ledger.ErrStatusConflict):
		middleware.WriteError(w, http.StatusConflict, err.Error())
	default:
		h.log.Error().Err(err).Str("record_id", recordID).Str("op", op).Msg("Ledger operation failed")
		middleware.WriteError(w, http.StatusInternalServerError, "Ledger operation failed")
	}
}

// recordFilters translates list query parameters into ledger filters.
func recordFilters(q url.Values) ([]ledger.Filter, error) {
	var filters []ledger.Filter

	if v := q.Get("category"); v != "" {
		category, ok := record.ParseCategory(v)
		if !ok {
			return nil, fmt.Errorf("unknown category %q", v)
		}
		filters = append(filters, ledger.ByCategory(category))
	}
	if v := q.Get("status"); v != "" {
		status, err := record.ParseStatus(v)
		if err != nil {
			return nil, fmt.Errorf("unknown status %q", v)
		}
		filters = append(filters, ledger.ByStatus(status))
	}
	if v := strings.TrimSpace(q.Get("merchant")); v != "" {
		filters = append(filters, ledger.ByMerchant(v))
	}

	var from, to civil.Date
	var err error
	if v := q.Get("from"); v != "" {
		if from, err = civil.ParseDate(v); err != nil {
			return nil, fmt.Errorf("invalid from date %q; expected YYYY-MM-DD", v)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = civil.ParseDate(v); err != nil {
			return nil, fmt.Errorf("invalid to date %q; expected YYYY-MM-DD", v)
		}
	}
	if from.IsValid() || to.IsValid() {
		filters = append(filters, ledger.ByDateRange(from, to))
	}

	return filters, nil
}
