package handlers

import (
	"bytes"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/mlozhkin/docledger/internal/api/middleware"
	"github.com/mlozhkin/docledger/internal/ledger"
	"github.com/mlozhkin/docledger/internal/record"
	"github.com/mlozhkin/docledger/internal/tax"
)

// ReportsHandler handles spending summaries and ledger exports.
type ReportsHandler struct {
	store *ledger.Store
	log   zerolog.Logger
}

// NewReportsHandler creates a new reports handler.
func NewReportsHandler(store *ledger.Store, log zerolog.Logger) *ReportsHandler {
	return &ReportsHandler{
		store: store,
		log:   log,
	}
}

// GetSpending handles GET /api/reports/spending.
// The range comes from either period (a quarter) or from/to dates;
// min_confidence tunes the questionable-record floor.
func (h *ReportsHandler) GetSpending(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var from, to civil.Date
	if p := query.Get("period"); p != "" {
		period, err := tax.ParseQuarter(p)
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Invalid period; expected e.g. 2024-Q1")
			return
		}
		from, to = period.Range()
	} else {
		var err error
		if v := query.Get("from"); v != "" {
			if from, err = civil.ParseDate(v); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "Invalid from date; expected YYYY-MM-DD")
				return
			}
		}
		if v := query.Get("to"); v != "" {
			if to, err = civil.ParseDate(v); err != nil {
				middleware.WriteError(w, http.StatusBadRequest, "Invalid to date; expected YYYY-MM-DD")
				return
			}
		}
	}

	minConfidence := 0.0
	if v := query.Get("min_confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			middleware.WriteError(w, http.StatusBadRequest, "min_confidence must be a number in [0,1]")
			return
		}
		minConfidence = f
	}

	summary, err := h.store.Summary(from, to, minConfidence)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to compute spending summary")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute spending summary")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, summary)
}

// ExportRecords handles GET /api/export.
// format selects csv (default) or xlsx; the list filters of GET /api/records
// apply unchanged.
func (h *ReportsHandler) ExportRecords(w http.ResponseWriter, r *http.Request) {
	filters, err := recordFilters(r.URL.Query())
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = "csv"
	}

	// Buffer the export so a mid-write failure can still produce an error
	// response instead of a truncated download.
	var buf bytes.Buffer
	var contentType, filename string
	switch format {
	case "csv":
		err = h.store.WriteCSV(&buf, filters...)
		contentType = "text/csv; charset=utf-8"
		filename = "records.csv"
	case "xlsx":
		err = h.store.WriteXLSX(&buf, filters...)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
		filename = "records.xlsx"
	default:
		middleware.WriteError(w, http.StatusBadRequest, "Unknown format; expected csv or xlsx")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("format", format).Msg("Failed to export records")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to export records")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+filename)
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// CategoriesHandler serves the fixed category taxonomy.
type CategoriesHandler struct {
	log zerolog.Logger
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(log zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{log: log}
}

// ListCategories handles GET /api/categories.
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories := record.Taxonomy()
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"categories": categories,
		"count":      len(categories),
	})
}
