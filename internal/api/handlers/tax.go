package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/mlozhkin/docledger/internal/api/middleware"
	"github.com/mlozhkin/docledger/internal/record"
	"github.com/mlozhkin/docledger/internal/tax"
)

// TaxHandler handles tax estimation endpoints.
type TaxHandler struct {
	estimator *tax.Estimator
	currency  string
	log       zerolog.Logger
}

// NewTaxHandler creates a new tax handler. currency is the default currency
// for income figures when the request does not name one.
func NewTaxHandler(estimator *tax.Estimator, currency string, log zerolog.Logger) *TaxHandler {
	return &TaxHandler{
		estimator: estimator,
		currency:  currency,
		log:       log,
	}
}

// GetEstimate handles GET /api/tax/estimate.
// Query parameters: period (e.g. 2024-Q1), gross_income, withheld, currency.
func (h *TaxHandler) GetEstimate(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	period, err := tax.ParseQuarter(query.Get("period"))
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid period; expected e.g. 2024-Q1")
		return
	}

	currency := query.Get("currency")
	if currency == "" {
		currency = h.currency
	}

	grossStr := query.Get("gross_income")
	if grossStr == "" {
		middleware.WriteError(w, http.StatusBadRequest, "gross_income is required")
		return
	}
	gross, err := record.MoneyFromString(grossStr, currency)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid gross_income")
		return
	}

	withheldStr := query.Get("withheld")
	if withheldStr == "" {
		withheldStr = "0"
	}
	withheld, err := record.MoneyFromString(withheldStr, currency)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid withheld")
		return
	}

	estimate, err := h.estimator.Estimate(r.Context(), period, gross, withheld)
	if err != nil {
		h.log.Error().Err(err).Str("period", period.String()).Msg("Failed to compute tax estimate")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to compute tax estimate")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, estimate)
}
