package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/mlozhkin/docledger/internal/api/middleware"
)

// Router wires every API route onto a fresh mux. Method checks and path
// parameter extraction happen here so the handlers stay plain functions.
func Router(batches *BatchesHandler, records *RecordsHandler, taxes *TaxHandler, reports *ReportsHandler, categories *CategoriesHandler, jobsHandler *JobsHandler) *http.ServeMux {
	mux := http.NewServeMux()

	// Batch endpoints
	mux.HandleFunc("/api/batches", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			batches.SubmitBatch(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/batches/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		batchID := strings.TrimPrefix(r.URL.Path, "/api/batches/")
		if batchID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Batch ID is required")
			return
		}
		batches.GetBatch(w, r, batchID)
	})

	// Record endpoints
	mux.HandleFunc("/api/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			records.ListRecords(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/records/", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/records/")
		parts := strings.SplitN(rest, "/", 2)
		recordID := parts[0]
		if recordID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Record ID is required")
			return
		}

		if len(parts) == 1 {
			if r.Method == http.MethodGet {
				records.GetRecord(w, r, recordID)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
			return
		}

		switch parts[1] {
		case "audit":
			if r.Method == http.MethodGet {
				records.GetAudit(w, r, recordID)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		case "recategorize":
			if r.Method == http.MethodPost {
				records.Recategorize(w, r, recordID)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		case "supersede":
			if r.Method == http.MethodPost {
				records.Supersede(w, r, recordID)
			} else {
				middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
		default:
			middleware.WriteError(w, http.StatusNotFound, "Not found")
		}
	})

	mux.HandleFunc("/api/audit", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			records.ListAuditLog(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Tax endpoints
	mux.HandleFunc("/api/tax/estimate", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			taxes.GetEstimate(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Report endpoints
	mux.HandleFunc("/api/reports/spending", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reports.GetSpending(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/export", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			reports.ExportRecords(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Categories endpoints
	mux.HandleFunc("/api/categories", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			categories.ListCategories(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	// Jobs endpoints
	mux.HandleFunc("/api/jobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			jobsHandler.ListJobs(w, r)
		} else {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	})

	mux.HandleFunc("/api/jobs/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			middleware.WriteError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}
		jobID := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
		if jobID == "" {
			middleware.WriteError(w, http.StatusBadRequest, "Job ID is required")
			return
		}
		jobsHandler.GetJob(w, r, jobID)
	})

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})

	return mux
}
