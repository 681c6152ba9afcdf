// Package handlers implements the HTTP API surface: batch submission,
// record and audit queries, review operations, tax estimates, reports
// and exports.
package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mlozhkin/docledger/internal/api/middleware"
	"github.com/mlozhkin/docledger/internal/jobs"
	"github.com/mlozhkin/docledger/internal/pipeline"
	"github.com/mlozhkin/docledger/internal/record"
)

// maxUploadBytes bounds multipart submissions.
const maxUploadBytes = 32 << 20

// BatchesHandler handles batch submission and polling endpoints.
type BatchesHandler struct {
	processor *pipeline.Processor
	registry  *pipeline.Registry
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewBatchesHandler creates a new batches handler.
func NewBatchesHandler(processor *pipeline.Processor, registry *pipeline.Registry, publisher jobs.Publisher, log zerolog.Logger) *BatchesHandler {
	return &BatchesHandler{
		processor: processor,
		registry:  registry,
		publisher: publisher,
		log:       log,
	}
}

type submitDocument struct {
	// Content is the raw document; JSON carries it base64-encoded.
	Content    []byte `json:"content"`
	SourceKind string `json:"source_kind"`
	Filename   string `json:"filename,omitempty"`
	Supersedes string `json:"supersedes,omitempty"`
}

type submitBatchRequest struct {
	Documents []submitDocument `json:"documents"`
	Actor     string           `json:"actor,omitempty"`
}

// SubmitBatch handles POST /api/batches.
// With ?wait=true the batch is processed synchronously and the full report
// returned; otherwise the batch is queued and a pollable batch ID returned.
func (h *BatchesHandler) SubmitBatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var inputs []pipeline.Input
	var err error
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		inputs, err = h.multipartInputs(r)
	} else {
		inputs, err = h.jsonInputs(r)
	}
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if len(inputs) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one document is required")
		return
	}

	if r.URL.Query().Get("wait") == "true" {
		batchID := h.registry.Create()
		report := h.processor.ProcessBatch(ctx, batchID, inputs)
		h.registry.Complete(batchID, report)
		middleware.WriteJSON(w, http.StatusOK, report)
		return
	}

	batchID := h.registry.Create()
	job := &jobs.ProcessBatchJob{
		BatchID: batchID,
		Inputs:  inputs,
	}
	if err := h.publisher.PublishProcessBatch(ctx, job); err != nil {
		h.log.Error().Err(err).Str("batch_id", batchID).Msg("Failed to enqueue batch")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue batch")
		return
	}

	h.log.Info().
		Str("batch_id", batchID).
		Str("job_id", job.JobID).
		Int("documents", len(inputs)).
		Msg("Batch enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"batch_id": batchID,
		"job_id":   job.JobID,
		"status":   string(job.Status),
	})
}

// GetBatch handles GET /api/batches/{id}.
func (h *BatchesHandler) GetBatch(w http.ResponseWriter, r *http.Request, batchID string) {
	report, ok := h.registry.Get(batchID)
	if !ok {
		middleware.WriteError(w, http.StatusNotFound, "Batch not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}

// jsonInputs decodes a JSON submission body into pipeline inputs.
func (h *BatchesHandler) jsonInputs(r *http.Request) ([]pipeline.Input, error) {
	var req submitBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, errInvalidBody
	}

	inputs := make([]pipeline.Input, 0, len(req.Documents))
	for _, doc := range req.Documents {
		if len(doc.Content) == 0 {
			return nil, errEmptyContent
		}
		kind, err := record.ParseSourceKind(doc.SourceKind)
		if err != nil {
			return nil, errUnknownSourceKind
		}
		inputs = append(inputs, pipeline.Input{
			Content:    doc.Content,
			SourceKind: kind,
			Filename:   doc.Filename,
			Supersedes: doc.Supersedes,
			Actor:      req.Actor,
		})
	}
	return inputs, nil
}

// multipartInputs reads uploaded files into pipeline inputs. The source kind
// is inferred from each filename extension.
func (h *BatchesHandler) multipartInputs(r *http.Request) ([]pipeline.Input, error) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, errInvalidBody
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		files = r.MultipartForm.File["file"]
	}
	actor := r.FormValue("actor")

	inputs := make([]pipeline.Input, 0, len(files))
	for _, hdr := range files {
		f, err := hdr.Open()
		if err != nil {
			return nil, errInvalidBody
		}
		content, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return nil, errInvalidBody
		}
		if len(content) == 0 {
			return nil, errEmptyContent
		}
		inputs = append(inputs, pipeline.Input{
			Content:    content,
			SourceKind: pipeline.KindForFilename(hdr.Filename),
			Filename:   hdr.Filename,
			Actor:      actor,
		})
	}
	return inputs, nil
}
