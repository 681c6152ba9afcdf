package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry holds batch reports so asynchronous submissions can be polled.
type Registry struct {
	mu      sync.RWMutex
	batches map[string]*BatchReport
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{batches: make(map[string]*BatchReport)}
}

// Create registers a new batch in the processing state and returns its id.
func (r *Registry) Create() string {
	id := uuid.NewString()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[id] = &BatchReport{
		BatchID:   id,
		State:     BatchProcessing,
		StartedAt: time.Now().UTC(),
	}
	return id
}

// Complete stores the finished report for a batch.
func (r *Registry) Complete(id string, report *BatchReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[id] = report
}

// Get returns a copy of the batch report.
func (r *Registry) Get(id string) (*BatchReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	report, ok := r.batches[id]
	if !ok {
		return nil, false
	}
	c := *report
	c.Documents = make([]DocumentReport, len(report.Documents))
	copy(c.Documents, report.Documents)
	return &c, true
}
