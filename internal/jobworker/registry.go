package jobworker

import (
	"context"
	"fmt"
	"sync"

	"github.com/neurobridge-labs/reelforge/internal/domain"
)

// Handler executes one job's stage-specific work and returns its result
// payload. Handlers never retry internally (spec.md §9 "No retry inside
// workers") and never mutate job state directly — the worker pool writes
// the terminal transition from the returned error (or lack of one).
type Handler interface {
	Handle(ctx context.Context, job *domain.Job) (result interface{}, err error)
}

// HandlerFunc adapts a plain function to Handler, mirroring the teacher's
// runtime.Registry pattern.
type HandlerFunc func(ctx context.Context, job *domain.Job) (interface{}, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job) (interface{}, error) {
	return f(ctx, job)
}

// Registry maps job type to Handler, grounded on the teacher's
// internal/jobs/runtime/registry.go.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]Handler{}}
}

func (r *Registry) Register(jobType string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[jobType] = h
}

func (r *Registry) Get(jobType string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[jobType]
	if !ok {
		return nil, fmt.Errorf("jobworker: no handler registered for job type %q", jobType)
	}
	return h, nil
}

// RegisteredTypes lists every job type with a handler, used by the poll
// backstop to scope its CREATED-row scan.
func (r *Registry) RegisteredTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	return types
}
