package device

import (
	"sync"

	"github.com/google/uuid"
)

// ReleaseFunc frees one acquired resource. It is called at most once.
type ReleaseFunc func() error

type resourceEntry struct {
	id       string
	label    string
	release  ReleaseFunc
	released bool
}

// Registry tracks resources acquired during a session (port forwards, pushed
// files, helper processes) and releases them in reverse registration order on
// teardown. Safe for concurrent use.
type Registry struct {
	mu      sync.Mutex
	entries []*resourceEntry
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register records a resource and returns a handle id for optional early
// release. The label only shows up in logs.
func (r *Registry) Register(label string, release ReleaseFunc) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := uuid.New().String()
	r.entries = append(r.entries, &resourceEntry{id: id, label: label, release: release})
	return id
}

// Release frees a single resource by handle id. Releasing an already-released
// or unknown id is a no-op.
func (r *Registry) Release(id string) error {
	r.mu.Lock()
	var e *resourceEntry
	for _, entry := range r.entries {
		if entry.id == id && !entry.released {
			entry.released = true
			e = entry
			break
		}
	}
	r.mu.Unlock()

	if e == nil {
		return nil
	}
	return e.release()
}

// ReleaseAll frees every still-registered resource, last-acquired first, and
// keeps going past individual failures. The collected errors are returned for
// logging; teardown never aborts on them.
func (r *Registry) ReleaseAll() []error {
	r.mu.Lock()
	var pending []*resourceEntry
	for i := len(r.entries) - 1; i >= 0; i-- {
		if !r.entries[i].released {
			r.entries[i].released = true
			pending = append(pending, r.entries[i])
		}
	}
	r.entries = nil
	r.mu.Unlock()

	var errs []error
	for _, e := range pending {
		if err := e.release(); err != nil {
			log.Warn().Str("resource", e.label).Err(err).Msg("Resource release failed")
			errs = append(errs, err)
		}
	}
	return errs
}

// Len reports how many resources are still registered and unreleased.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, e := range r.entries {
		if !e.released {
			n++
		}
	}
	return n
}
