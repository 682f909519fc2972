// Package audittest provides an in-memory audit.Recorder for service tests.
package audittest

import (
	"context"
	"sync"

	"github.com/labcore/lims/internal/domain/audit"
	"github.com/labcore/lims/internal/platform/auth"
)

type Recorder struct {
	mu      sync.Mutex
	Entries []audit.Entry
	// Err, when set, is returned by Record instead of storing the entry.
	Err error
}

func (r *Recorder) Record(_ context.Context, actor *auth.Actor, action audit.Action, entityType, entityID, details string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	e := audit.Entry{Username: audit.SystemUsername, Action: action, EntityType: entityType, EntityID: entityID, Details: details}
	if actor != nil {
		e.Username = actor.Username
	}
	r.Entries = append(r.Entries, e)
	return nil
}

// Snapshot implements dbtest.Snapshotter.
func (r *Recorder) Snapshot() func() {
	r.mu.Lock()
	n := len(r.Entries)
	r.mu.Unlock()
	return func() {
		r.mu.Lock()
		r.Entries = r.Entries[:n]
		r.mu.Unlock()
	}
}

// Details returns the details of every entry with the given action.
func (r *Recorder) Details(action audit.Action) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, e := range r.Entries {
		if e.Action == action {
			out = append(out, e.Details)
		}
	}
	return out
}
