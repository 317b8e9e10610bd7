// Package registry tracks which live connection holds which identity in
// which workspace.
package registry

import (
	"log/slog"
	"sort"
	"time"
)

// Entry is one presence registration.
type Entry struct {
	ConnectionID string
	Identity     string
	WorkspaceID  string
	JoinedAt     time.Time
}

// Registry maps connections to identities per workspace and enforces at
// most one live connection per (workspace, identity).
//
// Registry is not safe for concurrent use. The relay loop owns it.
type Registry struct {
	conns      map[string]*Entry
	workspaces map[string]map[string]string // workspace -> identity -> connection
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		conns:      make(map[string]*Entry),
		workspaces: make(map[string]map[string]string),
	}
}

// Register binds connectionID to identity in workspaceID. Any other
// connection already holding that identity in the workspace is removed
// and returned so the caller can force-close it (last claim wins). If
// connectionID was registered under a different binding, that binding is
// replaced.
func (r *Registry) Register(connectionID, identity, workspaceID string, now time.Time) []Entry {
	if prev, ok := r.conns[connectionID]; ok {
		if prev.Identity == identity && prev.WorkspaceID == workspaceID {
			return nil
		}
		r.remove(prev)
	}

	var evicted []Entry
	if holder, ok := r.workspaces[workspaceID][identity]; ok && holder != connectionID {
		if old := r.conns[holder]; old != nil {
			evicted = append(evicted, *old)
			r.remove(old)
			slog.Debug("registry: identity reclaimed",
				"workspace", workspaceID, "identity", identity,
				"old_conn", holder, "new_conn", connectionID)
		}
	}

	e := &Entry{
		ConnectionID: connectionID,
		Identity:     identity,
		WorkspaceID:  workspaceID,
		JoinedAt:     now,
	}
	r.conns[connectionID] = e
	if r.workspaces[workspaceID] == nil {
		r.workspaces[workspaceID] = make(map[string]string)
	}
	r.workspaces[workspaceID][identity] = connectionID
	return evicted
}

// Unregister removes connectionID and returns the binding it held. It is
// idempotent: the second call returns false.
func (r *Registry) Unregister(connectionID string) (Entry, bool) {
	e, ok := r.conns[connectionID]
	if !ok {
		return Entry{}, false
	}
	r.remove(e)
	return *e, true
}

// Lookup returns the binding held by connectionID.
func (r *Registry) Lookup(connectionID string) (Entry, bool) {
	e, ok := r.conns[connectionID]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// ListByWorkspace returns the registrations of a workspace ordered by join
// time. An unknown workspace yields an empty list. Callers must not rely
// on the order for correctness.
func (r *Registry) ListByWorkspace(workspaceID string) []Entry {
	members := r.workspaces[workspaceID]
	out := make([]Entry, 0, len(members))
	for _, connID := range members {
		if e := r.conns[connID]; e != nil {
			out = append(out, *e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ConnectionID < out[j].ConnectionID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out
}

// Count returns the number of registrations in a workspace.
func (r *Registry) Count(workspaceID string) int {
	return len(r.workspaces[workspaceID])
}

// Workspaces returns the ids of workspaces with at least one registration.
func (r *Registry) Workspaces() []string {
	out := make([]string, 0, len(r.workspaces))
	for id := range r.workspaces {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the total number of registrations.
func (r *Registry) Len() int {
	return len(r.conns)
}

func (r *Registry) remove(e *Entry) {
	delete(r.conns, e.ConnectionID)
	members := r.workspaces[e.WorkspaceID]
	if members == nil {
		return
	}
	if members[e.Identity] == e.ConnectionID {
		delete(members, e.Identity)
	}
	if len(members) == 0 {
		delete(r.workspaces, e.WorkspaceID)
	}
}
