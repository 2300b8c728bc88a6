package skill

import (
	"sort"
	"sync"
)

// Approvals is the set of sensitive skills the user allowed for the session.
type Approvals struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

func NewApprovals(ids ...string) *Approvals {
	a := &Approvals{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		a.ids[id] = struct{}{}
	}
	return a
}

func (a *Approvals) Approve(id string) {
	a.mu.Lock()
	a.ids[id] = struct{}{}
	a.mu.Unlock()
}

func (a *Approvals) Revoke(id string) {
	a.mu.Lock()
	delete(a.ids, id)
	a.mu.Unlock()
}

func (a *Approvals) Has(id string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.ids[id]
	return ok
}

func (a *Approvals) List() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.ids))
	for id := range a.ids {
		out = append(out, id)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out
}
