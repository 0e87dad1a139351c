package research

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// callTracker rewrites externally issued tool-call identifiers into
// process-unique ones. Providers may reuse literal IDs like "call_0" across
// concurrently executing steps, so mappings are scoped per step rather than
// held in one global map; a scope is discarded with its step and no mapping
// ever leaks across step boundaries.
type callTracker struct {
	mu      sync.Mutex
	scopes  map[int]map[string]string // step index -> external ID -> unique ID
	started map[string]time.Time      // unique ID -> start time
	active  []int                     // step activation order, most recent last
}

func newCallTracker() *callTracker {
	return &callTracker{
		scopes:  make(map[int]map[string]string),
		started: make(map[string]time.Time),
	}
}

const unknownExternalID = "unknown_id"

// Begin registers a step scope. Steps are scanned most-recently-begun first
// when a completion arrives without a resolvable scope.
func (t *callTracker) Begin(step int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.scopes[step]; !ok {
		t.scopes[step] = make(map[string]string)
	}
	for i, s := range t.active {
		if s == step {
			t.active = append(t.active[:i], t.active[i+1:]...)
			break
		}
	}
	t.active = append(t.active, step)
}

// End discards a step scope along with any unresolved mappings for it.
func (t *callTracker) End(step int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, uid := range t.scopes[step] {
		delete(t.started, uid)
	}
	delete(t.scopes, step)
	for i, s := range t.active {
		if s == step {
			t.active = append(t.active[:i], t.active[i+1:]...)
			break
		}
	}
}

// Started mints a globally unique identifier for a started tool call and
// records the external-to-unique mapping in the step's scope. Reuse of the
// same external ID within a step replaces the mapping: it is a new call, not
// an update.
func (t *callTracker) Started(step int, externalID, toolName string) string {
	if toolName == "" {
		toolName = "tool"
	}
	uid := fmt.Sprintf("%s_%s", toolName, uuid.NewString()[:8])
	key := externalID
	if key == "" {
		key = unknownExternalID
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	scope, ok := t.scopes[step]
	if !ok {
		scope = make(map[string]string)
		t.scopes[step] = scope
	}
	scope[key] = uid
	t.started[uid] = time.Now()
	return uid
}

// Completed resolves a finished tool call to its unique identifier and elapsed
// duration. Lookup order: the owning step's scope, then other scopes most
// recently begun first (completion events may arrive without reliable step
// attribution), then a fresh fallback identifier rather than a failure. The
// mapping is deleted after resolution: one start/complete pair per call.
func (t *callTracker) Completed(step int, externalID string) (string, int64) {
	key := externalID
	if key == "" {
		key = unknownExternalID
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	uid := ""
	if scope, ok := t.scopes[step]; ok {
		if u, ok := scope[key]; ok {
			uid = u
			delete(scope, key)
		}
	}
	if uid == "" {
		for i := len(t.active) - 1; i >= 0; i-- {
			s := t.active[i]
			if s == step {
				continue
			}
			if u, ok := t.scopes[s][key]; ok {
				uid = u
				delete(t.scopes[s], key)
				break
			}
		}
	}
	if uid == "" {
		if externalID != "" {
			uid = externalID
		} else {
			uid = "fallback_" + uuid.NewString()[:8]
		}
	}

	var durationMS int64
	if start, ok := t.started[uid]; ok {
		durationMS = time.Since(start).Milliseconds()
		delete(t.started, uid)
	}
	return uid, durationMS
}
