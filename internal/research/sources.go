package research

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// SourceRegistry deduplicates cited sources by URL while preserving first-seen
// order. Insertion order is the citation numbering contract: the first write
// for a URL wins and later duplicates are dropped, so citation indexes stay
// stable even when a lower-quality duplicate arrives from another step.
type SourceRegistry struct {
	mu      sync.Mutex
	entries []SourceEntry
	byURL   map[string]int
}

// NewSourceRegistry creates an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{byURL: make(map[string]int)}
}

// Add registers a source if its URL is unseen. Returns true when inserted.
func (r *SourceRegistry) Add(entry SourceEntry) bool {
	url := strings.TrimSpace(entry.URL)
	if url == "" {
		return false
	}
	entry.URL = url

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byURL[url]; ok {
		return false
	}
	r.byURL[url] = len(r.entries)
	r.entries = append(r.entries, entry)
	return true
}

// AddFromToolResult scans a tool result payload for cited sources. Search
// tools report a "results" list with "url" fields; other tools may report a
// "sources" list with "uri" fields. "results" takes preference.
func (r *SourceRegistry) AddFromToolResult(payload string) int {
	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &doc); err != nil {
		return 0
	}

	items, ok := doc["results"].([]interface{})
	if !ok {
		items, ok = doc["sources"].([]interface{})
	}
	if !ok {
		return 0
	}

	added := 0
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		entry := sourceFromMap(m)
		if r.Add(entry) {
			added++
		}
	}
	return added
}

func sourceFromMap(m map[string]interface{}) SourceEntry {
	url, _ := m["url"].(string)
	if url == "" {
		url, _ = m["uri"].(string)
	}
	title, _ := m["title"].(string)
	snippet, _ := m["snippet"].(string)
	score, _ := m["score"].(float64)
	return SourceEntry{URL: url, Title: title, Snippet: snippet, Score: score}
}

// Ordered returns the registered sources in insertion order. The result is a
// copy and is stable across repeated calls absent new insertions.
func (r *SourceRegistry) Ordered() []SourceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]SourceEntry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of registered sources.
func (r *SourceRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// CitationList renders the sources as "[n] Title URL" lines matching the
// citation indexes the report prompt mandates.
func (r *SourceRegistry) CitationList() []string {
	entries := r.Ordered()
	lines := make([]string, 0, len(entries))
	for i, entry := range entries {
		title := entry.Title
		if title == "" {
			title = entry.URL
		}
		if title == "" {
			title = fmt.Sprintf("Source %d", i+1)
		}
		lines = append(lines, strings.TrimSpace(fmt.Sprintf("[%d] %s %s", i+1, title, entry.URL)))
	}
	return lines
}
