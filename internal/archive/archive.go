package archive

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve"
	"github.com/blevesearch/bleve/mapping"

	"github.com/mohammad-safakhou/qurio/internal/research"
)

// Record is one archived research report.
type Record struct {
	RunID       string                 `json:"run_id"`
	Question    string                 `json:"question"`
	Mode        string                 `json:"mode"`
	Report      string                 `json:"report"`
	Sources     []research.SourceEntry `json:"sources,omitempty"`
	CompletedAt time.Time              `json:"completed_at"`
}

// Hit is one full-text search match over the archive.
type Hit struct {
	RunID       string    `json:"run_id"`
	Question    string    `json:"question"`
	Snippet     string    `json:"snippet"`
	Score       float64   `json:"score"`
	Rank        int       `json:"rank"`
	CompletedAt time.Time `json:"completed_at"`
}

// indexedDoc is the text surface bleve scores over, plus the stored record
// blob used to rehydrate the table when a disk index is reopened.
type indexedDoc struct {
	Question string `json:"question"`
	Report   string `json:"report"`
	Record   string `json:"record"`
}

// Archive is a BM25 index over completed research reports.
type Archive struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]Record
}

// New opens the archive. An empty path keeps the index in memory; a non-empty
// path creates or reopens a disk index there.
func New(path string) (*Archive, error) {
	a := &Archive{meta: make(map[string]Record)}

	if path == "" {
		index, err := bleve.NewMemOnly(buildMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index: %w", err)
		}
		a.index = index
		return a, nil
	}

	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("opening index at %s: %w", path, err)
	}
	a.index = index
	if err := a.reload(); err != nil {
		_ = index.Close()
		return nil, fmt.Errorf("reloading records: %w", err)
	}
	return a, nil
}

// Close releases the underlying index.
func (a *Archive) Close() error {
	return a.index.Close()
}

// buildMapping indexes question and report; the record blob is stored only.
func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()

	blob := bleve.NewTextFieldMapping()
	blob.Index = false
	blob.Store = true
	blob.IncludeInAll = false

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("question", text)
	doc.AddFieldMappingsAt("report", text)
	doc.AddFieldMappingsAt("record", blob)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// reload rebuilds the record table from the stored blobs of a reopened index.
func (a *Archive) reload() error {
	count, err := a.index.DocCount()
	if err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), int(count), 0, false)
	req.Fields = []string{"record"}
	res, err := a.index.Search(req)
	if err != nil {
		return err
	}
	for _, hit := range res.Hits {
		raw, _ := hit.Fields["record"].(string)
		if raw == "" {
			continue
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			continue
		}
		a.meta[rec.RunID] = rec
	}
	return nil
}

// Add indexes a completed report. Re-adding a run replaces it.
func (a *Archive) Add(rec Record) error {
	if rec.RunID == "" {
		return fmt.Errorf("record without run_id")
	}
	if rec.CompletedAt.IsZero() {
		rec.CompletedAt = time.Now()
	}

	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding record: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.index.Index(rec.RunID, indexedDoc{Question: rec.Question, Report: rec.Report, Record: string(blob)}); err != nil {
		return err
	}
	a.meta[rec.RunID] = rec
	return nil
}

// Get returns an archived record by run ID.
func (a *Archive) Get(runID string) (Record, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.meta[runID]
	return rec, ok
}

// Len reports the number of archived records.
func (a *Archive) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.meta)
}

// Search runs a BM25 query over questions and report bodies.
func (a *Archive) Search(q string, k int) ([]Hit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)

	a.mu.RLock()
	defer a.mu.RUnlock()
	res, err := a.index.Search(searchReq)
	if err != nil {
		return nil, err
	}

	var out []Hit
	for i, hit := range res.Hits {
		rec, ok := a.meta[hit.ID]
		if !ok {
			continue
		}
		out = append(out, Hit{
			RunID:       rec.RunID,
			Question:    rec.Question,
			Snippet:     snippet(rec.Report),
			Score:       hit.Score,
			Rank:        i + 1,
			CompletedAt: rec.CompletedAt,
		})
		if len(out) >= k {
			break
		}
	}
	return out, nil
}

func snippet(text string) string {
	text = strings.TrimSpace(text)
	const max = 240
	if len(text) <= max {
		return text
	}
	cut := text[:max]
	if i := strings.LastIndexByte(cut, ' '); i > 0 {
		cut = cut[:i]
	}
	return cut + "..."
}
