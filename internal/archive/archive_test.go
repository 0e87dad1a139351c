package archive

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/qurio/internal/research"
)

func TestArchiveAddAndSearch(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatal(err)
	}

	records := []Record{
		{RunID: "r1", Question: "history of the transistor", Report: "The transistor was invented at Bell Labs in 1947 and reshaped electronics."},
		{RunID: "r2", Question: "rust borrow checker", Report: "The borrow checker enforces ownership rules at compile time."},
	}
	for _, rec := range records {
		if err := a.Add(rec); err != nil {
			t.Fatalf("Add(%s): %v", rec.RunID, err)
		}
	}
	if a.Len() != 2 {
		t.Fatalf("len = %d", a.Len())
	}

	hits, err := a.Search("transistor", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].RunID != "r1" {
		t.Fatalf("hits = %+v", hits)
	}
	if hits[0].Rank != 1 || hits[0].Snippet == "" {
		t.Errorf("hit = %+v", hits[0])
	}
}

func TestArchiveReplaceRun(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add(Record{RunID: "r1", Question: "q", Report: "about whales"}); err != nil {
		t.Fatal(err)
	}
	if err := a.Add(Record{RunID: "r1", Question: "q", Report: "about dolphins"}); err != nil {
		t.Fatal(err)
	}
	if a.Len() != 1 {
		t.Fatalf("len = %d", a.Len())
	}
	hits, err := a.Search("whales", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("replaced content still searchable: %+v", hits)
	}
}

func TestArchiveRejectsEmptyRunID(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add(Record{Question: "q"}); err == nil {
		t.Fatal("empty run_id accepted")
	}
}

func TestSnippetTruncatesOnWordBoundary(t *testing.T) {
	long := strings.Repeat("evidence ", 60)
	got := snippet(long)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("snippet = %q", got)
	}
	if len(got) > 250 {
		t.Errorf("snippet too long: %d", len(got))
	}
	if got := snippet("short"); got != "short" {
		t.Errorf("short text altered: %q", got)
	}
}

func TestArchiveDiskReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "archive.bleve")

	a, err := New(path)
	if err != nil {
		t.Fatal(err)
	}
	rec := Record{
		RunID:    "r1",
		Question: "grid scale battery storage",
		Mode:     "general",
		Report:   "Lithium iron phosphate dominates new grid deployments.",
		Sources:  []research.SourceEntry{{URL: "https://a.test", Title: "Grid report"}},
	}
	if err := a.Add(rec); err != nil {
		t.Fatal(err)
	}
	if err := a.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	if reopened.Len() != 1 {
		t.Fatalf("len after reopen = %d", reopened.Len())
	}
	got, ok := reopened.Get("r1")
	if !ok {
		t.Fatal("record lost across reopen")
	}
	if got.Question != rec.Question || len(got.Sources) != 1 || got.Sources[0].URL != "https://a.test" {
		t.Fatalf("record = %+v", got)
	}
	hits, err := reopened.Search("battery", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].RunID != "r1" {
		t.Fatalf("hits = %+v", hits)
	}
}

func TestArchiveRecordBlobNotSearchable(t *testing.T) {
	a, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Add(Record{RunID: "r1", Question: "ocean currents", Report: "The gulf stream moderates European climate."}); err != nil {
		t.Fatal(err)
	}
	// raw blob content like field names must not match
	hits, err := a.Search("run_id", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Fatalf("blob leaked into the searchable surface: %+v", hits)
	}
}
