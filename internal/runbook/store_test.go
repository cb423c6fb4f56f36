package runbook

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runbook.json")
	return NewStore(path, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func precedent(id string) models.Precedent {
	return models.Precedent{
		IncidentID:      id,
		AlertType:       "HighMemory",
		RootCause:       "memory leak",
		Action:          "RESTART",
		CouncilApproved: true,
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	entries, err := testStore(t).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestLoadEmptyFileIsEmpty(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(s.Path(), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := s.Load()
	if err != nil || len(entries) != 0 {
		t.Fatalf("Load = %v, %v", entries, err)
	}
}

func TestLoadMalformedFileIsEmpty(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(s.Path(), []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("entries = %d, want 0", len(entries))
	}
}

func TestAppendPreservesOrder(t *testing.T) {
	s := testStore(t)
	for i := 1; i <= 3; i++ {
		if err := s.Append(precedent(fmt.Sprintf("INC-%03d", i))); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	entries, err := s.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	for i, entry := range entries {
		want := fmt.Sprintf("INC-%03d", i+1)
		if entry.IncidentID != want {
			t.Fatalf("entry %d = %s, want %s", i, entry.IncidentID, want)
		}
	}
}

func TestAppendWritesValidJSONArray(t *testing.T) {
	s := testStore(t)
	if err := s.Append(precedent("INC-001")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	data, err := os.ReadFile(s.Path())
	if err != nil {
		t.Fatalf("read corpus: %v", err)
	}
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("corpus not a JSON array: %v", err)
	}
	if raw[0]["incident_id"] != "INC-001" {
		t.Fatalf("entry = %v", raw[0])
	}
}

func TestAppendRecoversFromMalformedFile(t *testing.T) {
	s := testStore(t)
	if err := os.WriteFile(s.Path(), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(precedent("INC-001")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	entries, _ := s.Load()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
}

func TestConcurrentAppendsLoseNothing(t *testing.T) {
	s := testStore(t)
	const writers = 10

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := s.Append(precedent(fmt.Sprintf("INC-%03d", i))); err != nil {
				t.Errorf("Append: %v", err)
			}
		}(i)
	}
	wg.Wait()

	n, err := s.Size()
	if err != nil {
		t.Fatalf("Size: %v", err)
	}
	if n != writers {
		t.Fatalf("corpus size = %d, want %d", n, writers)
	}
}

func TestSummarize(t *testing.T) {
	entries := []models.Precedent{
		{AlertType: "HighMemory", Action: "RESTART", CouncilApproved: true},
		{AlertType: "HighMemory", Action: "RESTART", CouncilApproved: true},
		{AlertType: "HighMemory", Action: "SCALE_UP", CouncilApproved: false},
		{AlertType: "HighCPU", Action: "SCALE_UP", CouncilApproved: true},
	}

	summary := Summarize(entries)
	if summary.TotalEntries != 4 || summary.Approved != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.ActionTotals["RESTART"] != 2 || summary.ActionTotals["SCALE_UP"] != 2 {
		t.Fatalf("action totals = %v", summary.ActionTotals)
	}
	if len(summary.ByAlertType) != 2 {
		t.Fatalf("alert types = %d", len(summary.ByAlertType))
	}

	mem := summary.ByAlertType[0]
	if mem.AlertType != "HighMemory" || mem.Total != 3 || mem.Approved != 2 {
		t.Fatalf("HighMemory stats = %+v", mem)
	}
	if mem.TopAction != "RESTART" {
		t.Fatalf("top action = %s", mem.TopAction)
	}
}

func TestSummarizeEmptyCorpus(t *testing.T) {
	summary := Summarize(nil)
	if summary.TotalEntries != 0 || len(summary.ByAlertType) != 0 {
		t.Fatalf("summary = %+v", summary)
	}
}
