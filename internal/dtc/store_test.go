package dtc

import (
	"path/filepath"
	"testing"
	"time"
)

func testEntry(code string, st Status) Entry {
	return Entry{Code: code, Description: Describe(code), Status: st}
}

func TestStoreObserveAndHistory(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	t1 := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	first := []Entry{testEntry("P0301", Active), testEntry("P0420", Active)}
	if err := store.Observe(first, t1); err != nil {
		t.Fatalf("observe: %v", err)
	}
	second := []Entry{testEntry("P0301", Pending), testEntry("U0100", Active)}
	if err := store.Observe(second, t2); err != nil {
		t.Fatalf("observe: %v", err)
	}

	recs, err := store.History()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}

	// Most recent first; same stamp orders by code.
	wantOrder := []string{"P0301", "U0100", "P0420"}
	for i, code := range wantOrder {
		if recs[i].Code != code {
			t.Errorf("record %d: expected %s, got %s", i, code, recs[i].Code)
		}
	}

	p0301 := recs[0]
	if p0301.Count != 2 {
		t.Errorf("P0301 count: expected 2, got %d", p0301.Count)
	}
	if !p0301.FirstSeen.Equal(t1) {
		t.Errorf("P0301 first seen: expected %v, got %v", t1, p0301.FirstSeen)
	}
	if !p0301.LastSeen.Equal(t2) {
		t.Errorf("P0301 last seen: expected %v, got %v", t2, p0301.LastSeen)
	}
	if p0301.LastStatus != Pending {
		t.Errorf("P0301 last status: expected pending, got %v", p0301.LastStatus)
	}
	if p0301.Description != "Cylinder 1 Misfire Detected" {
		t.Errorf("P0301 description lost: %q", p0301.Description)
	}

	p0420 := recs[2]
	if p0420.Count != 1 || !p0420.FirstSeen.Equal(t1) || !p0420.LastSeen.Equal(t1) {
		t.Errorf("P0420 record wrong: %+v", p0420)
	}
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	at := time.Date(2024, 3, 14, 10, 0, 0, 0, time.UTC)

	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := store.Observe([]Entry{testEntry("P0420", Active)}, at); err != nil {
		t.Fatalf("observe: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = OpenStore(path)
	if err != nil {
		t.Fatalf("reopen store: %v", err)
	}
	defer store.Close()

	recs, err := store.History()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 1 || recs[0].Code != "P0420" || recs[0].Count != 1 {
		t.Errorf("record did not survive reopen: %+v", recs)
	}
	if !recs[0].FirstSeen.Equal(at) {
		t.Errorf("first seen: expected %v, got %v", at, recs[0].FirstSeen)
	}
}

func TestStoreObserveNothing(t *testing.T) {
	store, err := OpenStore(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()

	if err := store.Observe(nil, time.Now()); err != nil {
		t.Fatalf("observe nothing: %v", err)
	}
	recs, err := store.History()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("expected empty history, got %+v", recs)
	}
}
