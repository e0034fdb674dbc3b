package vector

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
)

func TestStore_AddSearch(t *testing.T) {
	s := NewStore(3)
	vecs := [][]float32{
		{1, 0, 0},
		{0.9, 0.1, 0},
		{0, 1, 0},
	}
	if err := s.Add(vecs); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 3 {
		t.Errorf("Count=%d", s.Count())
	}

	hits, err := s.Search([]float32{1, 0, 0}, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Position != 0 {
		t.Errorf("top hit position = %d, want 0", hits[0].Position)
	}
	if math.Abs(hits[0].Score-1.0) > 1e-6 {
		t.Errorf("top hit score = %f, want 1.0", hits[0].Score)
	}
	if hits[1].Position != 1 {
		t.Errorf("second hit position = %d, want 1", hits[1].Position)
	}
}

func TestStore_SearchTiesBrokenByPosition(t *testing.T) {
	s := NewStore(2)
	// Positions 0 and 2 score identically against the query.
	if err := s.Add([][]float32{{1, 0}, {0, 1}, {1, 0}}); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search([]float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Position != 0 || hits[1].Position != 2 {
		t.Errorf("tie order = [%d %d], want [0 2]", hits[0].Position, hits[1].Position)
	}
}

func TestStore_SearchClampsK(t *testing.T) {
	s := NewStore(2)
	if err := s.Add([][]float32{{1, 0}, {0, 1}}); err != nil {
		t.Fatal(err)
	}
	hits, err := s.Search([]float32{1, 0}, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Errorf("expected all 2 hits for oversized k, got %d", len(hits))
	}
	hits, err = s.Search([]float32{1, 0}, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("expected no hits for k=0, got %d", len(hits))
	}
}

func TestStore_SearchEmpty(t *testing.T) {
	s := NewStore(4)
	hits, err := s.Search([]float32{1, 0, 0, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 0 {
		t.Errorf("empty store returned %d hits", len(hits))
	}
}

func TestStore_DimensionFixedByFirstAdd(t *testing.T) {
	s := NewStore(0)
	if err := s.Add([][]float32{{1, 2, 3}}); err != nil {
		t.Fatal(err)
	}
	if s.Dimension() != 3 {
		t.Errorf("Dimension=%d, want 3", s.Dimension())
	}
	err := s.Add([][]float32{{1, 2}})
	var dm *ErrDimensionMismatch
	if !errors.As(err, &dm) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if dm.Expected != 3 || dm.Actual != 2 {
		t.Errorf("mismatch = %d/%d, want 3/2", dm.Expected, dm.Actual)
	}
	if s.Count() != 1 {
		t.Errorf("failed Add changed count to %d", s.Count())
	}
}

func TestStore_AddRejectsMixedBatch(t *testing.T) {
	s := NewStore(2)
	err := s.Add([][]float32{{1, 0}, {1, 0, 0}})
	var dm *ErrDimensionMismatch
	if !errors.As(err, &dm) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
	if s.Count() != 0 {
		t.Errorf("rejected batch left %d vectors", s.Count())
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	s := NewStore(3)
	want := [][]float32{{0.5, 0.5, 0}, {0, 0, 1}}
	if err := s.Add(want); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	loaded := NewStore(0)
	if err := loaded.Load(path); err != nil {
		t.Fatal(err)
	}
	if loaded.Dimension() != 3 || loaded.Count() != 2 {
		t.Fatalf("loaded dim=%d count=%d", loaded.Dimension(), loaded.Count())
	}
	hits, err := loaded.Search([]float32{0, 0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if hits[0].Position != 1 || math.Abs(hits[0].Score-1.0) > 1e-6 {
		t.Errorf("round-trip search hit = %+v", hits[0])
	}
}

func TestStore_LoadDimensionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	s := NewStore(3)
	if err := s.Add([][]float32{{1, 0, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	other := NewStore(8)
	err := other.Load(path)
	var dm *ErrDimensionMismatch
	if !errors.As(err, &dm) {
		t.Fatalf("expected dimension mismatch, got %v", err)
	}
}

func TestStore_LoadRejectsCountBeyondFileSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	s := NewStore(3)
	if err := s.Add([][]float32{{1, 0, 0}, {0, 1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	// Overwrite the count field (offset 12, after magic, version and
	// dimension) with a huge value. Load must reject the header against the
	// file size instead of allocating for it.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	binary.LittleEndian.PutUint32(data[12:], 1<<30)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := NewStore(0)
	if err := loaded.Load(path); err == nil {
		t.Fatal("expected error loading a file with an oversized count")
	}
}

func TestStore_LoadRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vectors.bin")
	s := NewStore(3)
	if err := s.Add([][]float32{{1, 0, 0}, {0, 1, 0}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(path); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-4], 0o644); err != nil {
		t.Fatal(err)
	}

	loaded := NewStore(0)
	if err := loaded.Load(path); err == nil {
		t.Fatal("expected error loading a truncated file")
	}
}

func TestStore_CloneIsolation(t *testing.T) {
	s := NewStore(2)
	if err := s.Add([][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	c := s.Clone()
	if err := c.Add([][]float32{{0, 1}}); err != nil {
		t.Fatal(err)
	}
	if s.Count() != 1 {
		t.Errorf("append to clone changed original count to %d", s.Count())
	}
	if c.Count() != 2 {
		t.Errorf("clone count = %d, want 2", c.Count())
	}
}
