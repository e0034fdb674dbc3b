// Package catalog maintains the ordered record of indexed image identities
// and per-image metadata, positionally aligned with the vector store.
package catalog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/miru/internal/models"
)

// Catalog is an append-only ordered list of image records. The record at
// position i describes the vector at position i in the vector store.
type Catalog struct {
	mu      sync.RWMutex
	records []models.ImageRecord
	byPath  map[string]int
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{byPath: make(map[string]int)}
}

// Len returns the number of records.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.records)
}

// Diff returns the scanned paths not yet present in the catalog, preserving
// the input order.
func (c *Catalog) Diff(scanned []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var missing []string
	for _, p := range scanned {
		if _, ok := c.byPath[p]; !ok {
			missing = append(missing, p)
		}
	}
	return missing
}

// Append adds one record at the next position. It must be called in the same
// order, and exactly once per vector, as the vector store's Add. Duplicate
// paths are rejected.
func (c *Catalog) Append(path string, mtime, size int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.byPath[path]; ok {
		return fmt.Errorf("duplicate catalog path %q", path)
	}
	c.byPath[path] = len(c.records)
	c.records = append(c.records, models.ImageRecord{Path: path, MTime: mtime, Size: size})
	return nil
}

// ByPosition returns the record at position i, or false if out of range.
func (c *Catalog) ByPosition(i int) (models.ImageRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i < 0 || i >= len(c.records) {
		return models.ImageRecord{}, false
	}
	return c.records[i], true
}

// Find returns the position of path, or false if not cataloged.
func (c *Catalog) Find(path string) (int, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	i, ok := c.byPath[path]
	return i, ok
}

// Paths returns all cataloged paths in position order.
func (c *Catalog) Paths() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	paths := make([]string, len(c.records))
	for i, r := range c.records {
		paths[i] = r.Path
	}
	return paths
}

// Clone returns a catalog whose appends do not affect c. Used to stage a
// batch before swapping it into the live index.
func (c *Catalog) Clone() *Catalog {
	c.mu.RLock()
	defer c.mu.RUnlock()
	records := make([]models.ImageRecord, len(c.records))
	copy(records, c.records)
	byPath := make(map[string]int, len(c.byPath))
	for p, i := range c.byPath {
		byPath[p] = i
	}
	return &Catalog{records: records, byPath: byPath}
}

// Save writes the catalog to path atomically as JSON Lines, one record per
// line in position order.
func (c *Catalog) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create catalog dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, r := range c.records {
		if err := enc.Encode(r); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("encode catalog record: %w", err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename catalog file: %w", err)
	}
	return nil
}

// Load reads a catalog from path, replacing the in-memory contents.
func (c *Catalog) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()

	var records []models.ImageRecord
	byPath := make(map[string]int)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r models.ImageRecord
		if err := json.Unmarshal(line, &r); err != nil {
			return fmt.Errorf("parse catalog record %d: %w", len(records), err)
		}
		if _, ok := byPath[r.Path]; ok {
			return fmt.Errorf("duplicate catalog path %q at record %d", r.Path, len(records))
		}
		byPath[r.Path] = len(records)
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read catalog: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = records
	c.byPath = byPath
	return nil
}
