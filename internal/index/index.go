// Package index orchestrates incremental embedding index builds, owns
// persistence, and answers nearest-neighbor queries over indexed folders.
package index

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/hyperjump/miru/internal/catalog"
	"github.com/hyperjump/miru/internal/vector"
)

// Persisted index layout inside each folder's sidecar directory.
const (
	vectorsFile  = "vectors.bin"
	catalogFile  = "catalog.jsonl"
	commentsFile = "comments.json"
)

// Index is the handle for one folder's index: the vector store and catalog
// plus their persisted location. The live store and catalog are replaced
// together, never mutated in place, so a reader that grabs both under the
// read lock sees a consistent, fully persisted state.
type Index struct {
	folder string // canonical folder path
	dir    string // sidecar directory inside the folder

	mu     sync.RWMutex
	store  *vector.Store
	cat    *catalog.Catalog
	loaded bool
}

func newIndex(folder, dirName string) *Index {
	return &Index{folder: folder, dir: filepath.Join(folder, dirName)}
}

// persisted reports whether both index files exist on disk.
func (ix *Index) persisted() bool {
	for _, name := range []string{vectorsFile, catalogFile} {
		if _, err := os.Stat(filepath.Join(ix.dir, name)); err != nil {
			return false
		}
	}
	return true
}

// snapshot returns the live store and catalog. ok is false when the index has
// not been loaded or built yet.
func (ix *Index) snapshot() (store *vector.Store, cat *catalog.Catalog, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.store, ix.cat, ix.loaded
}

// swap publishes a new store and catalog as the live state.
func (ix *Index) swap(store *vector.Store, cat *catalog.Catalog) {
	ix.mu.Lock()
	ix.store = store
	ix.cat = cat
	ix.loaded = true
	ix.mu.Unlock()
}

// ensureLoaded returns the live state, loading it from disk on first use.
// Returns ErrNotIndexed when no persisted index exists, ErrCorruptIndex when
// the persisted files disagree about length, and a dimension mismatch when
// the persisted vectors do not match embedDim (a stale index from a
// different model).
func (ix *Index) ensureLoaded(embedDim int) (*vector.Store, *catalog.Catalog, error) {
	if store, cat, ok := ix.snapshot(); ok {
		return store, cat, nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.loaded {
		return ix.store, ix.cat, nil
	}
	if !ix.persisted() {
		return nil, nil, fmt.Errorf("%w: %s", ErrNotIndexed, ix.folder)
	}
	store, cat, err := loadPersisted(ix.dir, embedDim)
	if err != nil {
		return nil, nil, err
	}
	ix.store = store
	ix.cat = cat
	ix.loaded = true
	return store, cat, nil
}

func loadPersisted(dir string, embedDim int) (*vector.Store, *catalog.Catalog, error) {
	store := vector.NewStore(0)
	if err := store.Load(filepath.Join(dir, vectorsFile)); err != nil {
		return nil, nil, fmt.Errorf("load vectors: %w", err)
	}
	cat := catalog.New()
	if err := cat.Load(filepath.Join(dir, catalogFile)); err != nil {
		return nil, nil, fmt.Errorf("load catalog: %w", err)
	}
	if store.Count() != cat.Len() {
		return nil, nil, fmt.Errorf("%w: %d vectors but %d catalog entries", ErrCorruptIndex, store.Count(), cat.Len())
	}
	if embedDim > 0 && store.Dimension() != 0 && store.Dimension() != embedDim {
		return nil, nil, &vector.ErrDimensionMismatch{Expected: embedDim, Actual: store.Dimension()}
	}
	return store, cat, nil
}

// persist writes the staged store and catalog to disk. Each file is written
// atomically; on any error the live state is untouched, so memory never gets
// ahead of the last successful persist.
func (ix *Index) persist(store *vector.Store, cat *catalog.Catalog) error {
	if err := os.MkdirAll(ix.dir, 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	if err := store.Save(filepath.Join(ix.dir, vectorsFile)); err != nil {
		return fmt.Errorf("persist vectors: %w", err)
	}
	if err := cat.Save(filepath.Join(ix.dir, catalogFile)); err != nil {
		return fmt.Errorf("persist catalog: %w", err)
	}
	return nil
}

// workingState returns the base state for a build: the live state when one
// exists (in memory or on disk), otherwise a fresh empty store and catalog
// that become visible only after the first successful persist and swap.
func (ix *Index) workingState(embedDim int) (*vector.Store, *catalog.Catalog, error) {
	store, cat, err := ix.ensureLoaded(embedDim)
	if err == nil {
		return store, cat, nil
	}
	if errors.Is(err, ErrNotIndexed) {
		return vector.NewStore(embedDim), catalog.New(), nil
	}
	return nil, nil, err
}
