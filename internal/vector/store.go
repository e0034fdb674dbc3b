// Package vector provides an append-only flat vector store with exact
// inner-product search. Vector identity is positional: the caller is
// responsible for keeping a parallel record of what each position means.
package vector

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// On-disk format: magic, version, dimension, count, then count*dimension
// float32 values, all little-endian.
const (
	fileMagic   = "MIRV"
	fileVersion = 1
)

// ErrDimensionMismatch indicates that a vector's length differs from the
// store's fixed dimension.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Hit is a single search result: a position into the store and its
// inner-product score against the query.
type Hit struct {
	Position int
	Score    float64
}

// Store holds vectors in insertion order and searches them by brute-force
// inner product. Entries are never removed or edited in place.
type Store struct {
	mu      sync.RWMutex
	dim     int // 0 until the first vector is added
	vectors [][]float32
}

// NewStore creates a store. dim may be 0, in which case the first Add fixes
// the dimension.
func NewStore(dim int) *Store {
	if dim < 0 {
		dim = 0
	}
	return &Store{dim: dim}
}

// Dimension returns the store's vector dimension (0 if no dimension is fixed yet).
func (s *Store) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// Count returns the number of stored vectors.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.vectors)
}

// Add appends vectors in order. The first vector ever added fixes the
// dimension when the store was created without one; any vector whose length
// differs fails with *ErrDimensionMismatch and nothing from the batch is kept.
func (s *Store) Add(vectors [][]float32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	dim := s.dim
	for _, v := range vectors {
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return &ErrDimensionMismatch{Expected: dim, Actual: len(v)}
		}
	}
	for _, v := range vectors {
		vec := make([]float32, len(v))
		copy(vec, v)
		s.vectors = append(s.vectors, vec)
	}
	s.dim = dim
	return nil
}

// Search returns the k highest-scoring positions for query, descending by
// inner product, ties broken by lower position. k is clamped to [0, Count].
// An empty store returns an empty result for any k.
func (s *Store) Search(query []float32, k int) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.vectors) == 0 || k <= 0 {
		return nil, nil
	}
	if s.dim != 0 && len(query) != s.dim {
		return nil, &ErrDimensionMismatch{Expected: s.dim, Actual: len(query)}
	}
	hits := make([]Hit, len(s.vectors))
	for i, vec := range s.vectors {
		hits[i] = Hit{Position: i, Score: InnerProduct(query, vec)}
	}
	// Stable sort on position order makes ties deterministic: equal scores
	// keep ascending positions.
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k], nil
}

// Clone returns a store that shares vector data with s but whose appends do
// not affect s. Used to stage a batch before swapping it into the live index.
func (s *Store) Clone() *Store {
	s.mu.RLock()
	defer s.mu.RUnlock()
	vectors := make([][]float32, len(s.vectors))
	copy(vectors, s.vectors)
	return &Store{dim: s.dim, vectors: vectors}
}

// Save writes the store to path atomically (temp file then rename).
// Parent directories are created if needed.
func (s *Store) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create index dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if err := s.write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename vector file: %w", err)
	}
	return nil
}

func (s *Store) write(w io.Writer) error {
	if _, err := w.Write([]byte(fileMagic)); err != nil {
		return fmt.Errorf("write magic: %w", err)
	}
	header := []uint32{fileVersion, uint32(s.dim), uint32(len(s.vectors))}
	if err := binary.Write(w, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	buf := make([]byte, s.dim*4)
	for _, vec := range s.vectors {
		for i, v := range vec {
			binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
		}
		if _, err := w.Write(buf[:len(vec)*4]); err != nil {
			return fmt.Errorf("write vector: %w", err)
		}
	}
	return nil
}

// Load reads a store from path. If the store already has a fixed dimension,
// the file's dimension must match.
func (s *Store) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector file: %w", err)
	}
	defer f.Close()

	magic := make([]byte, len(fileMagic))
	if _, err := io.ReadFull(f, magic); err != nil {
		return fmt.Errorf("read magic: %w", err)
	}
	if string(magic) != fileMagic {
		return fmt.Errorf("not a vector file: bad magic %q", magic)
	}
	var header [3]uint32
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	version, dim, count := header[0], int(header[1]), header[2]
	if version != fileVersion {
		return fmt.Errorf("unsupported vector file version %d", version)
	}
	// Check the header against the file size before allocating: a corrupt
	// count must fail here, not as a giant allocation.
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat vector file: %w", err)
	}
	payload := info.Size() - int64(len(fileMagic)) - 12
	if int64(count)*int64(dim)*4 != payload {
		return fmt.Errorf("corrupt vector file: %d vectors of dimension %d do not fit %d payload bytes", count, dim, payload)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim != 0 && dim != s.dim {
		return &ErrDimensionMismatch{Expected: s.dim, Actual: dim}
	}
	vectors := make([][]float32, 0, count)
	buf := make([]byte, dim*4)
	for i := uint32(0); i < count; i++ {
		if _, err := io.ReadFull(f, buf); err != nil {
			return fmt.Errorf("read vector %d: %w", i, err)
		}
		vec := make([]float32, dim)
		for j := range vec {
			vec[j] = math.Float32frombits(binary.LittleEndian.Uint32(buf[j*4:]))
		}
		vectors = append(vectors, vec)
	}
	s.dim = dim
	s.vectors = vectors
	return nil
}
