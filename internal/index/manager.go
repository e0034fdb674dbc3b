package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/hyperjump/miru/internal/annotate"
	"github.com/hyperjump/miru/internal/config"
	"github.com/hyperjump/miru/internal/embedding"
	"github.com/hyperjump/miru/internal/models"
	"github.com/hyperjump/miru/pkg/utils"
)

// Manager owns the per-folder index handles and annotation stores and
// exposes the build and query API. The embedding provider is injected; the
// manager never loads a model itself.
type Manager struct {
	embedder   embedding.Embedder
	cfg        *config.Config
	logger     *zap.Logger
	queryCache *embedding.Cache

	mu       sync.Mutex
	indexes  map[string]*Index
	comments map[string]*annotate.Store
	building singleflight.Group
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets a logger for build progress and warnings.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager creates a manager with the given embedding provider and config.
func NewManager(embedder embedding.Embedder, cfg *config.Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		embedder:   embedder,
		cfg:        cfg,
		logger:     zap.NewNop(),
		queryCache: embedding.NewCache(cfg.Embedding.CacheSize),
		indexes:    make(map[string]*Index),
		comments:   make(map[string]*annotate.Store),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// SearchOptions tunes a search call.
type SearchOptions struct {
	// Limit is the requested result count. Values outside the configured
	// [min, max] range (including zero) fall back to the configured default.
	Limit int
	// SortBy selects the result order; default is similarity.
	SortBy models.SortOrder
}

// canonicalFolder validates folder and returns its canonical (absolute) form.
func (m *Manager) canonicalFolder(folder string) (string, error) {
	if strings.TrimSpace(folder) == "" {
		return "", fmt.Errorf("%w: empty path", ErrInvalidFolder)
	}
	for _, part := range strings.Split(filepath.ToSlash(folder), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: parent references not allowed", ErrInvalidFolder)
		}
	}
	abs, err := filepath.Abs(folder)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFolder, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidFolder, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: not a directory: %s", ErrInvalidFolder, abs)
	}
	if len(m.cfg.Index.AllowedRoots) > 0 && !underAllowedRoot(abs, m.cfg.Index.AllowedRoots) {
		return "", fmt.Errorf("%w: outside allowed roots: %s", ErrInvalidFolder, abs)
	}
	return abs, nil
}

func underAllowedRoot(path string, roots []string) bool {
	for _, root := range roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// handle returns the index handle for a canonical folder, creating it on
// first use.
func (m *Manager) handle(canonical string) *Index {
	m.mu.Lock()
	defer m.mu.Unlock()
	ix, ok := m.indexes[canonical]
	if !ok {
		ix = newIndex(canonical, m.cfg.Index.DirName)
		m.indexes[canonical] = ix
	}
	return ix
}

// BuildOrUpdate scans folder, embeds files not yet cataloged, and appends
// them to the index, persisting after each batch. Concurrent calls for the
// same folder are coalesced: the second caller waits for and shares the
// first's result.
func (m *Manager) BuildOrUpdate(ctx context.Context, folder string) (models.IndexSummary, error) {
	canonical, err := m.canonicalFolder(folder)
	if err != nil {
		return models.IndexSummary{}, err
	}
	ix := m.handle(canonical)
	v, err, _ := m.building.Do(canonical, func() (interface{}, error) {
		return m.build(ctx, ix)
	})
	if err != nil {
		return models.IndexSummary{}, err
	}
	return v.(models.IndexSummary), nil
}

func (m *Manager) build(ctx context.Context, ix *Index) (models.IndexSummary, error) {
	scanned, err := scanImages(ix.folder, m.cfg.Index.Extensions)
	if err != nil {
		return models.IndexSummary{}, err
	}
	store, cat, err := ix.workingState(m.embedder.Dimensions())
	if err != nil {
		return models.IndexSummary{}, err
	}
	if len(scanned) == 0 && cat.Len() == 0 {
		return models.IndexSummary{}, fmt.Errorf("%w: %s", ErrNoImagesFound, ix.folder)
	}

	// Diff is by path only: a file whose content changed under the same path
	// is not re-embedded. Known limitation carried over from the index being
	// append-only.
	newPaths := cat.Diff(scanned)
	m.logger.Info("index build started",
		zap.String("folder", ix.folder),
		zap.Int("scanned", len(scanned)),
		zap.Int("new", len(newPaths)),
	)

	batchSize := m.cfg.Index.BatchSize
	if batchSize <= 0 {
		batchSize = 32
	}
	added := 0
	for start := 0; start < len(newPaths); start += batchSize {
		end := start + batchSize
		if end > len(newPaths) {
			end = len(newPaths)
		}
		vecs, recs := m.embedBatch(ctx, newPaths[start:end])
		if len(vecs) == 0 {
			continue
		}

		// Stage the batch on clones, persist, then swap: a reader never sees
		// a partially appended batch, and a persist failure leaves both the
		// live state and the files at the previous batch boundary.
		next := store.Clone()
		if err := next.Add(vecs); err != nil {
			return models.IndexSummary{}, fmt.Errorf("append vectors: %w", err)
		}
		nextCat := cat.Clone()
		for _, r := range recs {
			if err := nextCat.Append(r.Path, r.MTime, r.Size); err != nil {
				return models.IndexSummary{}, fmt.Errorf("append catalog: %w", err)
			}
		}
		if err := ix.persist(next, nextCat); err != nil {
			return models.IndexSummary{}, err
		}
		ix.swap(next, nextCat)
		store, cat = next, nextCat
		added += len(vecs)
	}

	m.logger.Info("index build finished",
		zap.String("folder", ix.folder),
		zap.Int("added", added),
		zap.Int("total", cat.Len()),
	)
	return models.IndexSummary{Added: added, Total: cat.Len()}, nil
}

// embedBatch embeds one batch of files. A file whose embedding or stat fails
// is skipped with a warning; the rest of the batch continues. Returned slices
// are aligned.
func (m *Manager) embedBatch(ctx context.Context, paths []string) ([][]float32, []models.ImageRecord) {
	vecs := make([][]float32, 0, len(paths))
	recs := make([]models.ImageRecord, 0, len(paths))
	for _, path := range paths {
		vec, err := m.embedder.EmbedImage(ctx, path)
		if err != nil {
			m.logger.Warn("embedding failed, skipping file", zap.String("path", path), zap.Error(err))
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			m.logger.Warn("stat failed, skipping file", zap.String("path", path), zap.Error(err))
			continue
		}
		// The single normalization point for index vectors.
		utils.NormalizeL2(vec)
		vecs = append(vecs, vec)
		recs = append(recs, models.ImageRecord{Path: path, MTime: info.ModTime().UnixNano(), Size: info.Size()})
	}
	return vecs, recs
}

// Search runs a nearest-neighbor query with an already-embedded, normalized
// query vector and joins the hits with catalog metadata.
func (m *Manager) Search(folder string, query []float32, opts SearchOptions) ([]models.SearchResult, error) {
	canonical, err := m.canonicalFolder(folder)
	if err != nil {
		return nil, err
	}
	store, cat, err := m.handle(canonical).ensureLoaded(m.embedder.Dimensions())
	if err != nil {
		return nil, err
	}

	hits, err := store.Search(query, m.clampLimit(opts.Limit))
	if err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(hits))
	for _, hit := range hits {
		rec, ok := cat.ByPosition(hit.Position)
		if !ok {
			// Cannot happen while the index stays append-only; skip rather
			// than fail if it ever does.
			m.logger.Warn("search hit has no catalog entry", zap.Int("position", hit.Position))
			continue
		}
		results = append(results, models.SearchResult{
			Path:       rec.Path,
			Filename:   filepath.Base(rec.Path),
			Similarity: hit.Score,
			MTime:      rec.MTime,
			Size:       rec.Size,
		})
	}
	if opts.SortBy == models.SortByTime {
		sort.SliceStable(results, func(i, j int) bool { return results[i].MTime > results[j].MTime })
	}
	for i := range results {
		results[i].Rank = i + 1
	}
	return results, nil
}

// SearchText embeds a text query through the provider and searches folder.
// Query embeddings are cached, a repeated query skips inference. The cache
// holds normalized vectors, so there is exactly one normalization per query
// text.
func (m *Manager) SearchText(ctx context.Context, folder, query string, opts SearchOptions) ([]models.SearchResult, error) {
	if vec, ok := m.queryCache.Get(query); ok {
		return m.Search(folder, vec, opts)
	}
	vec, err := m.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	utils.NormalizeL2(vec)
	m.queryCache.Set(query, vec)
	return m.Search(folder, vec, opts)
}

// SearchImage embeds the image at imagePath and searches folder with it.
func (m *Manager) SearchImage(ctx context.Context, folder, imagePath string, opts SearchOptions) ([]models.SearchResult, error) {
	vec, err := m.embedder.EmbedImage(ctx, imagePath)
	if err != nil {
		return nil, fmt.Errorf("embed query image: %w", err)
	}
	utils.NormalizeL2(vec)
	return m.Search(folder, vec, opts)
}

// clampLimit applies the configured result limit policy: out-of-range values
// fall back to the default.
func (m *Manager) clampLimit(limit int) int {
	s := m.cfg.Search
	if limit < s.MinResults || limit > s.MaxResults {
		return s.DefaultResults
	}
	return limit
}

// Stats summarizes the indexes this manager currently has in memory.
type Stats struct {
	Folders int `json:"folders"`
	Images  int `json:"images"`
}

// Stats reports loaded folder and image counts. Folders indexed on disk but
// never touched through this manager are not counted.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	var st Stats
	for _, ix := range m.indexes {
		if _, cat, ok := ix.snapshot(); ok {
			st.Folders++
			st.Images += cat.Len()
		}
	}
	return st
}

// IsIndexed reports whether a persisted index exists for folder, without
// loading it.
func (m *Manager) IsIndexed(folder string) bool {
	canonical, err := m.canonicalFolder(folder)
	if err != nil {
		return false
	}
	return m.handle(canonical).persisted()
}

// Annotations returns the comment store for folder. Comments are independent
// of the index lifecycle, so the folder does not have to be indexed.
func (m *Manager) Annotations(folder string) (*annotate.Store, error) {
	canonical, err := m.canonicalFolder(folder)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.comments[canonical]
	if !ok {
		path := filepath.Join(canonical, m.cfg.Index.DirName, commentsFile)
		s = annotate.NewStore(path, m.cfg.Annotations.MaxCommentLength, annotate.WithLogger(m.logger))
		m.comments[canonical] = s
	}
	return s, nil
}

// CommentedImages lists the indexed images of folder that have comments,
// newest latest-comment first.
func (m *Manager) CommentedImages(folder string) ([]models.AnnotatedImage, error) {
	canonical, err := m.canonicalFolder(folder)
	if err != nil {
		return nil, err
	}
	_, cat, err := m.handle(canonical).ensureLoaded(m.embedder.Dimensions())
	if err != nil {
		return nil, err
	}
	ann, err := m.Annotations(canonical)
	if err != nil {
		return nil, err
	}
	return ann.ListAnnotated(cat.Paths()), nil
}

// Resolve reports whether imagePath is cataloged in folder's index. The HTTP
// layer uses it to refuse serving files that were never indexed.
func (m *Manager) Resolve(folder, imagePath string) (models.ImageRecord, bool) {
	canonical, err := m.canonicalFolder(folder)
	if err != nil {
		return models.ImageRecord{}, false
	}
	_, cat, err := m.handle(canonical).ensureLoaded(m.embedder.Dimensions())
	if err != nil {
		return models.ImageRecord{}, false
	}
	pos, ok := cat.Find(imagePath)
	if !ok {
		return models.ImageRecord{}, false
	}
	rec, ok := cat.ByPosition(pos)
	return rec, ok
}
