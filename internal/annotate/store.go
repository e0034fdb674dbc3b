// Package annotate provides a path-keyed, append-only log of timestamped
// image comments with its own persistence, independent of the index
// lifecycle: a comment can outlive its image and vice versa.
package annotate

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/hyperjump/miru/internal/models"
)

// ErrCommentTooLong is returned when a comment exceeds the configured maximum.
var ErrCommentTooLong = errors.New("comment too long")

// Store is the comment log for one folder, backed by a single JSON file
// mapping image path to an ordered list of "[timestamp] text" strings. The
// file is re-read on each operation and rewritten whole on append; comment
// volume is small and this keeps the store stateless between calls.
type Store struct {
	path    string // JSON file location
	maxLen  int    // maximum comment length in runes
	mu      sync.Mutex
	logger  *zap.Logger
	nowFunc func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithLogger sets a logger for warnings (malformed log file, etc.).
func WithLogger(l *zap.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// withNow overrides the clock; tests use it to control timestamps.
func withNow(now func() time.Time) StoreOption {
	return func(s *Store) { s.nowFunc = now }
}

// NewStore creates a comment store persisted at path. maxLen bounds comment
// length in runes (<=0 means 100).
func NewStore(path string, maxLen int, opts ...StoreOption) *Store {
	if maxLen <= 0 {
		maxLen = 100
	}
	s := &Store{path: path, maxLen: maxLen, nowFunc: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Append validates and adds a comment for imagePath, persists the whole log,
// and returns the image's updated comment sequence.
func (s *Store) Append(imagePath, text string) ([]models.Comment, error) {
	if utf8.RuneCountInString(text) > s.maxLen {
		return nil, fmt.Errorf("%w: %d runes (max %d)", ErrCommentTooLong, utf8.RuneCountInString(text), s.maxLen)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.load()
	entry := models.Comment{Timestamp: s.nowFunc(), Text: text}
	log[imagePath] = append(log[imagePath], entry.String())
	if err := s.save(log); err != nil {
		return nil, err
	}
	return parseAll(log[imagePath]), nil
}

// List returns the ordered comments for imagePath (empty if none).
func (s *Store) List(imagePath string) []models.Comment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return parseAll(s.load()[imagePath])
}

// ListAnnotated summarizes comments for the paths in known, sorted by the
// parsed timestamp of each image's latest comment, newest first. Paths with
// no comments are omitted.
func (s *Store) ListAnnotated(known []string) []models.AnnotatedImage {
	s.mu.Lock()
	log := s.load()
	s.mu.Unlock()

	var out []models.AnnotatedImage
	for _, p := range known {
		raws := log[p]
		if len(raws) == 0 {
			continue
		}
		latest := models.ParseComment(raws[len(raws)-1])
		out = append(out, models.AnnotatedImage{
			Path:     p,
			Filename: filepath.Base(p),
			Count:    len(raws),
			Latest:   latest.Text,
			LatestAt: latest.Timestamp,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].LatestAt.After(out[j].LatestAt) })
	return out
}

// load reads the log file. A missing file is an empty log; a malformed file
// is treated as empty with a warning, since comments are non-critical.
func (s *Store) load() map[string][]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) && s.logger != nil {
			s.logger.Warn("failed to read comment log", zap.String("path", s.path), zap.Error(err))
		}
		return map[string][]string{}
	}
	var log map[string][]string
	if err := json.Unmarshal(data, &log); err != nil {
		if s.logger != nil {
			s.logger.Warn("malformed comment log, starting empty", zap.String("path", s.path), zap.Error(err))
		}
		return map[string][]string{}
	}
	if log == nil {
		log = map[string][]string{}
	}
	return log
}

func (s *Store) save(log map[string][]string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create comment log dir: %w", err)
	}
	data, err := json.MarshalIndent(log, "", "  ")
	if err != nil {
		return fmt.Errorf("encode comment log: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write comment log: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename comment log: %w", err)
	}
	return nil
}

func parseAll(raws []string) []models.Comment {
	comments := make([]models.Comment, len(raws))
	for i, raw := range raws {
		comments[i] = models.ParseComment(raw)
	}
	return comments
}
