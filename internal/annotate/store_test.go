package annotate

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func testStore(t *testing.T, opts ...StoreOption) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "comments.json"), 100, opts...)
}

func TestStore_AppendListOrder(t *testing.T) {
	s := testStore(t)
	if _, err := s.Append("/img/a.jpg", "nice"); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Append("/img/a.jpg", "great"); err != nil {
		t.Fatal(err)
	}

	comments := s.List("/img/a.jpg")
	if len(comments) != 2 {
		t.Fatalf("got %d comments, want 2", len(comments))
	}
	if comments[0].Text != "nice" || comments[1].Text != "great" {
		t.Errorf("order = [%q %q], want [nice great]", comments[0].Text, comments[1].Text)
	}
	for i, c := range comments {
		if c.Timestamp.IsZero() {
			t.Errorf("comment %d has zero timestamp", i)
		}
		if !strings.HasPrefix(c.String(), "[") {
			t.Errorf("comment %d serialized without timestamp prefix: %q", i, c.String())
		}
	}
}

func TestStore_ListEmpty(t *testing.T) {
	s := testStore(t)
	if got := s.List("/img/never.jpg"); len(got) != 0 {
		t.Errorf("List on empty store = %v", got)
	}
}

func TestStore_AppendTooLong(t *testing.T) {
	s := testStore(t)
	_, err := s.Append("/img/a.jpg", strings.Repeat("x", 101))
	if !errors.Is(err, ErrCommentTooLong) {
		t.Fatalf("expected ErrCommentTooLong, got %v", err)
	}
	if len(s.List("/img/a.jpg")) != 0 {
		t.Error("rejected comment was persisted")
	}
	// Rune count, not byte count: 100 multibyte runes are fine.
	if _, err := s.Append("/img/a.jpg", strings.Repeat("ä", 100)); err != nil {
		t.Errorf("100-rune comment rejected: %v", err)
	}
}

func TestStore_PersistsAcrossInstances(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comments.json")
	s1 := NewStore(path, 100)
	if _, err := s1.Append("/img/a.jpg", "hello"); err != nil {
		t.Fatal(err)
	}

	s2 := NewStore(path, 100)
	comments := s2.List("/img/a.jpg")
	if len(comments) != 1 || comments[0].Text != "hello" {
		t.Errorf("comments after reopen = %v", comments)
	}
}

func TestStore_MalformedFileTreatedAsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "comments.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path, 100)
	if got := s.List("/img/a.jpg"); len(got) != 0 {
		t.Errorf("List on malformed file = %v", got)
	}
	// Appending over a malformed file starts a fresh log.
	if _, err := s.Append("/img/a.jpg", "fresh"); err != nil {
		t.Fatal(err)
	}
	if got := s.List("/img/a.jpg"); len(got) != 1 {
		t.Errorf("got %d comments after repair, want 1", len(got))
	}
}

func TestStore_ListAnnotated(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.Local)
	clock := now
	s := testStore(t, withNow(func() time.Time { return clock }))

	if _, err := s.Append("/img/a.jpg", "nice"); err != nil {
		t.Fatal(err)
	}
	clock = now.Add(time.Minute)
	if _, err := s.Append("/img/a.jpg", "great"); err != nil {
		t.Fatal(err)
	}
	clock = now.Add(2 * time.Minute)
	if _, err := s.Append("/img/b.jpg", "hm"); err != nil {
		t.Fatal(err)
	}
	clock = now.Add(3 * time.Minute)
	if _, err := s.Append("/img/orphan.jpg", "gone"); err != nil {
		t.Fatal(err)
	}

	known := []string{"/img/a.jpg", "/img/b.jpg", "/img/c.jpg"}
	got := s.ListAnnotated(known)
	if len(got) != 2 {
		t.Fatalf("got %d annotated images, want 2 (orphan and uncommented excluded)", len(got))
	}
	// b has the newer latest comment, so it sorts first.
	if got[0].Path != "/img/b.jpg" || got[1].Path != "/img/a.jpg" {
		t.Errorf("order = [%s %s], want [b a]", got[0].Path, got[1].Path)
	}
	if got[1].Count != 2 || got[1].Latest != "great" {
		t.Errorf("a.jpg summary = %+v, want count=2 latest=great", got[1])
	}
	if !got[0].LatestAt.Equal(now.Add(2 * time.Minute)) {
		t.Errorf("b.jpg LatestAt = %v", got[0].LatestAt)
	}
}
