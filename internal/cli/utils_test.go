package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/miru/internal/models"
)

func TestWriteSearchResults_JSON(t *testing.T) {
	response := &models.SearchResponse{
		Query: "a red car",
		Results: []models.SearchResult{
			{
				Path:       "/photos/car.jpg",
				Filename:   "car.jpg",
				Similarity: 0.91,
				MTime:      time.Now().UnixNano(),
				Size:       2048,
				Rank:       1,
			},
		},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputJSON); err != nil {
		t.Fatalf("WriteSearchResults(json): %v", err)
	}
	var decoded models.SearchResponse
	if err := json.NewDecoder(&buf).Decode(&decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v", err)
	}
	if decoded.Query != response.Query {
		t.Errorf("decoded query = %q, want %q", decoded.Query, response.Query)
	}
	if len(decoded.Results) != 1 || decoded.Results[0].Path != "/photos/car.jpg" {
		t.Errorf("decoded results = %+v", decoded.Results)
	}
}

func TestWriteSearchResults_Text(t *testing.T) {
	response := &models.SearchResponse{
		Query: "sunset",
		Results: []models.SearchResult{
			{Path: "/photos/a.jpg", Filename: "a.jpg", Similarity: 0.87, Size: 1024, Rank: 1},
			{Path: "/photos/b.jpg", Filename: "b.jpg", Similarity: 0.54, Size: 4096, Rank: 2},
		},
	}
	var buf bytes.Buffer
	if err := WriteSearchResults(&buf, response, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "Found 2 results") {
		t.Errorf("missing result count: %s", out)
	}
	if !strings.Contains(out, "a.jpg") || !strings.Contains(out, "b.jpg") {
		t.Errorf("missing filenames: %s", out)
	}
	if !strings.Contains(out, "0.8700") {
		t.Errorf("missing similarity: %s", out)
	}
}

func TestWriteComments(t *testing.T) {
	t1 := time.Date(2025, 1, 2, 10, 0, 0, 0, time.Local)
	t2 := time.Date(2025, 1, 3, 11, 30, 0, 0, time.Local)
	comments := []models.Comment{
		{Timestamp: t1, Text: "first"},
		{Timestamp: t2, Text: "second"},
	}
	var buf bytes.Buffer
	WriteComments(&buf, "/photos/a.jpg", comments)
	out := buf.String()
	if !strings.Contains(out, "2 comments on /photos/a.jpg") {
		t.Errorf("missing header: %s", out)
	}
	if !strings.Contains(out, "[2025-01-02 10:00:00] first") {
		t.Errorf("missing formatted comment: %s", out)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{5 * 1024 * 1024, "5.0 MB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.bytes); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.bytes, got, tt.want)
		}
	}
}
