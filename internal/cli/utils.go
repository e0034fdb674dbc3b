// Package cli provides CLI utilities for Miru.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/hyperjump/miru/internal/models"
)

// SearchOutputFormat is the format for search result output.
type SearchOutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText SearchOutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON SearchOutputFormat = "json"
)

// WriteSearchResults writes search results to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteSearchResults(w io.Writer, response *models.SearchResponse, format SearchOutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(response)
	default:
		writeSearchResultsText(w, response)
		return nil
	}
}

func writeSearchResultsText(w io.Writer, response *models.SearchResponse) {
	if response.Query != "" {
		fmt.Fprintf(w, "\nFound %d results for %q\n\n", len(response.Results), response.Query)
	} else {
		fmt.Fprintf(w, "\nFound %d results\n\n", len(response.Results))
	}
	for _, result := range response.Results {
		writeOneResult(w, result)
	}
}

func writeOneResult(w io.Writer, result models.SearchResult) {
	fmt.Fprintf(w, "%3d. %s  (%.4f)\n", result.Rank, result.Filename, result.Similarity)
	fmt.Fprintf(w, "     %s\n", result.Path)
	fmt.Fprintf(w, "     modified %s, %s\n",
		time.Unix(0, result.MTime).Format("2006-01-02 15:04:05"), FormatSize(result.Size))
}

// WriteComments writes an image's comments to w, oldest first.
func WriteComments(w io.Writer, path string, comments []models.Comment) {
	fmt.Fprintf(w, "\n%d comments on %s\n\n", len(comments), path)
	for _, c := range comments {
		fmt.Fprintf(w, "  %s\n", c.String())
	}
}

// PrintSearchResults prints search results to stdout in text format.
func PrintSearchResults(response *models.SearchResponse) {
	_ = WriteSearchResults(os.Stdout, response, OutputText)
}

// FormatSize renders a byte count in a human-readable unit.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGT"[exp])
}
