package models

// SortOrder selects how search results are ordered.
type SortOrder string

const (
	// SortBySimilarity keeps the vector store's descending-score order (default).
	SortBySimilarity SortOrder = "similarity"
	// SortByTime re-orders the selected results by modification time, newest
	// first. The selection itself is unchanged; only the order differs.
	SortByTime SortOrder = "time"
)

// SearchResult is a single search hit joined with catalog metadata.
type SearchResult struct {
	Path       string  `json:"path"`
	Filename   string  `json:"filename"`
	Similarity float64 `json:"similarity"`
	MTime      int64   `json:"mtime"`
	Size       int64   `json:"size"`
	Rank       int     `json:"rank"`
}

// SearchRequest is the request for a text search.
type SearchRequest struct {
	Folder string    `json:"folder"`
	Query  string    `json:"query"`
	Limit  int       `json:"limit,omitempty"`
	SortBy SortOrder `json:"sort_by,omitempty"`
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
	Query   string         `json:"query,omitempty"`
}
