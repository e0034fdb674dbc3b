// Package models defines core data structures for indexed images, search
// requests, and comments.
package models

import "time"

// ImageRecord is one indexed image: its absolute path plus file metadata.
// The record at catalog position i corresponds to the vector at position i
// in the vector store; that alignment is the central invariant of the index.
type ImageRecord struct {
	Path  string `json:"path"`
	MTime int64  `json:"mtime"` // unix nanoseconds
	Size  int64  `json:"size"`
}

// ModTime returns the record's modification time.
func (r ImageRecord) ModTime() time.Time {
	return time.Unix(0, r.MTime)
}

// IndexSummary reports the outcome of a build or update.
type IndexSummary struct {
	Added int `json:"added"`
	Total int `json:"total"`
}
