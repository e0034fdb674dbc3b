package models

import (
	"fmt"
	"strings"
	"time"
)

// CommentTimeLayout is the timestamp layout used in the persisted comment log.
const CommentTimeLayout = "2006-01-02 15:04:05"

// Comment is one timestamped annotation on an image.
type Comment struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
}

// String renders the comment in its persisted form: "[timestamp] text".
func (c Comment) String() string {
	return fmt.Sprintf("[%s] %s", c.Timestamp.Format(CommentTimeLayout), c.Text)
}

// ParseComment parses the persisted "[timestamp] text" form. Entries without
// a parseable timestamp prefix keep the whole string as text and a zero
// timestamp; the comment log is non-critical, so nothing is rejected.
func ParseComment(raw string) Comment {
	if strings.HasPrefix(raw, "[") {
		if end := strings.Index(raw, "] "); end > 0 {
			if ts, err := time.ParseInLocation(CommentTimeLayout, raw[1:end], time.Local); err == nil {
				return Comment{Timestamp: ts, Text: raw[end+2:]}
			}
		}
	}
	return Comment{Text: raw}
}

// AnnotatedImage summarizes the comments on one indexed image.
type AnnotatedImage struct {
	Path     string    `json:"path"`
	Filename string    `json:"filename"`
	Count    int       `json:"comment_count"`
	Latest   string    `json:"latest_comment"`
	LatestAt time.Time `json:"latest_comment_at"`
}
