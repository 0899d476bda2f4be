package modelstore

import "time"

// Model is the derived view of a resolved manifest — spec.md §3's
// "Model record" — with the text-bearing layers read in eagerly by
// Get (spec.md §4.5).
type Model struct {
	Name       string    `json:"name"`
	Tag        string    `json:"tag"`
	Digest     string    `json:"digest"`
	TotalSize  int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
	Family     string    `json:"family"`

	Template string `json:"template,omitempty"`
	System   string `json:"system,omitempty"`
	License  string `json:"license,omitempty"`
}

// PullProgress is one frame emitted during pull/push (spec.md §4.5).
type PullProgress struct {
	Status     string  `json:"status"`
	Digest     string  `json:"digest,omitempty"`
	Total      int64   `json:"total,omitempty"`
	Completed  int64   `json:"completed,omitempty"`
	Percentage float64 `json:"percentage,omitempty"`
}

// ProgressFunc receives pull/push/create progress frames.
type ProgressFunc func(PullProgress)
