package domain

import "time"

// SyncCursor marks the newest item archived for a collection.
type SyncCursor struct {
	Collection Collection `db:"collection"`
	LastSeenID *string    `db:"last_seen_id"`
	UpdatedAt  time.Time  `db:"updated_at"`
}

// Boundary returns the recorded last-seen id, or "" on a first run.
func (c *SyncCursor) Boundary() string {
	if c == nil || c.LastSeenID == nil {
		return ""
	}
	return *c.LastSeenID
}

type SyncState string

const (
	StateInit      SyncState = "INIT"
	StateStreaming SyncState = "STREAMING"
	StateDone      SyncState = "DONE"
	StateAborted   SyncState = "ABORTED"
)

type Outcome string

const (
	OutcomeArchived Outcome = "archived"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// ItemResult is the outcome of processing a single remote item.
type ItemResult struct {
	PostID      string
	Outcome     Outcome
	Reason      string
	Err         error
	MediaOK     int
	MediaFailed int
}

func Archived(id string) ItemResult {
	return ItemResult{PostID: id, Outcome: OutcomeArchived}
}

func Skipped(id, reason string) ItemResult {
	return ItemResult{PostID: id, Outcome: OutcomeSkipped, Reason: reason}
}

func Failed(id string, err error) ItemResult {
	return ItemResult{PostID: id, Outcome: OutcomeFailed, Err: err}
}

// SyncStats holds statistics about one collection pass.
type SyncStats struct {
	Collection   Collection
	State        SyncState
	Pages        int
	PageErrors   int
	Archived     int
	Skipped      int
	Failed       int
	MediaOK      int
	MediaFailed  int
	CursorBefore string
	CursorAfter  string
	Results      []ItemResult
	Duration     time.Duration
}

func (s *SyncStats) Record(r ItemResult) {
	switch r.Outcome {
	case OutcomeArchived:
		s.Archived++
	case OutcomeSkipped:
		s.Skipped++
	case OutcomeFailed:
		s.Failed++
	}
	s.MediaOK += r.MediaOK
	s.MediaFailed += r.MediaFailed
	s.Results = append(s.Results, r)
}

// RunSummary aggregates every collection pass of one run.
type RunSummary struct {
	RunID       string
	StartedAt   time.Time
	Collections []*SyncStats
	Aborted     bool
	Duration    time.Duration
}

func (r *RunSummary) TotalArchived() int {
	total := 0
	for _, s := range r.Collections {
		total += s.Archived
	}
	return total
}
