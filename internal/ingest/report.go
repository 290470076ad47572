package ingest

import (
	"time"

	"github.com/danuarta/mailarchive-backend/internal/mailsource"
)

// Session states
const (
	StateIdle      = "IDLE"
	StateRunning   = "RUNNING"
	StateCompleted = "COMPLETED"
	StateCanceled  = "CANCELED"
	StateFailed    = "FAILED"
)

// SourceReport holds per-source counts for one ingestion session.
type SourceReport struct {
	Source  string          `json:"source"`
	Code    mailsource.Code `json:"code,omitempty"`
	Seen    int             `json:"seen"`
	Loaded  int             `json:"loaded"`
	Skipped int             `json:"skipped"`
	Failed  int             `json:"failed"`
}

// SessionReport is the best-effort summary every session produces, even
// when individual sources or messages failed.
type SessionReport struct {
	State      string         `json:"state"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Sources    []SourceReport `json:"sources"`
	Error      string         `json:"error,omitempty"`
}

// TotalLoaded sums archived messages across sources.
func (r *SessionReport) TotalLoaded() int {
	total := 0
	for _, s := range r.Sources {
		total += s.Loaded
	}
	return total
}

// TotalFailed sums failed messages across sources.
func (r *SessionReport) TotalFailed() int {
	total := 0
	for _, s := range r.Sources {
		total += s.Failed
	}
	return total
}
