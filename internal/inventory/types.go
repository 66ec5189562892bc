package inventory

import (
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key has no record.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadySent guards the Unsent->Sent transition: it fires when a
	// second MarkSent races a completed one.
	ErrAlreadySent = errors.New("record already sent")
)

// MediaType classifies a record by its file extension at scan time.
type MediaType string

const (
	TypeImage     MediaType = "image"
	TypeAnimation MediaType = "animation"
	TypeVideo     MediaType = "video"
)

// Status is the dispatch lifecycle of a record. The transition
// Unsent -> Sent happens at most once; nothing moves a record back
// automatically.
type Status string

const (
	StatusUnsent Status = "unsent"
	StatusSent   Status = "sent"
)

// Record is one catalogued media file. Key is the canonical library-relative
// path and never changes after creation.
type Record struct {
	Key     string
	Type    MediaType
	Status  Status
	AddedAt time.Time
	SentAt  *time.Time
}

// DispatchEntry records one dispatch attempt for the audit trail.
// Keep it compact and schema-stable.
type DispatchEntry struct {
	ID      string // attempt id (uuid)
	At      time.Time
	Key     string // empty when selection never happened (e.g. exhausted)
	Trigger string // "timer" or "manual"
	Outcome string // "sent", "exhausted", "send_failed", "mark_failed"
	Error   string
	TookMS  int64
}

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}
