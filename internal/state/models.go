package state

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// NoteRecord is the persisted sync state of a single Joplin note.
// A record exists only while an uploaded file is believed to exist in OpenWebUI.
type NoteRecord struct {
	NoteID      string
	Title       string
	ContentHash string
	LastSynced  time.Time
	FileID      string // empty when no file id was recorded
}

// RunLog is one row of the append-only sync log.
type RunLog struct {
	ID        int64
	RunID     string
	Timestamp time.Time
	Created   int
	Updated   int
	Deleted   int
	Errors    int
	Duration  time.Duration
}

// Stats summarises the store for status reporting.
type Stats struct {
	TotalNotes int
	LastRun    *RunLog
}
