package syncer

import (
	"fmt"
	"time"

	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/state"
)

// StatsReader is the part of the store status reporting needs.
type StatsReader interface {
	Stats() (state.Stats, error)
}

// ConfigSummary is the non-secret part of the configuration shown by status.
type ConfigSummary struct {
	JoplinHost          string   `json:"joplin_host"`
	OpenWebUIURL        string   `json:"openwebui_url"`
	KnowledgeBaseName   string   `json:"knowledge_base_name"`
	CollectionID        string   `json:"collection_id,omitempty"`
	SyncMode            string   `json:"sync_mode"`
	SyncTags            []string `json:"sync_tags"`
	SyncIntervalMinutes int      `json:"sync_interval"`
	StatePath           string   `json:"state_db_path"`
}

// LastRun is the most recent run log entry.
type LastRun struct {
	RunID      string    `json:"run_id,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
	Created    int       `json:"notes_synced"`
	Updated    int       `json:"notes_updated"`
	Deleted    int       `json:"notes_deleted"`
	Errors     int       `json:"errors"`
	DurationMS int64     `json:"duration_ms"`
}

// Stats is the store summary shown by status.
type Stats struct {
	TotalNotes int      `json:"total_notes"`
	LastSync   *LastRun `json:"last_sync"`
}

// Status combines the active configuration with the store statistics.
type Status struct {
	Config ConfigSummary `json:"config"`
	Stats  Stats         `json:"stats"`
}

// Summarize returns the non-secret configuration summary.
func Summarize(cfg config.Config) ConfigSummary {
	tags := cfg.Sync.Tags
	if tags == nil {
		tags = []string{}
	}
	return ConfigSummary{
		JoplinHost:          fmt.Sprintf("%s:%d", cfg.Joplin.Host, cfg.Joplin.Port),
		OpenWebUIURL:        cfg.OpenWebUI.URL,
		KnowledgeBaseName:   cfg.OpenWebUI.KnowledgeBaseName,
		CollectionID:        cfg.OpenWebUI.CollectionID,
		SyncMode:            cfg.Sync.Mode,
		SyncTags:            tags,
		SyncIntervalMinutes: cfg.Sync.IntervalMinutes,
		StatePath:           cfg.State.Path,
	}
}

// ReadStatus reads the store statistics. It does not modify anything.
func ReadStatus(cfg config.Config, store StatsReader) (Status, error) {
	st, err := store.Stats()
	if err != nil {
		return Status{}, fmt.Errorf("reading sync stats: %w", err)
	}
	return Status{
		Config: Summarize(cfg),
		Stats: Stats{
			TotalNotes: st.TotalNotes,
			LastSync:   FromRunLog(st.LastRun),
		},
	}, nil
}

// FromRunLog converts a stored run log row; nil stays nil.
func FromRunLog(r *state.RunLog) *LastRun {
	if r == nil {
		return nil
	}
	return &LastRun{
		RunID:      r.RunID,
		Timestamp:  r.Timestamp,
		Created:    r.Created,
		Updated:    r.Updated,
		Deleted:    r.Deleted,
		Errors:     r.Errors,
		DurationMS: r.Duration.Milliseconds(),
	}
}

// SyncedNote is a tracked note as shown by the listing surfaces.
type SyncedNote struct {
	NoteID     string    `json:"note_id"`
	Title      string    `json:"title"`
	LastSynced time.Time `json:"last_synced"`
	FileID     string    `json:"file_id,omitempty"`
}

// FromRecords converts stored note records; the result is never nil.
func FromRecords(recs []state.NoteRecord) []SyncedNote {
	out := make([]SyncedNote, 0, len(recs))
	for _, r := range recs {
		out = append(out, SyncedNote{
			NoteID:     r.NoteID,
			Title:      r.Title,
			LastSynced: r.LastSynced,
			FileID:     r.FileID,
		})
	}
	return out
}

// FromRunLogs converts stored run log rows; the result is never nil.
func FromRunLogs(runs []state.RunLog) []LastRun {
	out := make([]LastRun, 0, len(runs))
	for i := range runs {
		out = append(out, *FromRunLog(&runs[i]))
	}
	return out
}
