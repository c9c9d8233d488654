package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/joplin"
	"github.com/kalambet/jopper/internal/state"
)

// Source reads notes from Joplin.
type Source interface {
	ListNotes(ctx context.Context) ([]joplin.Note, error)
	ListNotesByTags(ctx context.Context, names []string) ([]joplin.Note, error)
	NotebookTitle(ctx context.Context, id string) string
}

// Destination stores rendered notes as files in OpenWebUI.
type Destination interface {
	CollectionID() string
	SyncNote(ctx context.Context, noteID, title, content string) (string, error)
	DeleteFile(ctx context.Context, fileID string) error
}

// Store is the persisted sync state.
type Store interface {
	Get(noteID string) (state.NoteRecord, error)
	HasChanged(noteID, content string) (bool, error)
	Upsert(noteID, title, content, fileID string) error
	AllKnownIDs() (map[string]struct{}, error)
	Delete(noteID string) error
	AppendRunLog(run state.RunLog) error
}

// RunResult is the outcome of one reconciliation run.
type RunResult struct {
	RunID    string        `json:"run_id"`
	Created  int           `json:"notes_synced"`
	Updated  int           `json:"notes_updated"`
	Deleted  int           `json:"notes_deleted"`
	Errors   int           `json:"errors"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration_ns"`
	// Interrupted is set when the context was cancelled part way through.
	Interrupted bool `json:"interrupted,omitempty"`
}

// Options configures an Engine.
type Options struct {
	Mode   string
	Tags   []string
	Logger *slog.Logger
	// AfterRun, when set, is called with the result of every run that got as
	// far as writing its run log.
	AfterRun func(ctx context.Context, res RunResult)
}

// Engine reconciles the OpenWebUI file set with the current Joplin notes.
type Engine struct {
	src   Source
	dst   Destination
	store Store
	opts  Options
	log   *slog.Logger
	now   func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(src Source, dst Destination, store Store, opts Options) *Engine {
	if opts.Mode == "" {
		opts.Mode = config.ModeAll
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		src:   src,
		dst:   dst,
		store: store,
		opts:  opts,
		log:   logger.With("component", "syncer"),
		now:   time.Now,
	}
}

// Run performs one reconciliation pass.
//
// Per-note failures are counted in the result and never abort the run. An
// error is returned only when the run cannot start: the notes or the known
// ids could not be read. No run log is written in that case. Tagged mode
// without tags is a successful run that touches nothing.
//
// Cancelling ctx stops the run between notes. The note in progress still
// finishes, since its calls run on a context that ignores cancellation, and
// the partial counts are logged.
func (e *Engine) Run(ctx context.Context) (RunResult, error) {
	work := context.WithoutCancel(ctx)
	start := e.now()
	res := RunResult{RunID: uuid.New().String()}
	log := e.log.With("run_id", res.RunID)

	log.Info("starting sync")
	if id := e.dst.CollectionID(); id != "" {
		log.Info("using collection", "collection_id", id)
	} else {
		log.Debug("no collection configured; files are uploaded without one")
	}

	if e.opts.Mode == config.ModeTagged && len(e.opts.Tags) == 0 {
		log.Warn("sync mode is tagged but no tags are configured; nothing to sync")
		res.Success = true
		res.Duration = e.now().Sub(start)
		return res, nil
	}

	notes, err := e.fetch(work, log)
	if err != nil {
		res.Duration = e.now().Sub(start)
		return res, err
	}
	log.Info("fetched notes", "count", len(notes))

	known, err := e.store.AllKnownIDs()
	if err != nil {
		res.Duration = e.now().Sub(start)
		return res, fmt.Errorf("reading known notes: %w", err)
	}

	current := make(map[string]struct{}, len(notes))
	for _, n := range notes {
		current[n.ID] = struct{}{}
	}

	for _, n := range notes {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		e.syncNote(work, log, n, known, &res)
	}

	for _, id := range deletedIDs(known, current) {
		if ctx.Err() != nil {
			res.Interrupted = true
			break
		}
		e.deleteNote(work, log, id, &res)
	}

	res.Success = true
	res.Duration = e.now().Sub(start)

	if err := e.store.AppendRunLog(state.RunLog{
		RunID:    res.RunID,
		Created:  res.Created,
		Updated:  res.Updated,
		Deleted:  res.Deleted,
		Errors:   res.Errors,
		Duration: res.Duration,
	}); err != nil {
		log.Error("failed to write run log", "error", err)
	}

	if res.Interrupted {
		log.Warn("sync interrupted")
	}
	log.Info("sync complete",
		"created", res.Created,
		"updated", res.Updated,
		"deleted", res.Deleted,
		"errors", res.Errors,
		"duration", res.Duration,
	)

	if e.opts.AfterRun != nil {
		e.opts.AfterRun(work, res)
	}
	return res, nil
}

func (e *Engine) fetch(ctx context.Context, log *slog.Logger) ([]joplin.Note, error) {
	if e.opts.Mode != config.ModeTagged {
		log.Info("fetching all notes")
		notes, err := e.src.ListNotes(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching notes: %w", err)
		}
		return notes, nil
	}

	log.Info("fetching tagged notes", "tags", e.opts.Tags)
	notes, err := e.src.ListNotesByTags(ctx, e.opts.Tags)
	if err != nil {
		return nil, fmt.Errorf("fetching tagged notes: %w", err)
	}
	return notes, nil
}

// render resolves the notebook title and renders the note.
func (e *Engine) render(ctx context.Context, n joplin.Note) string {
	var notebook string
	if n.ParentID != "" {
		notebook = e.src.NotebookTitle(ctx, n.ParentID)
	}
	return Render(n, notebook)
}

func (e *Engine) syncNote(ctx context.Context, log *slog.Logger, n joplin.Note, known map[string]struct{}, res *RunResult) {
	title := noteTitle(n)
	log = log.With("note_id", n.ID, "title", title)
	content := e.render(ctx, n)

	changed, err := e.store.HasChanged(n.ID, content)
	if err != nil {
		log.Error("checking note state", "error", err)
		res.Errors++
		return
	}
	if !changed {
		log.Debug("note unchanged, skipping")
		return
	}

	_, isKnown := known[n.ID]
	if isKnown {
		rec, err := e.store.Get(n.ID)
		switch {
		case err == nil && rec.FileID != "":
			log.Info("deleting previous version", "file_id", rec.FileID)
			if err := e.dst.DeleteFile(ctx, rec.FileID); err != nil {
				log.Warn("could not delete previous version, uploading anyway", "file_id", rec.FileID, "error", err)
			}
		case err != nil && !errors.Is(err, state.ErrNotFound):
			log.Warn("reading note state", "error", err)
		}
		log.Info("updating note")
	} else {
		log.Info("syncing new note")
	}

	fileID, err := e.dst.SyncNote(ctx, n.ID, title, content)
	if err != nil {
		log.Error("failed to sync note", "error", err)
		res.Errors++
		return
	}

	if err := e.store.Upsert(n.ID, title, content, fileID); err != nil {
		log.Error("failed to record synced note", "file_id", fileID, "error", err)
		res.Errors++
		return
	}

	if isKnown {
		res.Updated++
	} else {
		res.Created++
	}
}

func (e *Engine) deleteNote(ctx context.Context, log *slog.Logger, id string, res *RunResult) {
	log = log.With("note_id", id)

	rec, err := e.store.Get(id)
	if err != nil && !errors.Is(err, state.ErrNotFound) {
		log.Error("reading note state", "error", err)
		res.Errors++
		return
	}

	if rec.FileID != "" {
		log.Info("deleting note from OpenWebUI", "title", rec.Title, "file_id", rec.FileID)
		if err := e.dst.DeleteFile(ctx, rec.FileID); err != nil {
			log.Error("failed to delete file", "file_id", rec.FileID, "error", err)
			res.Errors++
			return
		}
	}

	if err := e.store.Delete(id); err != nil {
		log.Error("failed to remove note state", "error", err)
		res.Errors++
		return
	}
	res.Deleted++
}

// deletedIDs returns the known ids missing from current, sorted.
func deletedIDs(known, current map[string]struct{}) []string {
	var ids []string
	for id := range known {
		if _, ok := current[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}
