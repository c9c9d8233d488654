package state

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists per-note sync state and the sync run log in a SQLite file.
//
// A connection is opened for every operation and closed before it returns, so
// no handle is held across a sync run.
type Store struct {
	path string
	now  func() time.Time
}

// Open creates the database file (and its parent directories) if needed and
// applies pending migrations. A failure here is fatal to the caller.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("state database path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &Store{path: path, now: time.Now}
	err := s.withDB(func(db *sql.DB) error {
		return migrate(db)
	})
	if err != nil {
		return nil, fmt.Errorf("initializing state database: %w", err)
	}
	return s, nil
}

// Path returns the location of the database file.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) withDB(fn func(db *sql.DB) error) error {
	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	// A single connection keeps the pragma below in effect for every statement.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("setting busy timeout: %w", err)
	}
	return fn(db)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func migrate(db *sql.DB) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	var versions []int
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query("SELECT version FROM schema_version ORDER BY version ASC")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var v int
			if err := rows.Scan(&v); err != nil {
				return err
			}
			versions = append(versions, v)
		}
		return rows.Err()
	})
	return versions, err
}

// --- Notes ---

// Get returns the record for noteID, or ErrNotFound.
func (s *Store) Get(noteID string) (NoteRecord, error) {
	var rec NoteRecord
	err := s.withDB(func(db *sql.DB) error {
		var lastSynced string
		var fileID sql.NullString
		err := db.QueryRow(`
			SELECT note_id, title, content_hash, last_synced, openwebui_file_id
			FROM notes WHERE note_id = ?`, noteID,
		).Scan(&rec.NoteID, &rec.Title, &rec.ContentHash, &lastSynced, &fileID)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		rec.FileID = fileID.String
		rec.LastSynced, err = parseTime(lastSynced)
		return err
	})
	if err != nil {
		return NoteRecord{}, err
	}
	return rec, nil
}

// HasChanged reports whether content differs from what was last synced for
// noteID. A note without a record is always considered changed.
func (s *Store) HasChanged(noteID, content string) (bool, error) {
	rec, err := s.Get(noteID)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return rec.ContentHash != Hash(content), nil
}

// Upsert records that content for noteID was pushed as fileID. The digest is
// computed here and last_synced is set to the current time. An empty fileID
// is stored as NULL.
func (s *Store) Upsert(noteID, title, content, fileID string) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO notes (note_id, title, content_hash, last_synced, openwebui_file_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(note_id) DO UPDATE SET
				title = excluded.title,
				content_hash = excluded.content_hash,
				last_synced = excluded.last_synced,
				openwebui_file_id = excluded.openwebui_file_id`,
			noteID, title, Hash(content), formatTime(s.now()), nullString(fileID),
		)
		return err
	})
}

// AllKnownIDs returns the ids of every note that has a record.
func (s *Store) AllKnownIDs() (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query("SELECT note_id FROM notes")
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids[id] = struct{}{}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Delete removes the record for noteID. Deleting a missing record is not an error.
func (s *Store) Delete(noteID string) error {
	return s.withDB(func(db *sql.DB) error {
		_, err := db.Exec("DELETE FROM notes WHERE note_id = ?", noteID)
		return err
	})
}

// ListRecords returns up to limit records ordered by most recently synced.
func (s *Store) ListRecords(limit int) ([]NoteRecord, error) {
	var records []NoteRecord
	err := s.withDB(func(db *sql.DB) error {
		rows, err := db.Query(`
			SELECT note_id, title, content_hash, last_synced, openwebui_file_id
			FROM notes ORDER BY last_synced DESC, note_id ASC LIMIT ?`, limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rec NoteRecord
			var lastSynced string
			var fileID sql.NullString
			if err := rows.Scan(&rec.NoteID, &rec.Title, &rec.ContentHash, &lastSynced, &fileID); err != nil {
				return err
			}
			rec.FileID = fileID.String
			if rec.LastSynced, err = parseTime(lastSynced); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	return records, err
}

// --- Sync log ---

// AppendRunLog inserts a run log row. A zero Timestamp is replaced by the current time.
func (s *Store) AppendRunLog(run RunLog) error {
	ts := run.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	return s.withDB(func(db *sql.DB) error {
		_, err := db.Exec(`
			INSERT INTO sync_log (run_id, timestamp, notes_synced, notes_updated, notes_deleted, errors, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			run.RunID, formatTime(ts), run.Created, run.Updated, run.Deleted, run.Errors, run.Duration.Milliseconds(),
		)
		return err
	})
}

// RecentRuns returns up to limit run log rows, newest first.
func (s *Store) RecentRuns(limit int) ([]RunLog, error) {
	var runs []RunLog
	err := s.withDB(func(db *sql.DB) error {
		var err error
		runs, err = queryRuns(db, limit)
		return err
	})
	return runs, err
}

// Stats returns the number of tracked notes and the most recent run, if any.
func (s *Store) Stats() (Stats, error) {
	var st Stats
	err := s.withDB(func(db *sql.DB) error {
		if err := db.QueryRow("SELECT COUNT(*) FROM notes").Scan(&st.TotalNotes); err != nil {
			return fmt.Errorf("counting notes: %w", err)
		}
		runs, err := queryRuns(db, 1)
		if err != nil {
			return fmt.Errorf("reading last run: %w", err)
		}
		if len(runs) > 0 {
			st.LastRun = &runs[0]
		}
		return nil
	})
	return st, err
}

func queryRuns(db *sql.DB, limit int) ([]RunLog, error) {
	rows, err := db.Query(`
		SELECT id, run_id, timestamp, notes_synced, notes_updated, notes_deleted, errors, duration_ms
		FROM sync_log ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []RunLog
	for rows.Next() {
		var r RunLog
		var ts string
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.RunID, &ts, &r.Created, &r.Updated, &r.Deleted, &r.Errors, &durationMS); err != nil {
			return nil, err
		}
		if r.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing timestamp %q: %w", s, err)
	}
	return t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
