package syncer

import (
	"errors"
	"testing"
	"time"

	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type statsFunc func() (state.Stats, error)

func (f statsFunc) Stats() (state.Stats, error) { return f() }

func testConfig() config.Config {
	return config.Config{
		Joplin:    config.JoplinConfig{Host: "localhost", Port: 41184, Token: "secret"},
		OpenWebUI: config.OpenWebUIConfig{URL: "http://owui", APIKey: "key", KnowledgeBaseName: "Joplin Notes"},
		Sync:      config.SyncConfig{Mode: config.ModeAll, IntervalMinutes: 60},
		State:     config.StateConfig{Path: "/tmp/state.db"},
	}
}

func TestReadStatus(t *testing.T) {
	ts := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	store := statsFunc(func() (state.Stats, error) {
		return state.Stats{TotalNotes: 7, LastRun: &state.RunLog{RunID: "r", Timestamp: ts, Created: 1, Errors: 2, Duration: 2 * time.Second}}, nil
	})

	st, err := ReadStatus(testConfig(), store)
	require.NoError(t, err)

	assert.Equal(t, "localhost:41184", st.Config.JoplinHost)
	assert.Equal(t, []string{}, st.Config.SyncTags)
	assert.Equal(t, 7, st.Stats.TotalNotes)
	require.NotNil(t, st.Stats.LastSync)
	assert.Equal(t, ts, st.Stats.LastSync.Timestamp)
	assert.Equal(t, int64(2000), st.Stats.LastSync.DurationMS)
	assert.Equal(t, 2, st.Stats.LastSync.Errors)
}

func TestReadStatus_NoRuns(t *testing.T) {
	st, err := ReadStatus(testConfig(), statsFunc(func() (state.Stats, error) { return state.Stats{}, nil }))
	require.NoError(t, err)
	assert.Nil(t, st.Stats.LastSync)
}

func TestReadStatus_StoreError(t *testing.T) {
	_, err := ReadStatus(testConfig(), statsFunc(func() (state.Stats, error) { return state.Stats{}, errors.New("locked") }))
	assert.Error(t, err)
}

func TestFromRecordsAndRuns(t *testing.T) {
	assert.Equal(t, []SyncedNote{}, FromRecords(nil))
	assert.Equal(t, []LastRun{}, FromRunLogs(nil))

	ts := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	notes := FromRecords([]state.NoteRecord{{NoteID: "n", Title: "T", ContentHash: "h", LastSynced: ts, FileID: "f"}})
	assert.Equal(t, []SyncedNote{{NoteID: "n", Title: "T", LastSynced: ts, FileID: "f"}}, notes)

	runs := FromRunLogs([]state.RunLog{{RunID: "a", Duration: time.Second}, {RunID: "b"}})
	require.Len(t, runs, 2)
	assert.Equal(t, "a", runs[0].RunID)
	assert.Equal(t, int64(1000), runs[0].DurationMS)
	assert.Equal(t, "b", runs[1].RunID)
}
