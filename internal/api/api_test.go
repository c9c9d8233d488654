package api

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kalambet/jopper/internal/config"
	"github.com/kalambet/jopper/internal/state"
	"github.com/kalambet/jopper/internal/syncer"
)

const testToken = "test-token-12345"

type mockTrigger struct {
	mu    sync.Mutex
	calls int
	ctx   context.Context
	res   syncer.RunResult
	err   error
}

func (m *mockTrigger) TriggerNow(ctx context.Context) (syncer.RunResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.ctx = ctx
	return m.res, m.err
}

type failingStore struct{}

var errStore = errors.New("database is locked")

func (failingStore) Stats() (state.Stats, error) { return state.Stats{}, errStore }

func (failingStore) RecentRuns(int) ([]state.RunLog, error) { return nil, errStore }

func (failingStore) ListRecords(int) ([]state.NoteRecord, error) { return nil, errStore }

func testConfig() config.Config {
	return config.Config{
		Joplin:    config.JoplinConfig{Host: "localhost", Port: 41184, Token: "joplin-secret"},
		OpenWebUI: config.OpenWebUIConfig{URL: "http://owui", APIKey: "owui-secret", KnowledgeBaseName: "Joplin Notes"},
		Sync:      config.SyncConfig{Mode: config.ModeAll, IntervalMinutes: 60},
	}
}

// openSeededStore returns a store with two synced notes and two runs.
func openSeededStore(t *testing.T) *state.Store {
	t.Helper()
	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)

	require.NoError(t, store.Upsert("n1", "First", "one", "f1"))
	require.NoError(t, store.Upsert("n2", "Second", "two", "f2"))
	require.NoError(t, store.AppendRunLog(state.RunLog{RunID: "run-1", Created: 2, Duration: time.Second}))
	require.NoError(t, store.AppendRunLog(state.RunLog{RunID: "run-2", Updated: 1, Errors: 1}))
	return store
}
