package lane

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "mcoda.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	return store
}

func TestSQLiteStore_LoadMissingLane(t *testing.T) {
	store := newSQLiteStore(t)

	_, found, err := store.LoadLane(context.Background(), "job_1:t:qa")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSQLiteStore_AppendAndLoadPreservesOrder(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	id := "job_1:task_2:qa"

	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.Append(ctx, id, Message{Role: "user", Content: "first", CreatedAt: now}))
	require.NoError(t, store.Append(ctx, id, Message{Role: "agent", Content: "second", CreatedAt: now.Add(time.Second)}))
	require.NoError(t, store.Append(ctx, id, Message{Role: "user", Content: "third", CreatedAt: now.Add(2 * time.Second)}))

	ln, found, err := store.LoadLane(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "qa", ln.Role)
	require.Len(t, ln.Messages, 3)
	assert.Equal(t, "first", ln.Messages[0].Content)
	assert.Equal(t, "third", ln.Messages[2].Content)
}

func TestSQLiteStore_ReplaceSwapsHistoryAndRedactions(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	id := "job_1:task_2:qa"

	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Append(ctx, id, Message{Role: "user", Content: "old", CreatedAt: now}))
	}

	replacement := []Message{
		{Role: RoleSystem, Content: "summary", CreatedAt: now},
		{Role: "user", Content: "latest", CreatedAt: now},
	}
	require.NoError(t, store.Replace(ctx, id, replacement, 3))

	ln, found, err := store.LoadLane(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	require.Len(t, ln.Messages, 2)
	assert.Equal(t, "summary", ln.Messages[0].Content)
	assert.Equal(t, 3, ln.Redactions)
}

func TestSQLiteStore_ManagerRoundTrip(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()

	m, err := NewManager(store, &fakeSummarizer{}, nil, defaultLimits())
	require.NoError(t, err)

	scope := Scope{JobID: "job_1", TaskID: "task_2", Role: "qa"}
	ln, err := m.GetLane(ctx, scope)
	require.NoError(t, err)
	require.NoError(t, m.Flush(ctx, ln.ID))
	require.NoError(t, m.Append(ctx, ln.ID, Message{Role: "user", Content: "hello"}))

	// A fresh manager sees the persisted history.
	m2, err := NewManager(store, &fakeSummarizer{}, nil, defaultLimits())
	require.NoError(t, err)
	ln2, err := m2.GetLane(ctx, scope)
	require.NoError(t, err)
	assert.True(t, ln2.Persisted)
	require.Len(t, ln2.Messages, 1)
	assert.Equal(t, "hello", ln2.Messages[0].Content)
}
