package localsync

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestTrash(t *testing.T) (*Trash, *MemoryStore, *fakeClock) {
	t.Helper()
	store := NewMemoryStore()
	clk := newFakeClock()
	return NewTrash(store, clk, DefaultGraceWindow, nil), store, clk
}

func TestRestoreWithinGraceWindow(t *testing.T) {
	trash, _, clk := newTestTrash(t)

	trash.Add(Record{LocalID: "local-42", Title: "Buy milk"})

	clk.Advance(59 * time.Second)
	rec, ok := trash.Take("local-42")
	require.True(t, ok, "restore at 59s must succeed")
	require.Equal(t, "Buy milk", rec.Title)
}

func TestRestoreAfterGraceWindowFails(t *testing.T) {
	trash, _, clk := newTestTrash(t)

	trash.Add(Record{LocalID: "local-42", Title: "Buy milk"})

	clk.Advance(61 * time.Second)
	_, ok := trash.Take("local-42")
	require.False(t, ok, "restore at 61s must fail")
}

func TestDoubleDeleteIsNoOp(t *testing.T) {
	trash, _, clk := newTestTrash(t)

	first := trash.Add(Record{LocalID: "local-1"})
	clk.Advance(10 * time.Second)
	second := trash.Add(Record{LocalID: "local-1"})

	require.Equal(t, first, second, "repeat delete returns the existing entry")
	require.Len(t, trash.Entries(), 1)
}

func TestLazyPurgeRewritesPersistedHoldingArea(t *testing.T) {
	trash, store, clk := newTestTrash(t)

	trash.Add(Record{LocalID: "old"})
	clk.Advance(30 * time.Second)
	trash.Add(Record{LocalID: "young"})

	// Expire only the first entry, then read: the read is the purge
	// trigger and must rewrite storage.
	clk.Advance(40 * time.Second)
	entries := trash.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "young", entries[0].Record.LocalID)

	persisted, err := store.LoadTrash()
	require.NoError(t, err)
	require.Len(t, persisted, 1)
	require.Equal(t, "young", persisted[0].Record.LocalID)
}

func TestUnreadHoldingAreaKeepsExpiredEntriesInStorage(t *testing.T) {
	trash, store, clk := newTestTrash(t)

	trash.Add(Record{LocalID: "forgotten"})
	clk.Advance(2 * time.Minute)

	// Nothing read the holding area, so storage still has the entry.
	persisted, err := store.LoadTrash()
	require.NoError(t, err)
	require.Len(t, persisted, 1)

	// First read drops it everywhere.
	require.Empty(t, trash.Entries())
	persisted, err = store.LoadTrash()
	require.NoError(t, err)
	require.Empty(t, persisted)
}

func TestRestoreAfterIDReconciliation(t *testing.T) {
	trash, _, _ := newTestTrash(t)

	trash.Add(Record{LocalID: "local-42", Title: "Buy milk"})
	trash.RewriteIDs(map[string]string{"local-42": "remote-7"})

	// Restorable under the server identifier...
	rec, ok := trash.Take("remote-7")
	require.True(t, ok)
	require.Equal(t, "remote-7", rec.RemoteID)
	require.Equal(t, "local-42", rec.LocalID)

	// ...and the stale local key still resolves too.
	trash.Add(rec)
	rec, ok = trash.Take("local-42")
	require.True(t, ok)
	require.Equal(t, "remote-7", rec.RemoteID)
}

func TestTrashSurvivesReload(t *testing.T) {
	store := NewMemoryStore()
	clk := newFakeClock()

	first := NewTrash(store, clk, DefaultGraceWindow, nil)
	first.Add(Record{LocalID: "local-1", Title: "parked"})

	second := NewTrash(store, clk, DefaultGraceWindow, nil)
	second.Load()
	entries := second.Entries()
	require.Len(t, entries, 1)
	require.Equal(t, "parked", entries[0].Record.Title)
}
