package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "pixelgrid/pkg/database"
	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

func setupTestDB(t *testing.T) *Manager {
	t.Helper()
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "test.db")

	manager, err := NewManager(config)
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return manager
}

func placement(id string, x, y int, color string) *types.Placement {
	return &types.Placement{
		ID:        id,
		UserID:    "user-" + id,
		X:         x,
		Y:         y,
		Color:     color,
		Timestamp: 1_700_000_000_000,
	}
}

func TestManager_AppendAssignsIncreasingSeq(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	var last int64
	for i := 0; i < 5; i++ {
		p := placement(fmt.Sprintf("p%d", i), i, i, "#00ff00")
		require.NoError(t, m.AppendPlacement(ctx, p))
		assert.Greater(t, p.Seq, last)
		last = p.Seq
	}

	all, err := m.ListPlacements(ctx)
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i, p := range all {
		assert.Equal(t, fmt.Sprintf("p%d", i), p.ID)
		assert.Equal(t, i, p.X)
		assert.Equal(t, "#00ff00", p.Color)
		assert.Equal(t, int64(1_700_000_000_000), p.Timestamp)
	}
}

func TestManager_ListPlacementsAfter(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, m.AppendPlacement(ctx, placement(fmt.Sprintf("p%d", i), 0, 0, "#000000")))
	}

	page, err := m.ListPlacementsAfter(ctx, 3, 4)
	require.NoError(t, err)
	require.Len(t, page, 4)
	assert.Equal(t, int64(4), page[0].Seq)
	assert.Equal(t, int64(7), page[3].Seq)

	rest, err := m.ListPlacementsAfter(ctx, 7, 0)
	require.NoError(t, err)
	assert.Len(t, rest, 3)

	none, err := m.ListPlacementsAfter(ctx, 10, 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestManager_PlacementsAreAppendOnly(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.AppendPlacement(ctx, placement("p1", 1, 1, "#111111")))

	_, err := m.GetDB().Exec("UPDATE placements SET color = '#222222'")
	assert.Error(t, err)
	_, err = m.GetDB().Exec("DELETE FROM placements")
	assert.Error(t, err)

	// Duplicate ids are rejected.
	assert.Error(t, m.AppendPlacement(ctx, placement("p1", 2, 2, "#111111")))
}

func TestManager_Balances(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	balance, err := m.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, balance)

	ok, err := m.DebitOne(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "unknown account has nothing to debit")

	balance, err = m.CreditAmount(ctx, "alice", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), balance)
	balance, err = m.CreditAmount(ctx, "alice", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance)

	_, err = m.CreditAmount(ctx, "alice", 0)
	assert.ErrorIs(t, err, interfaces.ErrInvalidAmount)

	for i := 0; i < 5; i++ {
		ok, err := m.DebitOne(ctx, "alice")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err = m.DebitOne(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	balance, err = m.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestManager_ConcurrentDebitsNeverOverspend(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	_, err := m.CreditAmount(ctx, "bob", 7)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	debited := 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := m.DebitOne(ctx, "bob")
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				debited++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 7, debited)
	balance, err := m.GetBalance(ctx, "bob")
	require.NoError(t, err)
	assert.Zero(t, balance)
}

func TestManager_Bans(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()

	ban, err := m.GetBan(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, ban)

	require.NoError(t, m.SetBan(ctx, &types.Ban{UserID: "carol", Reason: "spam"}))
	ban, err = m.GetBan(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, ban)
	assert.Nil(t, ban.Until, "permanent ban")
	assert.Equal(t, "spam", ban.Reason)
	assert.False(t, ban.CreatedAt.IsZero())

	until := time.UnixMilli(1_800_000_000_000)
	require.NoError(t, m.SetBan(ctx, &types.Ban{UserID: "carol", Until: &until}))
	ban, err = m.GetBan(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, ban.Until)
	assert.True(t, until.Equal(*ban.Until))
	assert.Empty(t, ban.Reason)

	require.NoError(t, m.LiftBan(ctx, "carol"))
	ban, err = m.GetBan(ctx, "carol")
	require.NoError(t, err)
	assert.Nil(t, ban)

	// Lifting a missing ban is not an error.
	assert.NoError(t, m.LiftBan(ctx, "nobody"))
}

func TestManager_ReopenKeepsData(t *testing.T) {
	config := dbconfig.DefaultConfig()
	config.DatabasePath = filepath.Join(t.TempDir(), "persist.db")
	ctx := context.Background()

	m, err := NewManager(config)
	require.NoError(t, err)
	require.NoError(t, m.AppendPlacement(ctx, placement("p1", 4, 5, "#abcdef")))
	_, err = m.CreditAmount(ctx, "dave", 9)
	require.NoError(t, err)
	require.NoError(t, m.Close())

	m, err = NewManager(config)
	require.NoError(t, err)
	defer m.Close()

	all, err := m.ListPlacements(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "#abcdef", all[0].Color)

	balance, err := m.GetBalance(ctx, "dave")
	require.NoError(t, err)
	assert.Equal(t, int64(9), balance)
}

func TestManager_HealthCheckAndClose(t *testing.T) {
	m := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, m.HealthCheck(ctx))

	require.NoError(t, m.Close())
	require.NoError(t, m.Close(), "second close is a no-op")

	err := m.AppendPlacement(ctx, placement("late", 0, 0, "#000000"))
	assert.ErrorIs(t, err, ErrManagerClosed)
	_, err = m.DebitOne(ctx, "alice")
	assert.ErrorIs(t, err, ErrManagerClosed)
}

func TestManager_CanceledContext(t *testing.T) {
	m := setupTestDB(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.AppendPlacement(ctx, placement("p1", 0, 0, "#000000"))
	assert.Error(t, err)
}

// blockWriter occupies the writer goroutine until the returned func is called.
func blockWriter(t *testing.T, m *Manager) func() {
	t.Helper()
	started := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- m.executeWrite(context.Background(), func(*sql.DB) error {
			close(started)
			<-release
			return nil
		})
	}()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("writer never picked up the blocking operation")
	}
	return func() {
		close(release)
		require.NoError(t, <-done)
	}
}

func TestManager_AppendDeadlineWhileQueuedIsNotCommitted(t *testing.T) {
	m := setupTestDB(t)
	unblock := blockWriter(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := m.AppendPlacement(ctx, placement("late", 1, 1, "#ff0000"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unblock()
	// A write queued behind the abandoned one proves the writer moved past it.
	require.NoError(t, m.AppendPlacement(context.Background(), placement("next", 2, 2, "#00ff00")))

	all, err := m.ListPlacements(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "next", all[0].ID)
}

func TestManager_WriteTimeoutWhileQueuedIsNotCommitted(t *testing.T) {
	m := setupTestDB(t)
	m.writeTimeout = 50 * time.Millisecond
	unblock := blockWriter(t, m)

	p := placement("slow", 3, 3, "#0000ff")
	err := m.AppendPlacement(context.Background(), p)
	assert.ErrorIs(t, err, ErrWriteTimeout)
	assert.Zero(t, p.Seq)

	unblock()
	_, err = m.CreditAmount(context.Background(), "alice", 1)
	require.NoError(t, err)

	all, err := m.ListPlacements(context.Background())
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestManager_StartedWriteIsAwaitedPastDeadline(t *testing.T) {
	m := setupTestDB(t)
	started := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()
	var ran bool
	err := m.executeWrite(ctx, func(*sql.DB) error {
		close(started)
		time.Sleep(50 * time.Millisecond)
		ran = true
		return nil
	})
	require.NoError(t, err, "a started write reports its own result")
	assert.True(t, ran)
}

func TestIsBusy(t *testing.T) {
	assert.True(t, isBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, isBusy(fmt.Errorf("wrapped: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, isBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, isBusy(errors.New("other")))
	assert.False(t, isBusy(nil))
}
