// Package database is the SQLite-backed collaborator store: the placement
// log, account balances and ban records.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	dbconfig "pixelgrid/pkg/database"
	"pixelgrid/pkg/interfaces"
	"pixelgrid/pkg/types"
)

const (
	writeQueueSize   = 256
	writeTimeout     = 30 * time.Second
	busyRetryDelay   = 100 * time.Millisecond
	busyRetryAttempt = 1
)

// Manager implements interfaces.Store on SQLite. Reads go straight to the
// connection pool; writes are funneled through one goroutine.
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	writeChannel chan *writeOperation
	writeTimeout time.Duration
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
	log          *logrus.Entry
}

const (
	opQueued int32 = iota
	opRunning
	opAbandoned
)

// writeOperation is claimed exactly once: by the writer, which then always
// reports a result, or by a caller that gave up before the writer got to it.
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
	state     atomic.Int32
}

func (op *writeOperation) start() bool {
	return op.state.CompareAndSwap(opQueued, opRunning)
}

func (op *writeOperation) abandon() bool {
	return op.state.CompareAndSwap(opQueued, opAbandoned)
}

var _ interfaces.Store = (*Manager)(nil)

// NewManager opens the database, applies pending migrations, validates the
// schema and starts the writer goroutine.
func NewManager(config *dbconfig.Config) (*Manager, error) {
	db, err := dbconfig.Open(config)
	if err != nil {
		return nil, err
	}

	if err := dbconfig.NewMigrationManager(db).ApplyMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	if err := dbconfig.NewSchemaValidator(db).Validate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to validate schema: %w", err)
	}

	manager := &Manager{
		db:           db,
		config:       config,
		writeChannel: make(chan *writeOperation, writeQueueSize),
		writeTimeout: writeTimeout,
		shutdown:     make(chan struct{}),
		log:          logrus.WithFields(logrus.Fields{"component": "database", "path": config.DatabasePath}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	manager.log.Info("Database ready")
	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			if !op.start() {
				m.log.Debug("Skipping abandoned write")
				continue
			}
			err := op.operation(m.db)
			for attempt := 0; attempt < busyRetryAttempt && isBusy(err); attempt++ {
				m.log.WithError(err).Warn("Database busy, retrying write")
				time.Sleep(busyRetryDelay)
				err = op.operation(m.db)
			}
			op.result <- err

		case <-m.shutdown:
			m.log.Debug("Database write loop shutting down")
			return
		}
	}
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

// executeWrite queues a write operation and waits for completion. A caller
// that gives up only returns an error if the writer has not started the
// operation yet; once started, its result is always awaited so the error
// returned here never disagrees with what was committed.
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	op := &writeOperation{operation: operation, result: make(chan error, 1)}
	timer := time.NewTimer(m.writeTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- op:
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrWriteTimeout
	case <-m.shutdown:
		return ErrManagerClosed
	}

	var giveUp error
	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		giveUp = ctx.Err()
	case <-timer.C:
		giveUp = ErrWriteTimeout
	case <-m.shutdown:
		giveUp = ErrManagerClosed
	}
	if op.abandon() {
		return giveUp
	}
	return <-op.result
}

// AppendPlacement implements interfaces.PlacementLog. The assigned seq is
// written back into p.
func (m *Manager) AppendPlacement(ctx context.Context, p *types.Placement) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			INSERT INTO placements (id, user_id, x, y, color, placed_at_ms)
			VALUES (?, ?, ?, ?, ?, ?)
		`, p.ID, p.UserID, p.X, p.Y, p.Color, p.Timestamp)
		if err != nil {
			return fmt.Errorf("failed to insert placement: %w", err)
		}
		seq, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read placement seq: %w", err)
		}
		p.Seq = seq
		return nil
	})
}

// ListPlacements implements interfaces.PlacementLog.
func (m *Manager) ListPlacements(ctx context.Context) ([]*types.Placement, error) {
	return m.queryPlacements(ctx, `
		SELECT seq, id, user_id, x, y, color, placed_at_ms
		FROM placements
		ORDER BY seq ASC
	`)
}

// ListPlacementsAfter implements interfaces.PlacementLog.
func (m *Manager) ListPlacementsAfter(ctx context.Context, afterSeq int64, limit int) ([]*types.Placement, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	return m.queryPlacements(ctx, `
		SELECT seq, id, user_id, x, y, color, placed_at_ms
		FROM placements
		WHERE seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, afterSeq, limit)
}

func (m *Manager) queryPlacements(ctx context.Context, query string, args ...interface{}) ([]*types.Placement, error) {
	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query placements: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var placements []*types.Placement
	for rows.Next() {
		var p types.Placement
		if err := rows.Scan(&p.Seq, &p.ID, &p.UserID, &p.X, &p.Y, &p.Color, &p.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan placement row: %w", err)
		}
		placements = append(placements, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating placement rows: %w", err)
	}
	return placements, nil
}

// GetBalance implements interfaces.AccountStore. Unknown users have a
// balance of 0.
func (m *Manager) GetBalance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := m.db.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE user_id = ?", userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to query balance: %w", err)
	}
	return balance, nil
}

// DebitOne implements interfaces.AccountStore as a single conditional
// UPDATE, so the balance can never go below zero.
func (m *Manager) DebitOne(ctx context.Context, userID string) (bool, error) {
	var debited bool
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		res, err := db.ExecContext(ctx, `
			UPDATE accounts
			SET balance = balance - 1, updated_at = ?
			WHERE user_id = ? AND balance > 0
		`, time.Now().UnixMilli(), userID)
		if err != nil {
			return fmt.Errorf("failed to debit account: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to read debit result: %w", err)
		}
		debited = n == 1
		return nil
	})
	return debited, err
}

// CreditAmount implements interfaces.AccountStore, creating the account on
// first credit.
func (m *Manager) CreditAmount(ctx context.Context, userID string, n int64) (int64, error) {
	if n <= 0 {
		return 0, interfaces.ErrInvalidAmount
	}
	var balance int64
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		_, err = tx.ExecContext(ctx, `
			INSERT INTO accounts (user_id, balance, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE
			SET balance = balance + excluded.balance, updated_at = excluded.updated_at
		`, userID, n, time.Now().UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to credit account: %w", err)
		}
		if err := tx.QueryRowContext(ctx, "SELECT balance FROM accounts WHERE user_id = ?", userID).Scan(&balance); err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		return tx.Commit()
	})
	return balance, err
}

// GetBan implements interfaces.BanStore.
func (m *Manager) GetBan(ctx context.Context, userID string) (*types.Ban, error) {
	var (
		ban       types.Ban
		untilMs   sql.NullInt64
		createdAt int64
	)
	err := m.db.QueryRowContext(ctx,
		"SELECT user_id, until_ms, reason, created_at FROM bans WHERE user_id = ?", userID,
	).Scan(&ban.UserID, &untilMs, &ban.Reason, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query ban: %w", err)
	}
	if untilMs.Valid {
		until := time.UnixMilli(untilMs.Int64)
		ban.Until = &until
	}
	ban.CreatedAt = time.UnixMilli(createdAt)
	return &ban, nil
}

// SetBan implements interfaces.BanStore, replacing any existing record.
func (m *Manager) SetBan(ctx context.Context, ban *types.Ban) error {
	var untilMs sql.NullInt64
	if ban.Until != nil {
		untilMs = sql.NullInt64{Int64: ban.Until.UnixMilli(), Valid: true}
	}
	createdAt := ban.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return m.executeWrite(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, `
			INSERT INTO bans (user_id, until_ms, reason, created_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE
			SET until_ms = excluded.until_ms, reason = excluded.reason, created_at = excluded.created_at
		`, ban.UserID, untilMs, ban.Reason, createdAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("failed to store ban: %w", err)
		}
		return nil
	})
}

// LiftBan implements interfaces.BanStore.
func (m *Manager) LiftBan(ctx context.Context, userID string) error {
	return m.executeWrite(ctx, func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, "DELETE FROM bans WHERE user_id = ?", userID); err != nil {
			return fmt.Errorf("failed to delete ban: %w", err)
		}
		return nil
	})
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var n int64
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM accounts").Scan(&n); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

// GetDB returns the underlying connection pool.
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close stops the writer and closes the database. It is safe to call more
// than once.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	m.log.Info("Database closed")
	return nil
}
