package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/security"
)

// SQLiteStore implements StateStore using SQLite. When a sealer is set,
// snapshots are encrypted before they are written.
type SQLiteStore struct {
	db        *sql.DB
	sealer    *security.Sealer
	mu        sync.RWMutex
	syncTimes map[string]time.Time
}

// Option configures a SQLiteStore.
type Option func(*SQLiteStore)

// WithSealer encrypts snapshots with s.
func WithSealer(s *security.Sealer) Option {
	return func(st *SQLiteStore) {
		st.sealer = s
	}
}

// NewSQLiteStore creates a new SQLite-based data store.
func NewSQLiteStore(dbPath string, opts ...Option) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{
		db:        db,
		syncTimes: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS exchange_state (
		partner TEXT PRIMARY KEY,
		data BLOB NOT NULL,
		sealed INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS trades (
		partner TEXT NOT NULL,
		id INTEGER NOT NULL,
		state TEXT NOT NULL,
		is_buy INTEGER NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (partner, id)
	);

	CREATE TABLE IF NOT EXISTS sync_status (
		data_type TEXT PRIMARY KEY,
		last_sync DATETIME NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_trades_state ON trades(state);
	CREATE INDEX IF NOT EXISTS idx_trades_updated ON trades(updated_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Snapshot Methods
// ============================================================================

// SaveState replaces the partner's snapshot and its trade index in one
// transaction.
func (s *SQLiteStore) SaveState(ctx context.Context, partner string, data []byte, trades []TradeRecord) error {
	sealed := 0
	if s.sealer != nil {
		b, err := s.sealer.Seal(data)
		if err != nil {
			return fmt.Errorf("failed to seal state: %w", err)
		}
		data = b
		sealed = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrDatabaseError, err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO exchange_state (partner, data, sealed, updated_at)
		VALUES (?, ?, ?, ?)
	`, partner, data, sealed, now); err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM trades WHERE partner = ?`, partner); err != nil {
		return fmt.Errorf("failed to clear trade index: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO trades (partner, id, state, is_buy, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, t := range trades {
		isBuy := 0
		if t.IsBuy {
			isBuy = 1
		}
		if _, err := stmt.ExecContext(ctx, partner, t.ID, t.State, isBuy, now); err != nil {
			return fmt.Errorf("failed to index trade %d: %w", t.ID, err)
		}
	}

	return tx.Commit()
}

// LoadState returns the partner's snapshot, opening it if sealed.
func (s *SQLiteStore) LoadState(ctx context.Context, partner string) ([]byte, error) {
	var data []byte
	var sealed int
	err := s.db.QueryRowContext(ctx, `
		SELECT data, sealed FROM exchange_state WHERE partner = ?
	`, partner).Scan(&data, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Wrapf(apperrors.ErrDataNotFound, "state for %s", partner)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load state: %w", err)
	}

	if sealed == 0 {
		return data, nil
	}
	if s.sealer == nil {
		return nil, fmt.Errorf("state for %s is sealed: passphrase required", partner)
	}
	return s.sealer.Open(data)
}

// ============================================================================
// Trade Index Methods
// ============================================================================

// ListTrades retrieves indexed trades, most recently saved first.
func (s *SQLiteStore) ListTrades(ctx context.Context, filter TradeFilter) ([]TradeRecord, error) {
	query := "SELECT partner, id, state, is_buy, updated_at FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.Partner != "" {
		query += " AND partner = ?"
		args = append(args, filter.Partner)
	}
	if filter.State != "" {
		query += " AND state = ?"
		args = append(args, filter.State)
	}
	if filter.IsBuy != nil {
		isBuy := 0
		if *filter.IsBuy {
			isBuy = 1
		}
		query += " AND is_buy = ?"
		args = append(args, isBuy)
	}

	query += " ORDER BY updated_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		var isBuy int
		if err := rows.Scan(&t.Partner, &t.ID, &t.State, &isBuy, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		t.IsBuy = isBuy == 1
		trades = append(trades, t)
	}

	return trades, rows.Err()
}

// ============================================================================
// Sync Methods
// ============================================================================

// GetLastSync returns the last sync time for a data type.
func (s *SQLiteStore) GetLastSync(dataType string) time.Time {
	s.mu.RLock()
	if t, ok := s.syncTimes[dataType]; ok {
		s.mu.RUnlock()
		return t
	}
	s.mu.RUnlock()

	var lastSync time.Time
	err := s.db.QueryRow(`
		SELECT last_sync FROM sync_status WHERE data_type = ?
	`, dataType).Scan(&lastSync)
	if err != nil {
		return time.Time{}
	}

	s.mu.Lock()
	s.syncTimes[dataType] = lastSync
	s.mu.Unlock()

	return lastSync
}

// SetLastSync sets the last sync time for a data type.
func (s *SQLiteStore) SetLastSync(dataType string, t time.Time) error {
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO sync_status (data_type, last_sync, updated_at)
		VALUES (?, ?, ?)
	`, dataType, t, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set last sync: %w", err)
	}

	s.mu.Lock()
	s.syncTimes[dataType] = t
	s.mu.Unlock()

	return nil
}
