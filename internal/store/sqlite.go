// Package store provides data persistence implementations.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trend-trader/internal/models"
)

// SQLiteStore implements Journal using SQLite.
type SQLiteStore struct {
	db *sql.DB

	mu      sync.RWMutex
	session string
}

// NewSQLiteStore opens (and creates if needed) the journal database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool for concurrent access
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	store := &SQLiteStore{db: db}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// initSchema creates all required tables and indexes.
func (s *SQLiteStore) initSchema() error {
	schema := `
	-- One row per automation run
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		client_id INTEGER NOT NULL,
		instrument TEXT NOT NULL,
		mode TEXT NOT NULL,
		started_at DATETIME NOT NULL
	);

	-- Bars observed from the feed
	CREATE TABLE IF NOT EXISTS bars (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		instrument TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		wap REAL NOT NULL DEFAULT 0,
		UNIQUE(instrument, timestamp)
	);

	-- State machine transitions
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		timestamp DATETIME NOT NULL,
		trade_id TEXT,
		action TEXT NOT NULL,
		order_ids TEXT,
		side TEXT,
		quantity INTEGER,
		price REAL,
		position INTEGER,
		state TEXT,
		reason TEXT
	);

	-- Latest snapshot of each trade
	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		instrument TEXT NOT NULL,
		reason TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_id TEXT,
		entry_status TEXT,
		entry_price REAL,
		orders TEXT NOT NULL,
		opened_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_bars_instrument ON bars(instrument, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp);
	CREATE INDEX IF NOT EXISTS idx_events_trade ON events(trade_id);
	CREATE INDEX IF NOT EXISTS idx_trades_session ON trades(session_id, opened_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// Ping checks that the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ============================================================================
// Sessions
// ============================================================================

// StartSession records the session and makes it the owner of subsequent
// trade snapshots.
func (s *SQLiteStore) StartSession(ctx context.Context, info SessionInfo) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO sessions (id, client_id, instrument, mode, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, info.ID, info.ClientID, info.Instrument, info.Mode, info.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}

	s.mu.Lock()
	s.session = info.ID
	s.mu.Unlock()
	return nil
}

func (s *SQLiteStore) sessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// ============================================================================
// Bars
// ============================================================================

// SaveBar stores a bar. A bar with the same instrument and time replaces
// the previous one.
func (s *SQLiteStore) SaveBar(ctx context.Context, instrument string, bar models.Bar) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO bars (instrument, timestamp, open, high, low, close, volume, wap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, instrument, bar.Time.UTC(), bar.Open, bar.High, bar.Low, bar.Close, bar.Volume, bar.WAP)
	if err != nil {
		return fmt.Errorf("failed to save bar: %w", err)
	}
	return nil
}

// RecentBars returns the last n bars of instrument in ascending time order.
func (s *SQLiteStore) RecentBars(ctx context.Context, instrument string, n int) ([]models.Bar, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, open, high, low, close, volume, wap FROM (
			SELECT timestamp, open, high, low, close, volume, wap
			FROM bars
			WHERE instrument = ?
			ORDER BY timestamp DESC
			LIMIT ?
		) ORDER BY timestamp ASC
	`, instrument, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query bars: %w", err)
	}
	defer rows.Close()

	var bars []models.Bar
	for rows.Next() {
		var b models.Bar
		if err := rows.Scan(&b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.WAP); err != nil {
			return nil, fmt.Errorf("failed to scan bar: %w", err)
		}
		bars = append(bars, b)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating bars: %w", err)
	}

	return bars, nil
}

// ============================================================================
// Events
// ============================================================================

// SaveEvent appends a transition event.
func (s *SQLiteStore) SaveEvent(ctx context.Context, ev models.Event) error {
	orderIDs, _ := json.Marshal(ev.OrderIDs)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (session_id, timestamp, trade_id, action, order_ids, side, quantity, price, position, state, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, ev.SessionID, ev.Time.UTC(), ev.TradeID, ev.Action, string(orderIDs), ev.Side, ev.Quantity, ev.Price, ev.Position, ev.State, ev.Reason)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// GetEvents returns events in the order they were recorded. With a limit
// the newest events are returned.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]models.Event, error) {
	cond, args := eventConditions(filter)
	query := "SELECT id, session_id, timestamp, trade_id, action, order_ids, side, quantity, price, position, state, reason FROM events WHERE 1=1" + cond
	if filter.Limit > 0 {
		query = "SELECT * FROM (" + query + " ORDER BY id DESC LIMIT ?)"
		args = append(args, filter.Limit)
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var ev models.Event
		var id int64
		var tradeID, orderIDsJSON, side, state, reason sql.NullString
		var quantity, position sql.NullInt64
		var price sql.NullFloat64
		if err := rows.Scan(&id, &ev.SessionID, &ev.Time, &tradeID, &ev.Action, &orderIDsJSON, &side, &quantity, &price, &position, &state, &reason); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.TradeID = tradeID.String
		ev.Side = models.Side(side.String)
		ev.Quantity = int(quantity.Int64)
		ev.Price = price.Float64
		ev.Position = int(position.Int64)
		ev.State = models.MachineState(state.String)
		ev.Reason = reason.String
		if orderIDsJSON.Valid {
			json.Unmarshal([]byte(orderIDsJSON.String), &ev.OrderIDs)
		}
		events = append(events, ev)
	}

	return events, rows.Err()
}

func eventConditions(filter EventFilter) (string, []interface{}) {
	var cond string
	args := []interface{}{}
	if filter.SessionID != "" {
		cond += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.TradeID != "" {
		cond += " AND trade_id = ?"
		args = append(args, filter.TradeID)
	}
	if filter.Action != "" {
		cond += " AND action = ?"
		args = append(args, filter.Action)
	}
	if !filter.Since.IsZero() {
		cond += " AND timestamp >= ?"
		args = append(args, filter.Since.UTC())
	}
	return cond, args
}

// ============================================================================
// Trades
// ============================================================================

// SaveTrade upserts the latest snapshot of a trade under the current
// session.
func (s *SQLiteStore) SaveTrade(ctx context.Context, instrument string, trade *models.Trade) error {
	if trade == nil || trade.Entry == nil {
		return nil
	}
	orders, err := json.Marshal(trade.Orders())
	if err != nil {
		return fmt.Errorf("failed to encode orders: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades (id, session_id, instrument, reason, side, quantity, entry_id, entry_status, entry_price, orders, opened_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			entry_id = excluded.entry_id,
			entry_status = excluded.entry_status,
			entry_price = excluded.entry_price,
			orders = excluded.orders,
			updated_at = excluded.updated_at
	`, trade.ID, s.sessionID(), instrument, trade.Reason, trade.Entry.Side, trade.Entry.Quantity,
		trade.Entry.ID, trade.Entry.Status, trade.Entry.AvgPrice, string(orders), trade.OpenedAt.UTC(), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save trade: %w", err)
	}
	return nil
}

// GetTrades returns trade snapshots, newest first.
func (s *SQLiteStore) GetTrades(ctx context.Context, filter TradeFilter) ([]TradeRecord, error) {
	query := "SELECT id, session_id, instrument, reason, orders, opened_at, updated_at FROM trades WHERE 1=1"
	args := []interface{}{}

	if filter.SessionID != "" {
		query += " AND session_id = ?"
		args = append(args, filter.SessionID)
	}
	if filter.Instrument != "" {
		query += " AND instrument = ?"
		args = append(args, filter.Instrument)
	}
	if filter.Reason != "" {
		query += " AND reason = ?"
		args = append(args, filter.Reason)
	}

	query += " ORDER BY opened_at DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trades: %w", err)
	}
	defer rows.Close()

	var records []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var t models.Trade
		var ordersJSON string
		if err := rows.Scan(&t.ID, &r.SessionID, &r.Instrument, &t.Reason, &ordersJSON, &t.OpenedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}

		var orders []*models.Order
		if err := json.Unmarshal([]byte(ordersJSON), &orders); err != nil {
			return nil, fmt.Errorf("failed to decode orders of trade %s: %w", t.ID, err)
		}
		for _, o := range orders {
			if o.Role == models.RoleEntry && t.Entry == nil {
				t.Entry = o
				continue
			}
			t.Flanks = append(t.Flanks, o)
		}
		r.Trade = &t
		records = append(records, r)
	}

	return records, rows.Err()
}
