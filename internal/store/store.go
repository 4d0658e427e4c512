// Package store provides SQLite persistence for user preferences and the
// signal journal used for duplicate suppression and history.
package store

import (
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"cryptosignal/internal/logging"
)

// User defaults, matching the row defaults in the users table.
const (
	DefaultPairs            = "BTCUSDT,TRXUSDT,INJUSDT"
	DefaultFrequencySeconds = 3600
	DefaultSensitivity      = "medium"
	DefaultCategory         = "spot"
)

// User is a persisted user profile.
type User struct {
	ID               int64
	Pairs            string
	FrequencySeconds int
	Sensitivity      string
	Category         string
}

// SignalRecord is one journaled signal.
type SignalRecord struct {
	ID          int64
	SignalID    string // UUID assigned at publish time
	UserID      int64
	Symbol      string
	SignalType  string // currently always "buy"
	Confidence  sql.NullFloat64
	Entry       sql.NullFloat64
	TakeProfit  sql.NullFloat64
	StopLoss    sql.NullFloat64
	ExitHorizon sql.NullString
	CreatedAt   int64 // epoch seconds
}

// DedupConfig controls duplicate-signal suppression.
type DedupConfig struct {
	Cooldown      time.Duration // only signals younger than this can be duplicates
	PriceTolPct   float64       // percent tolerance for entry/tp/sl
	ConfidenceTol float64       // absolute tolerance for confidence
}

// DefaultDedupConfig returns the stock suppression parameters.
func DefaultDedupConfig() DedupConfig {
	return DedupConfig{
		Cooldown:      6 * time.Hour,
		PriceTolPct:   0.5,
		ConfidenceTol: 0.03,
	}
}

// Store wraps the SQLite database holding users and the signal journal.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// Open initializes the SQLite database at the given path.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening store at path: %s", path)

	if dir := filepath.Dir(path); dir != "" && dir != "." && path != ":memory:" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logging.Get(logging.CategoryStore).Error("Failed to create directory %s: %v", dir, err)
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to open database at %s: %v", path, err)
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		logging.Get(logging.CategoryStore).Error("Failed to initialize schema: %v", err)
		db.Close()
		return nil, err
	}

	logging.Store("Store initialization complete")
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	usersTable := `
	CREATE TABLE IF NOT EXISTS users (
		user_id INTEGER PRIMARY KEY,
		pairs TEXT DEFAULT 'BTCUSDT,TRXUSDT,INJUSDT',
		frequency_seconds INTEGER DEFAULT 3600,
		sensitivity TEXT DEFAULT 'medium',
		category TEXT DEFAULT 'spot'
	);
	`

	signalsTable := `
	CREATE TABLE IF NOT EXISTS signals (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		signal_id TEXT NOT NULL DEFAULT '',
		user_id INTEGER NOT NULL,
		symbol TEXT NOT NULL,
		signal_type TEXT NOT NULL,
		confidence REAL,
		entry REAL,
		take_profit REAL,
		stop_loss REAL,
		exit_horizon TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY(user_id) REFERENCES users(user_id)
	);
	CREATE INDEX IF NOT EXISTS idx_signals_user ON signals(user_id);
	CREATE INDEX IF NOT EXISTS idx_signals_symbol ON signals(symbol);
	CREATE INDEX IF NOT EXISTS idx_signals_time ON signals(created_at);
	`

	for _, table := range []string{usersTable, signalsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// DB returns the underlying SQL database connection.
func (s *Store) DB() *sql.DB {
	return s.db
}

// ---------- users ----------

// GetUser returns the stored profile for a user, or nil when unknown.
func (s *Store) GetUser(userID int64) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		"SELECT user_id, pairs, frequency_seconds, sensitivity, category FROM users WHERE user_id = ?",
		userID,
	)
	var u User
	err := row.Scan(&u.ID, &u.Pairs, &u.FrequencySeconds, &u.Sensitivity, &u.Category)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", userID, err)
	}
	return &u, nil
}

// UserUpdate carries the fields to change in UpsertUser. Nil fields are
// left untouched.
type UserUpdate struct {
	Pairs            *string
	FrequencySeconds *int
	Sensitivity      *string
	Category         *string
}

// UpsertUser inserts the user row if missing and updates only the fields
// supplied in upd.
func (s *Store) UpsertUser(userID int64, upd UserUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		"INSERT INTO users (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING",
		userID,
	); err != nil {
		return fmt.Errorf("failed to insert user %d: %w", userID, err)
	}

	sets := ""
	var args []interface{}
	appendSet := func(col string, val interface{}) {
		if sets != "" {
			sets += ", "
		}
		sets += col + " = ?"
		args = append(args, val)
	}

	if upd.Pairs != nil {
		appendSet("pairs", *upd.Pairs)
	}
	if upd.FrequencySeconds != nil {
		appendSet("frequency_seconds", *upd.FrequencySeconds)
	}
	if upd.Sensitivity != nil {
		appendSet("sensitivity", *upd.Sensitivity)
	}
	if upd.Category != nil {
		appendSet("category", *upd.Category)
	}

	if sets == "" {
		return nil
	}
	args = append(args, userID)
	if _, err := s.db.Exec("UPDATE users SET "+sets+" WHERE user_id = ?", args...); err != nil {
		return fmt.Errorf("failed to update user %d: %w", userID, err)
	}

	logging.StoreDebug("Upserted user %d", userID)
	return nil
}

// AllUsers returns every persisted user profile.
func (s *Store) AllUsers() ([]User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query("SELECT user_id, pairs, frequency_seconds, sensitivity, category FROM users")
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.ID, &u.Pairs, &u.FrequencySeconds, &u.Sensitivity, &u.Category); err != nil {
			return nil, fmt.Errorf("failed to scan user row: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ---------- signal journal ----------

// LogSignal appends a published signal to the journal.
func (s *Store) LogSignal(rec SignalRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ts := rec.CreatedAt
	if ts == 0 {
		ts = time.Now().Unix()
	}

	_, err := s.db.Exec(
		`INSERT INTO signals
		 (signal_id, user_id, symbol, signal_type, confidence, entry, take_profit, stop_loss, exit_horizon, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.SignalID, rec.UserID, rec.Symbol, rec.SignalType,
		rec.Confidence, rec.Entry, rec.TakeProfit, rec.StopLoss, rec.ExitHorizon, ts,
	)
	if err != nil {
		return fmt.Errorf("failed to log signal for %s: %w", rec.Symbol, err)
	}

	logging.Signals("Journaled %s signal for user %d symbol %s", rec.SignalType, rec.UserID, rec.Symbol)
	return nil
}

// LastSignal returns the newest journal entry for (user, symbol), or nil.
func (s *Store) LastSignal(userID int64, symbol string) (*SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(
		`SELECT id, signal_id, user_id, symbol, signal_type, confidence, entry, take_profit, stop_loss, exit_horizon, created_at
		 FROM signals
		 WHERE user_id = ? AND symbol = ?
		 ORDER BY created_at DESC
		 LIMIT 1`,
		userID, symbol,
	)
	var rec SignalRecord
	err := row.Scan(&rec.ID, &rec.SignalID, &rec.UserID, &rec.Symbol, &rec.SignalType,
		&rec.Confidence, &rec.Entry, &rec.TakeProfit, &rec.StopLoss, &rec.ExitHorizon, &rec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load last signal for %s: %w", symbol, err)
	}
	return &rec, nil
}

// RecentSignals returns the newest journal entries for a user, newest first.
func (s *Store) RecentSignals(userID int64, limit int) ([]SignalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, signal_id, user_id, symbol, signal_type, confidence, entry, take_profit, stop_loss, exit_horizon, created_at
		 FROM signals
		 WHERE user_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list signals: %w", err)
	}
	defer rows.Close()

	var recs []SignalRecord
	for rows.Next() {
		var rec SignalRecord
		if err := rows.Scan(&rec.ID, &rec.SignalID, &rec.UserID, &rec.Symbol, &rec.SignalType,
			&rec.Confidence, &rec.Entry, &rec.TakeProfit, &rec.StopLoss, &rec.ExitHorizon, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan signal row: %w", err)
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// IsDuplicateSignal reports whether a candidate signal is "the same" as the
// last journaled one for (user, symbol): younger than the cooldown and with
// entry/tp/sl within the relative price tolerance. Confidence is compared
// with its own absolute tolerance; when either side has no confidence the
// price match alone decides.
func (s *Store) IsDuplicateSignal(userID int64, symbol string, confidence, entry, takeProfit, stopLoss *float64, cfg DedupConfig) (bool, error) {
	last, err := s.LastSignal(userID, symbol)
	if err != nil {
		return false, err
	}
	if last == nil {
		return false, nil
	}

	age := time.Since(time.Unix(last.CreatedAt, 0))
	if age > cfg.Cooldown {
		return false, nil
	}

	if !closeEnough(entry, nullableFloat(last.Entry), cfg.PriceTolPct) {
		return false, nil
	}
	if !closeEnough(takeProfit, nullableFloat(last.TakeProfit), cfg.PriceTolPct) {
		return false, nil
	}
	if !closeEnough(stopLoss, nullableFloat(last.StopLoss), cfg.PriceTolPct) {
		return false, nil
	}

	lastConf := nullableFloat(last.Confidence)
	if confidence == nil || lastConf == nil {
		// Key prices already matched; treat as close enough.
		return true, nil
	}
	dup := math.Abs(*confidence-*lastConf) <= cfg.ConfidenceTol
	if dup {
		logging.SignalsDebug("Duplicate signal suppressed for user %d symbol %s (age %v)", userID, symbol, age)
	}
	return dup, nil
}

func nullFloat(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

// NullFloat converts an optional float into its SQL representation.
func NullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return nullFloat(*v)
}

// NullString converts a string into its SQL representation, mapping the
// empty string to NULL.
func NullString(v string) sql.NullString {
	return nullString(v)
}

func nullableFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// closeEnough compares two optional prices within tolPct percent of b.
// Two nils match; a nil against a value does not.
func closeEnough(a, b *float64, tolPct float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if *b == 0 {
		return math.Abs(*a-*b) < 1e-9
	}
	return math.Abs(*a-*b)/math.Abs(*b) <= tolPct/100.0
}

// Stats returns row counts per table.
func (s *Store) Stats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	for _, table := range []string{"users", "signals"} {
		var count int64
		if err := s.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
