package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

const (
	StatusPending   = "pending"
	StatusExecuted  = "executed"
	StatusExpired   = "expired"
	StatusCancelled = "cancelled"
)

const timeLayout = time.RFC3339Nano

// Store persists proposal sessions and their order journal in SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Record is one propose/execute session. Plan carries the resolved plan as
// JSON so execute can replay exactly what was proposed.
type Record struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time
	Status    string
	Plan      string
	Summary   string
}

// OrderRecord journals one order's latest state within a session.
type OrderRecord struct {
	SessionID string
	Seq       int
	Symbol    string
	Side      string
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	State     string
	OrderID   string
	Message   string
}

func Open(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func initSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    created_at TEXT NOT NULL,
    expires_at TEXT NOT NULL,
    status TEXT NOT NULL,
    plan_json TEXT NOT NULL DEFAULT '',
    summary TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS orders (
    session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
    seq INTEGER NOT NULL,
    symbol TEXT NOT NULL,
    side TEXT NOT NULL,
    quantity TEXT NOT NULL,
    price TEXT NOT NULL,
    state TEXT NOT NULL,
    order_id TEXT NOT NULL DEFAULT '',
    message TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL,
    UNIQUE(session_id, seq)
);
`

	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func (s *Store) CreateSession(ctx context.Context, rec Record) error {
	if strings.TrimSpace(rec.ID) == "" {
		return fmt.Errorf("session id is required")
	}
	if rec.Status == "" {
		rec.Status = StatusPending
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now().UTC()
	}
	if rec.ExpiresAt.IsZero() {
		return fmt.Errorf("session expiry is required")
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sessions (id, created_at, expires_at, status, plan_json, summary)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    expires_at=excluded.expires_at,
    status=excluded.status,
    plan_json=excluded.plan_json,
    summary=excluded.summary
`, rec.ID, rec.CreatedAt.UTC().Format(timeLayout), rec.ExpiresAt.UTC().Format(timeLayout),
		rec.Status, rec.Plan, rec.Summary)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// GetSession returns nil without error when no session matches. A pending
// session past its expiry reads back as expired and is marked so.
func (s *Store) GetSession(ctx context.Context, sessionID string) (*Record, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	row := s.db.QueryRowContext(ctx, `
SELECT id, created_at, expires_at, status, plan_json, summary
FROM sessions
WHERE id = ?
LIMIT 1
`, sessionID)

	rec, err := scanSession(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	s.applyExpiry(ctx, rec)
	return rec, nil
}

// LatestPending returns the most recent pending session that has not
// expired, or nil when there is none. Stale pending sessions encountered on
// the way are marked expired.
func (s *Store) LatestPending(ctx context.Context) (*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, created_at, expires_at, status, plan_json, summary
FROM sessions
WHERE status = ?
ORDER BY rowid DESC
`, StatusPending)
	if err != nil {
		return nil, fmt.Errorf("list pending sessions: %w", err)
	}
	defer rows.Close()

	var pending []*Record
	for rows.Next() {
		rec, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		pending = append(pending, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list pending sessions rows: %w", err)
	}

	var found *Record
	for _, rec := range pending {
		if s.now().After(rec.ExpiresAt) {
			_ = s.MarkSessionStatus(ctx, rec.ID, StatusExpired)
			continue
		}
		if found == nil {
			found = rec
		}
	}
	return found, nil
}

// ListSessions pages sessions newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, created_at, expires_at, status, plan_json, summary
FROM sessions
ORDER BY rowid DESC
LIMIT ?
`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []Record
	for rows.Next() {
		rec, err := scanSession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list sessions rows: %w", err)
	}

	for i := range sessions {
		s.applyExpiry(ctx, &sessions[i])
	}
	return sessions, nil
}

func (s *Store) MarkSessionStatus(ctx context.Context, sessionID, status string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(status) == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `
UPDATE sessions
SET status = ?
WHERE id = ?
`, status, sessionID)
	if err != nil {
		return fmt.Errorf("update session status: %w", err)
	}
	return nil
}

// SaveOrderState journals an order transition, replacing any earlier state
// for the same (session, seq) slot. Terminal states (FILLED, REJECTED, ERROR)
// are immutable: a later write against a terminal row is dropped.
func (s *Store) SaveOrderState(ctx context.Context, rec OrderRecord) error {
	if strings.TrimSpace(rec.SessionID) == "" {
		return fmt.Errorf("order session id is required")
	}
	if rec.Seq <= 0 {
		return fmt.Errorf("order seq must be positive")
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO orders (session_id, seq, symbol, side, quantity, price, state, order_id, message, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(session_id, seq) DO UPDATE SET
    state=excluded.state,
    order_id=excluded.order_id,
    message=excluded.message,
    updated_at=excluded.updated_at
WHERE orders.state NOT IN ('FILLED', 'REJECTED', 'ERROR')
`, rec.SessionID, rec.Seq, rec.Symbol, rec.Side, rec.Quantity.String(), rec.Price.String(),
		rec.State, rec.OrderID, rec.Message, s.now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("save order state: %w", err)
	}
	return nil
}

func (s *Store) ListOrders(ctx context.Context, sessionID string) ([]OrderRecord, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT session_id, seq, symbol, side, quantity, price, state, order_id, message
FROM orders
WHERE session_id = ?
ORDER BY seq ASC
`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	var orders []OrderRecord
	for rows.Next() {
		var rec OrderRecord
		var qty, price string
		if err := rows.Scan(&rec.SessionID, &rec.Seq, &rec.Symbol, &rec.Side, &qty, &price,
			&rec.State, &rec.OrderID, &rec.Message); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if rec.Quantity, err = decimal.NewFromString(qty); err != nil {
			return nil, fmt.Errorf("parse order quantity: %w", err)
		}
		if rec.Price, err = decimal.NewFromString(price); err != nil {
			return nil, fmt.Errorf("parse order price: %w", err)
		}
		orders = append(orders, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list orders rows: %w", err)
	}
	return orders, nil
}

func (s *Store) applyExpiry(ctx context.Context, rec *Record) {
	if rec.Status == StatusPending && s.now().After(rec.ExpiresAt) {
		rec.Status = StatusExpired
		_ = s.MarkSessionStatus(ctx, rec.ID, StatusExpired)
	}
}

func scanSession(scan func(dest ...any) error) (*Record, error) {
	var rec Record
	var createdAt, expiresAt string
	if err := scan(&rec.ID, &createdAt, &expiresAt, &rec.Status, &rec.Plan, &rec.Summary); err != nil {
		return nil, err
	}
	var err error
	if rec.CreatedAt, err = time.Parse(timeLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if rec.ExpiresAt, err = time.Parse(timeLayout, expiresAt); err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &rec, nil
}
