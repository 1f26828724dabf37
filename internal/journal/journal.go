// Package journal persists submitted orders and applied fills in SQLite so that
// orders left pending by a timed-out wait can be reconciled after a restart.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"quantbot-go/internal/execution"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    order_id TEXT PRIMARY KEY,
    client_order_id TEXT,
    broker TEXT NOT NULL,
    inst_id TEXT NOT NULL,
    side TEXT NOT NULL,
    ord_type TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL DEFAULT 0,
    state TEXT NOT NULL,
    filled_qty REAL NOT NULL DEFAULT 0,
    unresolved INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fills (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id TEXT NOT NULL,
    inst_id TEXT NOT NULL,
    side TEXT NOT NULL,
    qty REAL NOT NULL,
    price REAL NOT NULL,
    fee REAL NOT NULL DEFAULT 0,
    ts INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_unresolved ON orders(unresolved);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
`

// ErrNotFound is returned when an order id has no journal entry.
var ErrNotFound = errors.New("order not journaled")

// OrderRecord is the journaled view of one submitted order.
type OrderRecord struct {
	OrderID       string
	ClientOrderID string
	Broker        string
	InstrumentID  string
	Side          execution.Side
	Type          execution.OrderType
	Qty           float64
	Price         float64
	State         execution.OrderState
	FilledQty     float64
	Unresolved    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Journal wraps the SQLite handle.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (and creates if needed) the journal at path and applies the schema.
// ":memory:" gives a throwaway journal.
func Open(path string) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create journal directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable wal: %w", err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Close releases the underlying DB handle.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// RecordOrder inserts a newly submitted order. Re-recording an id replaces it.
func (j *Journal) RecordOrder(ctx context.Context, rec OrderRecord) error {
	if rec.OrderID == "" {
		return errors.New("record order: empty order id")
	}
	now := j.now().UnixMilli()
	_, err := j.db.ExecContext(ctx, `
INSERT INTO orders (order_id, client_order_id, broker, inst_id, side, ord_type, qty, price, state, filled_qty, unresolved, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(order_id) DO UPDATE SET
    state = excluded.state,
    filled_qty = excluded.filled_qty,
    unresolved = excluded.unresolved,
    updated_at = excluded.updated_at`,
		rec.OrderID, rec.ClientOrderID, rec.Broker, rec.InstrumentID, string(rec.Side), string(rec.Type),
		rec.Qty, rec.Price, string(rec.State), rec.FilledQty, boolInt(rec.Unresolved), now, now)
	if err != nil {
		return fmt.Errorf("record order %s: %w", rec.OrderID, err)
	}
	return nil
}

// UpdateOrder stores the latest state and cumulative filled quantity.
// Reaching a terminal state clears the unresolved flag.
func (j *Journal) UpdateOrder(ctx context.Context, orderID string, state execution.OrderState, filledQty float64) error {
	res, err := j.db.ExecContext(ctx, `
UPDATE orders SET state = ?, filled_qty = ?, updated_at = ?,
    unresolved = CASE WHEN ? THEN 0 ELSE unresolved END
WHERE order_id = ?`,
		string(state), filledQty, j.now().UnixMilli(), boolInt(state.Terminal()), orderID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", orderID, err)
	}
	return requireRow(res, orderID)
}

// MarkUnresolved flags an order whose fill wait timed out.
func (j *Journal) MarkUnresolved(ctx context.Context, orderID string) error {
	res, err := j.db.ExecContext(ctx, `UPDATE orders SET unresolved = 1, updated_at = ? WHERE order_id = ?`,
		j.now().UnixMilli(), orderID)
	if err != nil {
		return fmt.Errorf("mark unresolved %s: %w", orderID, err)
	}
	return requireRow(res, orderID)
}

// RecordFill appends an incremental fill.
func (j *Journal) RecordFill(ctx context.Context, fill execution.Fill) error {
	ts := fill.Ts
	if ts.IsZero() {
		ts = j.now()
	}
	_, err := j.db.ExecContext(ctx, `
INSERT INTO fills (order_id, inst_id, side, qty, price, fee, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		fill.OrderRef, fill.InstrumentID, string(fill.Side), fill.Qty, fill.Price, fill.Fee, ts.UnixMilli())
	if err != nil {
		return fmt.Errorf("record fill %s: %w", fill.OrderRef, err)
	}
	return nil
}

// Order loads one journaled order.
func (j *Journal) Order(ctx context.Context, orderID string) (OrderRecord, error) {
	row := j.db.QueryRowContext(ctx, selectOrders+` WHERE order_id = ?`, orderID)
	rec, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return OrderRecord{}, fmt.Errorf("%s: %w", orderID, ErrNotFound)
	}
	return rec, err
}

// Unresolved lists orders still flagged after a timed-out wait, oldest first.
func (j *Journal) Unresolved(ctx context.Context) ([]OrderRecord, error) {
	rows, err := j.db.QueryContext(ctx, selectOrders+` WHERE unresolved = 1 ORDER BY created_at, order_id`)
	if err != nil {
		return nil, fmt.Errorf("query unresolved: %w", err)
	}
	defer rows.Close()

	var out []OrderRecord
	for rows.Next() {
		rec, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Fills returns the fills journaled for an order in insertion order.
func (j *Journal) Fills(ctx context.Context, orderID string) ([]execution.Fill, error) {
	rows, err := j.db.QueryContext(ctx, `
SELECT order_id, inst_id, side, qty, price, fee, ts FROM fills WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("query fills: %w", err)
	}
	defer rows.Close()

	var out []execution.Fill
	for rows.Next() {
		var (
			f    execution.Fill
			side string
			ts   int64
		)
		if err := rows.Scan(&f.OrderRef, &f.InstrumentID, &side, &f.Qty, &f.Price, &f.Fee, &ts); err != nil {
			return nil, err
		}
		f.Side = execution.Side(side)
		f.Ts = time.UnixMilli(ts).UTC()
		out = append(out, f)
	}
	return out, rows.Err()
}

const selectOrders = `
SELECT order_id, client_order_id, broker, inst_id, side, ord_type, qty, price, state, filled_qty, unresolved, created_at, updated_at
FROM orders`

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (OrderRecord, error) {
	var (
		rec                  OrderRecord
		clientID             sql.NullString
		side, typ, state     string
		unresolved           int
		createdAt, updatedAt int64
	)
	if err := s.Scan(&rec.OrderID, &clientID, &rec.Broker, &rec.InstrumentID, &side, &typ,
		&rec.Qty, &rec.Price, &state, &rec.FilledQty, &unresolved, &createdAt, &updatedAt); err != nil {
		return OrderRecord{}, err
	}
	rec.ClientOrderID = clientID.String
	rec.Side = execution.Side(side)
	rec.Type = execution.OrderType(typ)
	rec.State = execution.OrderState(state)
	rec.Unresolved = unresolved != 0
	rec.CreatedAt = time.UnixMilli(createdAt).UTC()
	rec.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return rec, nil
}

func requireRow(res sql.Result, orderID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", orderID, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
