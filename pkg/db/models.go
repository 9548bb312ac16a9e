package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Terminal order statuses; only these are eligible for retention cleanup.
var terminalStatuses = []string{"closed", "canceled", "expired"}

// Order represents an order row.
type Order struct {
	ID        string
	Pair      string
	Side      string
	Type      string
	Status    string
	Price     float64
	Quantity  float64
	Filled    float64
	Average   float64
	Fee       float64
	GridLevel float64
	Metadata  string
	CreatedAt time.Time
	UpdatedAt time.Time
	FilledAt  sql.NullTime
}

// Trade represents an immutable fill row.
type Trade struct {
	ID           int64
	OrderID      string
	Pair         string
	Side         string
	Price        float64
	Quantity     float64
	Fee          float64
	Profit       sql.NullFloat64
	BalanceAfter float64
	Timestamp    time.Time
}

// HistoryFilter scopes history queries; zero values mean "no filter".
type HistoryFilter struct {
	Pair   string
	From   time.Time
	To     time.Time
	Limit  int
	Offset int
}

// Stats aggregates execution history, optionally scoped to a pair.
type Stats struct {
	TotalOrders  int     `json:"total_orders"`
	FilledOrders int     `json:"filled_orders"`
	FillRate     float64 `json:"fill_rate_pct"`
	TotalTrades  int     `json:"total_trades"`
	TotalFees    float64 `json:"total_fees"`
	TotalProfit  float64 `json:"total_profit"`
}

// SaveOrder upserts an order row keyed by id. Re-persisting the same id with
// updated status/fill data overwrites the prior row, so every status
// transition can be saved without duplicate rows.
func (d *Database) SaveOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, pair, side, type, status, price, quantity, filled, average, fee,
			grid_level, created_at, updated_at, filled_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP), ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			price = excluded.price,
			quantity = excluded.quantity,
			filled = excluded.filled,
			average = excluded.average,
			fee = excluded.fee,
			grid_level = excluded.grid_level,
			updated_at = COALESCE(excluded.updated_at, CURRENT_TIMESTAMP),
			filled_at = excluded.filled_at,
			metadata = excluded.metadata
	`,
		o.ID, o.Pair, o.Side, o.Type, o.Status, o.Price, o.Quantity, o.Filled, o.Average, o.Fee,
		o.GridLevel, o.CreatedAt, o.UpdatedAt, o.FilledAt, o.Metadata,
	)
	return err
}

// SaveTrade appends a trade row and returns its generated id. Trade rows are
// never mutated.
func (d *Database) SaveTrade(ctx context.Context, t Trade) (int64, error) {
	res, err := d.DB.ExecContext(ctx, `
		INSERT INTO trade_history (
			order_id, pair, side, price, quantity, fee, profit, balance_after, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`,
		t.OrderID, t.Pair, t.Side, t.Price, t.Quantity, t.Fee, t.Profit, t.BalanceAfter, t.Timestamp,
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

const orderColumns = `id, pair, side, type, status, price, quantity, filled, average, fee,
	COALESCE(grid_level, 0), created_at, updated_at, filled_at, COALESCE(metadata, '')`

// GetOrder fetches an order by id, nil when not found.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT `+orderColumns+` FROM orders WHERE id = ?
	`, id)

	var o Order
	if err := scanOrder(row.Scan, &o); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// ListOpenOrders returns open orders, optionally filtered by pair.
func (d *Database) ListOpenOrders(ctx context.Context, pair string) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = 'open'`
	args := []any{}
	if pair != "" {
		query += ` AND pair = ?`
		args = append(args, pair)
	}
	query += ` ORDER BY created_at DESC`

	return d.queryOrders(ctx, query, args...)
}

// OrderHistory returns orders filtered by pair and/or date range, newest
// first, paginated.
func (d *Database) OrderHistory(ctx context.Context, f HistoryFilter) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	where, args := historyConditions(f, "created_at")
	if where != "" {
		query += " WHERE " + where
	}
	query += ` ORDER BY created_at DESC`
	query, args = applyPage(query, args, f)

	return d.queryOrders(ctx, query, args...)
}

// TradeHistory returns trade rows filtered by pair and/or date range, newest
// first, paginated.
func (d *Database) TradeHistory(ctx context.Context, f HistoryFilter) ([]Trade, error) {
	query := `
		SELECT id, order_id, pair, side, price, quantity, fee, profit,
		       COALESCE(balance_after, 0), timestamp
		FROM trade_history`
	where, args := historyConditions(f, "timestamp")
	if where != "" {
		query += " WHERE " + where
	}
	query += ` ORDER BY timestamp DESC`
	query, args = applyPage(query, args, f)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Trade
	for rows.Next() {
		var t Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.Pair, &t.Side, &t.Price, &t.Quantity,
			&t.Fee, &t.Profit, &t.BalanceAfter, &t.Timestamp); err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// GetStats aggregates order and trade statistics, optionally scoped to pair.
func (d *Database) GetStats(ctx context.Context, pair string) (Stats, error) {
	var s Stats

	orderQuery := `
		SELECT COUNT(*),
		       COUNT(CASE WHEN status = 'closed' THEN 1 END)
		FROM orders`
	tradeQuery := `
		SELECT COUNT(*),
		       COALESCE(SUM(fee), 0),
		       COALESCE(SUM(profit), 0)
		FROM trade_history`
	var args []any
	if pair != "" {
		orderQuery += ` WHERE pair = ?`
		tradeQuery += ` WHERE pair = ?`
		args = append(args, pair)
	}

	if err := d.DB.QueryRowContext(ctx, orderQuery, args...).Scan(&s.TotalOrders, &s.FilledOrders); err != nil {
		return s, fmt.Errorf("order stats: %w", err)
	}
	if err := d.DB.QueryRowContext(ctx, tradeQuery, args...).Scan(&s.TotalTrades, &s.TotalFees, &s.TotalProfit); err != nil {
		return s, fmt.Errorf("trade stats: %w", err)
	}

	if s.TotalOrders > 0 {
		s.FillRate = float64(s.FilledOrders) / float64(s.TotalOrders) * 100
	}
	return s, nil
}

// CleanupOldOrders deletes terminal-status orders older than the retention
// window. Open orders and trade history are never touched. Returns the number
// of rows deleted.
func (d *Database) CleanupOldOrders(ctx context.Context, days int) (int64, error) {
	if days <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", days)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(terminalStatuses)), ",")
	args := make([]any, 0, len(terminalStatuses)+1)
	for _, st := range terminalStatuses {
		args = append(args, st)
	}
	args = append(args, fmt.Sprintf("-%d days", days))

	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM orders
		WHERE status IN (`+placeholders+`)
		  AND created_at < datetime('now', ?)
	`, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *Database) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Order
	for rows.Next() {
		var o Order
		if err := scanOrder(rows.Scan, &o); err != nil {
			return nil, err
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

func scanOrder(scan func(...any) error, o *Order) error {
	return scan(&o.ID, &o.Pair, &o.Side, &o.Type, &o.Status, &o.Price, &o.Quantity,
		&o.Filled, &o.Average, &o.Fee, &o.GridLevel, &o.CreatedAt, &o.UpdatedAt,
		&o.FilledAt, &o.Metadata)
}

func historyConditions(f HistoryFilter, timeColumn string) (string, []any) {
	var conds []string
	var args []any
	if f.Pair != "" {
		conds = append(conds, "pair = ?")
		args = append(args, f.Pair)
	}
	if !f.From.IsZero() {
		conds = append(conds, timeColumn+" >= ?")
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		conds = append(conds, timeColumn+" <= ?")
		args = append(args, f.To)
	}
	return strings.Join(conds, " AND "), args
}

func applyPage(query string, args []any, f HistoryFilter) (string, []any) {
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)
	if f.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, f.Offset)
	}
	return query, args
}
