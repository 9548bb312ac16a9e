package db

import (
	"context"
	"database/sql"
	"testing"
	"time"
)

func newTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := ApplyMigrations(d); err != nil {
		t.Fatalf("migrations: %v", err)
	}
	return d
}

func testOrder(id, status string, created time.Time) Order {
	return Order{
		ID:        id,
		Pair:      "BTC/USD",
		Side:      "buy",
		Type:      "limit",
		Status:    status,
		Price:     39000,
		Quantity:  0.5,
		GridLevel: 39000,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestSaveOrderUpsert(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	o := testOrder("ord-1", "open", now)
	if err := d.SaveOrder(ctx, o); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// Re-save the same id with updated fill data: one row, new values.
	o.Status = "closed"
	o.Filled = 0.5
	o.Average = 38990
	o.Fee = 5.07
	o.FilledAt = sql.NullTime{Time: now, Valid: true}
	if err := d.SaveOrder(ctx, o); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	var count int
	if err := d.DB.QueryRow(`SELECT COUNT(*) FROM orders`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("rows = %d, want 1 after upsert", count)
	}

	got, err := d.GetOrder(ctx, "ord-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("order not found after save")
	}
	if got.Status != "closed" || got.Filled != 0.5 || got.Average != 38990 {
		t.Errorf("got %+v, want updated fill data", got)
	}
	if !got.FilledAt.Valid {
		t.Error("filled_at should survive the round trip")
	}
	if got.GridLevel != 39000 {
		t.Errorf("grid_level = %v, want 39000", got.GridLevel)
	}
}

func TestGetOrderMissing(t *testing.T) {
	d := newTestDB(t)
	got, err := d.GetOrder(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil for a missing id", got)
	}
}

func TestListOpenOrders(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	d.SaveOrder(ctx, testOrder("open-1", "open", now))
	d.SaveOrder(ctx, testOrder("open-2", "open", now.Add(time.Second)))
	d.SaveOrder(ctx, testOrder("done-1", "closed", now))

	eth := testOrder("eth-1", "open", now)
	eth.Pair = "ETH/USD"
	d.SaveOrder(ctx, eth)

	all, err := d.ListOpenOrders(ctx, "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("open orders = %d, want 3", len(all))
	}

	btc, err := d.ListOpenOrders(ctx, "BTC/USD")
	if err != nil {
		t.Fatalf("list filtered: %v", err)
	}
	if len(btc) != 2 {
		t.Fatalf("BTC open orders = %d, want 2", len(btc))
	}
}

func TestSaveTradeAndHistory(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	d.SaveOrder(ctx, testOrder("ord-1", "closed", now))

	id, err := d.SaveTrade(ctx, Trade{
		OrderID:      "ord-1",
		Pair:         "BTC/USD",
		Side:         "buy",
		Price:        39000,
		Quantity:     0.5,
		Fee:          5.07,
		BalanceAfter: 480.5,
		Timestamp:    now,
	})
	if err != nil {
		t.Fatalf("save trade: %v", err)
	}
	if id <= 0 {
		t.Errorf("trade id = %d, want positive autoincrement", id)
	}

	trades, err := d.TradeHistory(ctx, HistoryFilter{Pair: "BTC/USD"})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(trades) != 1 {
		t.Fatalf("trades = %d, want 1", len(trades))
	}
	tr := trades[0]
	if tr.OrderID != "ord-1" || tr.Quantity != 0.5 || tr.BalanceAfter != 480.5 {
		t.Errorf("got %+v, want the saved trade", tr)
	}
	if tr.Profit.Valid {
		t.Error("profit should stay null until computable")
	}
}

func TestHistoryPagination(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	for i := 0; i < 5; i++ {
		o := testOrder("", "closed", base.Add(time.Duration(i)*time.Minute))
		o.ID = string(rune('a' + i))
		if err := d.SaveOrder(ctx, o); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}

	page, err := d.OrderHistory(ctx, HistoryFilter{Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page = %d rows, want 2", len(page))
	}
	// Newest first.
	if page[0].ID != "e" || page[1].ID != "d" {
		t.Errorf("page = [%s %s], want [e d]", page[0].ID, page[1].ID)
	}

	next, err := d.OrderHistory(ctx, HistoryFilter{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("history offset: %v", err)
	}
	if len(next) != 2 || next[0].ID != "c" {
		t.Errorf("second page starts at %s, want c", next[0].ID)
	}
}

func TestHistoryDateRange(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-24 * time.Hour)

	old := testOrder("old", "closed", base)
	recent := testOrder("recent", "closed", base.Add(12*time.Hour))
	d.SaveOrder(ctx, old)
	d.SaveOrder(ctx, recent)

	got, err := d.OrderHistory(ctx, HistoryFilter{From: base.Add(6 * time.Hour)})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 || got[0].ID != "recent" {
		t.Fatalf("got %d rows, want only the recent order", len(got))
	}
}

func TestGetStats(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	d.SaveOrder(ctx, testOrder("a", "closed", now))
	d.SaveOrder(ctx, testOrder("b", "closed", now))
	d.SaveOrder(ctx, testOrder("c", "open", now))
	d.SaveOrder(ctx, testOrder("d", "canceled", now))

	d.SaveTrade(ctx, Trade{OrderID: "a", Pair: "BTC/USD", Side: "buy", Price: 39000, Quantity: 0.5, Fee: 2, Timestamp: now})
	d.SaveTrade(ctx, Trade{OrderID: "b", Pair: "BTC/USD", Side: "sell", Price: 40000, Quantity: 0.5, Fee: 3,
		Profit: sql.NullFloat64{Float64: 495, Valid: true}, Timestamp: now})

	s, err := d.GetStats(ctx, "BTC/USD")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.TotalOrders != 4 || s.FilledOrders != 2 {
		t.Errorf("orders = %d/%d, want 4 total, 2 filled", s.TotalOrders, s.FilledOrders)
	}
	if s.FillRate != 50 {
		t.Errorf("fill rate = %.1f, want 50", s.FillRate)
	}
	if s.TotalTrades != 2 || s.TotalFees != 5 {
		t.Errorf("trades = %d fees = %.1f, want 2 and 5", s.TotalTrades, s.TotalFees)
	}
	if s.TotalProfit != 495 {
		t.Errorf("profit = %.1f, want 495", s.TotalProfit)
	}
}

func TestCleanupOldOrders(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	old := time.Now().UTC().Add(-40 * 24 * time.Hour)
	recent := time.Now().UTC()

	d.SaveOrder(ctx, testOrder("old-closed", "closed", old))
	d.SaveOrder(ctx, testOrder("old-canceled", "canceled", old))
	d.SaveOrder(ctx, testOrder("old-open", "open", old))
	d.SaveOrder(ctx, testOrder("new-closed", "closed", recent))

	n, err := d.CleanupOldOrders(ctx, 30)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if n != 2 {
		t.Fatalf("deleted = %d, want 2", n)
	}

	// Open orders survive regardless of age.
	if got, _ := d.GetOrder(ctx, "old-open"); got == nil {
		t.Error("old open order must not be deleted")
	}
	if got, _ := d.GetOrder(ctx, "new-closed"); got == nil {
		t.Error("recent terminal order must not be deleted")
	}
	if got, _ := d.GetOrder(ctx, "old-closed"); got != nil {
		t.Error("old terminal order should be deleted")
	}

	if _, err := d.CleanupOldOrders(ctx, 0); err == nil {
		t.Error("non-positive retention must be rejected")
	}
}
