package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gridcore/internal/balance"
	"gridcore/internal/breaker"
	"gridcore/internal/ratelimit"
	"gridcore/pkg/db"
)

func newTestServer(t *testing.T) (*Server, *db.Database) {
	t.Helper()
	d, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := db.ApplyMigrations(d); err != nil {
		t.Fatalf("migrations: %v", err)
	}

	s := NewServer(Deps{
		Breaker: breaker.NewTrading(breaker.TradingConfig{
			Config: breaker.Config{Name: "test"},
		}),
		Limits: ratelimit.NewVenueLimiter("kraken"),
		Funds:  balance.NewTracker(1000, 0),
		DB:     d,
	})
	return s, d
}

func get(t *testing.T, s *Server, path string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return w, body
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := get(t, s, "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["status"] != "ok" {
		t.Errorf("body = %v", body)
	}
}

func TestStatus(t *testing.T) {
	s, _ := newTestServer(t)
	w, body := get(t, s, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	brk, ok := body["breaker"].(map[string]any)
	if !ok {
		t.Fatalf("breaker section missing: %v", body)
	}
	if brk["state"] != "CLOSED" {
		t.Errorf("breaker state = %v, want CLOSED", brk["state"])
	}

	rl, ok := body["rate_limits"].(map[string]any)
	if !ok {
		t.Fatalf("rate_limits section missing: %v", body)
	}
	if rl["venue"] != "kraken" {
		t.Errorf("venue = %v, want kraken", rl["venue"])
	}

	bal, ok := body["balance"].(map[string]any)
	if !ok {
		t.Fatalf("balance section missing: %v", body)
	}
	if bal["quote"] != 1000.0 {
		t.Errorf("quote = %v, want 1000", bal["quote"])
	}
}

func TestStatusOmitsMissingSections(t *testing.T) {
	s := NewServer(Deps{})
	w, body := get(t, s, "/api/status")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	for _, key := range []string{"breaker", "retry", "rate_limits", "balance", "monitor"} {
		if _, ok := body[key]; ok {
			t.Errorf("section %s present with nil deps", key)
		}
	}
}

func TestOpenOrdersEndpoint(t *testing.T) {
	s, d := newTestServer(t)
	ctx := context.Background()
	now := time.Now().UTC()

	d.SaveOrder(ctx, db.Order{
		ID: "o1", Pair: "BTC/USD", Side: "buy", Type: "limit", Status: "open",
		Price: 39000, Quantity: 0.1, CreatedAt: now, UpdatedAt: now,
	})
	d.SaveOrder(ctx, db.Order{
		ID: "o2", Pair: "BTC/USD", Side: "buy", Type: "limit", Status: "closed",
		Price: 39000, Quantity: 0.1, CreatedAt: now, UpdatedAt: now,
	})

	w, body := get(t, s, "/api/orders/open?pair=BTC/USD")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if body["count"] != 1.0 {
		t.Errorf("count = %v, want 1", body["count"])
	}
}

func TestStatsEndpointWithoutDB(t *testing.T) {
	s := NewServer(Deps{})
	w, _ := get(t, s, "/api/stats")
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	s := NewServer(Deps{})

	// Burst of requests against the per-IP limiter: some must be rejected.
	saw429 := false
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		w := httptest.NewRecorder()
		s.Handler().ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			saw429 = true
			break
		}
	}
	if !saw429 {
		t.Error("expected at least one 429 under burst load")
	}
}
