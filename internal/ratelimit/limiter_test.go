package ratelimit

import (
	"context"
	"testing"
	"time"
)

func TestLimiterAllowsUpToMax(t *testing.T) {
	l := NewLimiter(3, time.Second)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := l.Acquire(ctx, "test"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if elapsed := time.Since(start); elapsed > 100*time.Millisecond {
		t.Errorf("first %d acquisitions should not block, took %v", 3, elapsed)
	}
}

func TestLimiterBlocksOverMax(t *testing.T) {
	l := NewLimiter(2, 300*time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, "test"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}

	start := time.Now()
	if err := l.Acquire(ctx, "test"); err != nil {
		t.Fatalf("third acquire: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 200*time.Millisecond {
		t.Errorf("third acquisition should wait for the window, waited only %v", elapsed)
	}
}

func TestLimiterContextCancel(t *testing.T) {
	l := NewLimiter(1, time.Minute)
	if err := l.Acquire(context.Background(), "test"); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if err := l.Acquire(ctx, "test"); err == nil {
		t.Fatal("expected context error while waiting for the window")
	}
}

func TestLimiterStats(t *testing.T) {
	l := NewLimiter(5, time.Minute)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, "test"); err != nil {
			t.Fatalf("acquire: %v", err)
		}
	}

	s := l.Stats()
	if s.Limit != 5 {
		t.Errorf("limit = %d, want 5", s.Limit)
	}
	if s.Used != 2 {
		t.Errorf("used = %d, want 2", s.Used)
	}
	if s.Remaining != 3 {
		t.Errorf("remaining = %d, want 3", s.Remaining)
	}
	if s.Utilization != 40 {
		t.Errorf("utilization = %.1f, want 40", s.Utilization)
	}
}

func TestDefaultLimits(t *testing.T) {
	tests := []struct {
		venue   string
		public  Ceiling
		private Ceiling
		orders  Ceiling
	}{
		{
			venue:   "kraken",
			public:  Ceiling{Calls: 1, Window: time.Second},
			private: Ceiling{Calls: 15, Window: 3 * time.Second},
			orders:  Ceiling{Calls: 10, Window: time.Second},
		},
		{
			venue:   "binance",
			public:  Ceiling{Calls: 20, Window: time.Second},
			private: Ceiling{Calls: 10, Window: time.Second},
			orders:  Ceiling{Calls: 10, Window: time.Second},
		},
		{
			venue:   "unlisted-venue",
			public:  Ceiling{Calls: 10, Window: time.Second},
			private: Ceiling{Calls: 5, Window: time.Second},
			orders:  Ceiling{Calls: 5, Window: time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.venue, func(t *testing.T) {
			got := DefaultLimits(tt.venue)
			if got.Public != tt.public {
				t.Errorf("public = %+v, want %+v", got.Public, tt.public)
			}
			if got.Private != tt.private {
				t.Errorf("private = %+v, want %+v", got.Private, tt.private)
			}
			if got.Orders != tt.orders {
				t.Errorf("orders = %+v, want %+v", got.Orders, tt.orders)
			}
		})
	}
}

func TestVenueLimiterClassDispatch(t *testing.T) {
	vl := NewVenueLimiter("binance")
	ctx := context.Background()

	if err := vl.Acquire(ctx, ClassPublic); err != nil {
		t.Fatalf("public acquire: %v", err)
	}
	if err := vl.Acquire(ctx, ClassOrders); err != nil {
		t.Fatalf("orders acquire: %v", err)
	}
	if err := vl.Acquire(ctx, Class("bogus")); err == nil {
		t.Fatal("expected error for unknown class")
	}

	stats := vl.Stats()
	if stats[ClassPublic].Used != 1 {
		t.Errorf("public used = %d, want 1", stats[ClassPublic].Used)
	}
	if stats[ClassOrders].Used != 1 {
		t.Errorf("orders used = %d, want 1", stats[ClassOrders].Used)
	}
	if stats[ClassPrivate].Used != 0 {
		t.Errorf("private used = %d, want 0", stats[ClassPrivate].Used)
	}
}
