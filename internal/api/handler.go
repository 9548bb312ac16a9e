package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gridcore/internal/balance"
	"gridcore/internal/breaker"
	"gridcore/internal/monitor"
	"gridcore/internal/ratelimit"
	"gridcore/internal/retry"
	"gridcore/pkg/db"
)

// Deps are the components the status API reads from. Any may be nil; the
// corresponding sections are simply omitted.
type Deps struct {
	Breaker *breaker.TradingBreaker
	Retry   *retry.Manager
	Limits  *ratelimit.VenueLimiter
	Funds   *balance.Tracker
	Monitor *monitor.Monitor
	DB      *db.Database
}

// Server exposes read-only operational endpoints. It never mutates trading
// state: observing the breaker must not count as a call against it.
type Server struct {
	deps   Deps
	engine *gin.Engine
	start  time.Time
}

// NewServer builds the HTTP server and its routes.
func NewServer(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RateLimitMiddleware(10, 20))

	s := &Server{deps: deps, engine: engine, start: time.Now()}

	engine.GET("/health", s.health)
	api := engine.Group("/api")
	{
		api.GET("/status", s.status)
		api.GET("/orders/open", s.openOrders)
		api.GET("/orders/history", s.orderHistory)
		api.GET("/trades", s.trades)
		api.GET("/stats", s.stats)
	}
	return s
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

// Handler exposes the router, used by tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.start).Round(time.Second).String(),
	})
}

func (s *Server) status(c *gin.Context) {
	out := gin.H{"uptime": time.Since(s.start).Round(time.Second).String()}

	if s.deps.Breaker != nil {
		out["breaker"] = s.deps.Breaker.Stats()
	}
	if s.deps.Retry != nil {
		out["retry"] = s.deps.Retry.RetryStats()
	}
	if s.deps.Limits != nil {
		out["rate_limits"] = gin.H{
			"venue":   s.deps.Limits.Venue(),
			"classes": s.deps.Limits.Stats(),
		}
	}
	if s.deps.Funds != nil {
		out["balance"] = s.deps.Funds.Snapshot()
	}
	if s.deps.Monitor != nil {
		out["monitor"] = s.deps.Monitor.Summary()
	}

	c.JSON(http.StatusOK, out)
}

func (s *Server) openOrders(c *gin.Context) {
	if s.deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	orders, err := s.deps.DB.ListOpenOrders(c.Request.Context(), c.Query("pair"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) orderHistory(c *gin.Context) {
	if s.deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	orders, err := s.deps.DB.OrderHistory(c.Request.Context(), historyFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) trades(c *gin.Context) {
	if s.deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	trades, err := s.deps.DB.TradeHistory(c.Request.Context(), historyFilter(c))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades, "count": len(trades)})
}

func (s *Server) stats(c *gin.Context) {
	if s.deps.DB == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage disabled"})
		return
	}
	stats, err := s.deps.DB.GetStats(c.Request.Context(), c.Query("pair"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, stats)
}

func historyFilter(c *gin.Context) db.HistoryFilter {
	f := db.HistoryFilter{Pair: c.Query("pair")}
	if v := c.Query("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.From = t
		}
	}
	if v := c.Query("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			f.To = t
		}
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	if v := c.Query("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Offset = n
		}
	}
	return f
}
