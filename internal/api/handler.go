package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"execution-core/internal/engine"
	"execution-core/internal/events"
)

// Server wires HTTP endpoints around the execution service.
type Server struct {
	Router  *gin.Engine
	Engine  engine.Service
	Bus     *events.Bus
	Metrics prometheus.Gatherer
	Log     zerolog.Logger
}

// Options tunes the middleware stack.
type Options struct {
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

func NewServer(svc engine.Service, bus *events.Bus, gatherer prometheus.Gatherer, opts Options, log zerolog.Logger) *Server {
	if opts.RateLimitRPS <= 0 {
		opts.RateLimitRPS = 20
	}
	if opts.RateLimitBurst <= 0 {
		opts.RateLimitBurst = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	log = log.With().Str("component", "api").Logger()

	r := gin.New()

	limiters := newIPLimiters(opts.RateLimitRPS, opts.RateLimitBurst)

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())                         // Panic recovery (first)
	r.Use(RequestIDMiddleware())                  // Request ID tracking
	r.Use(RequestLogger(log))                     // Request logging (after ID is set)
	r.Use(RateLimitMiddleware(limiters, log))     // Rate limiting
	r.Use(TimeoutMiddleware(opts.RequestTimeout)) // Request deadline
	r.Use(CORSMiddleware())                       // CORS (last before routes)

	s := &Server{
		Router:  r,
		Engine:  svc,
		Bus:     bus,
		Metrics: gatherer,
		Log:     log,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.Metrics != nil {
		s.Router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics, promhttp.HandlerOpts{})))
	}

	ws := s.Router.Group("/ws")
	{
		ws.GET("/prices", s.streamPrices)
		ws.GET("/orders", s.streamOrders)
	}

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)

		trades := api.Group("/trades")
		{
			trades.POST("", s.placeTrade)
			trades.POST("/batch", s.placeBatchTrades)
			trades.GET("/open", s.getOpenOrders)
			trades.GET("/history", s.getTradeHistory)
			trades.POST("/:id/close", s.closeTrade)
			trades.PUT("/:id", s.modifyTrade)
		}

		mkt := api.Group("/market/:symbol")
		{
			mkt.GET("/price", s.getPrice)
			mkt.GET("/candles", s.getCandles)
			mkt.GET("/timeframes", s.getMultiTimeframe)
			mkt.GET("/indicators/:name", s.getIndicator)
		}

		api.GET("/cache/stats", s.getCacheStats)
		api.DELETE("/cache", s.clearCache)
		api.POST("/account", s.switchAccount)
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.Engine.GetSystemStatus(c.Request.Context())
	status := "ok"
	if !st.Connected {
		status = "degraded"
	}
	c.JSON(http.StatusOK, gin.H{"status": status, "account": st.ActiveAccount, "connected": st.Connected})
}

// Handler exposes the router for http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
