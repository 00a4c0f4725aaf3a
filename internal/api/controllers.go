package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"execution-core/internal/engine"
	"execution-core/internal/gateway"
	"execution-core/internal/indicators"
	"execution-core/internal/market"
	"execution-core/internal/order"
	"execution-core/internal/symbols"
)

const defaultTimeframe = "1h"

type batchTradeRequest struct {
	Trades []order.TradeIntent `json:"trades" binding:"required"`
}

type batchTradeResponse struct {
	Results   []order.TradeOutcome `json:"results"`
	Total     int                  `json:"total"`
	Succeeded int                  `json:"succeeded"`
	Failed    int                  `json:"failed"`
}

type switchAccountRequest struct {
	AccountID string `json:"accountId" binding:"required,min=1"`
}

type candlesQuery struct {
	Timeframe string `form:"timeframe"`
	Count     int    `form:"count"`
}

type timeframesQuery struct {
	Timeframes string `form:"tf"`
	Count      int    `form:"count"`
}

type indicatorQuery struct {
	Timeframe string  `form:"timeframe"`
	Count     int     `form:"count"`
	Period    int     `form:"period"`
	Fast      int     `form:"fast"`
	Slow      int     `form:"slow"`
	Signal    int     `form:"signal"`
	StdDev    float64 `form:"stdDev"`
}

type historyQuery struct {
	Start  string `form:"start"`
	End    string `form:"end"`
	Limit  int    `form:"limit"`
	Symbol string `form:"symbol"`
}

func (q *candlesQuery) normalize() {
	if q.Timeframe == "" {
		q.Timeframe = defaultTimeframe
	}
}

func (q *historyQuery) options() (order.HistoryOptions, error) {
	if q.Limit > 500 {
		q.Limit = 500
	}
	opts := order.HistoryOptions{Limit: q.Limit, Symbol: q.Symbol}
	var err error
	if q.Start != "" {
		if opts.Start, err = time.Parse(time.RFC3339, q.Start); err != nil {
			return opts, &order.ValidationError{Field: "start", Reason: "must be RFC3339"}
		}
	}
	if q.End != "" {
		if opts.End, err = time.Parse(time.RFC3339, q.End); err != nil {
			return opts, &order.ValidationError{Field: "end", Reason: "must be RFC3339"}
		}
	}
	return opts, nil
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.JSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// respondErr maps typed errors from read paths to HTTP statuses.
func respondErr(c *gin.Context, err error) {
	status, code := statusFor(err)
	respondError(c, status, code, err.Error())
}

func statusFor(err error) (int, string) {
	var (
		verr *order.ValidationError
		serr *symbols.SymbolResolutionError
		uerr *indicators.UnsupportedIndicatorError
	)
	switch {
	case errors.As(err, &verr), errors.Is(err, symbols.ErrEmptySymbol):
		return http.StatusBadRequest, string(order.ErrorKindValidation)
	case errors.Is(err, market.ErrInvalidTimeframe):
		return http.StatusBadRequest, "invalid_timeframe"
	case errors.As(err, &uerr):
		return http.StatusBadRequest, "unsupported_indicator"
	case errors.Is(err, indicators.ErrInsufficientData):
		return http.StatusBadRequest, "insufficient_data"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, string(order.ErrorKindTimeout)
	case errors.Is(err, gateway.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable, string(order.ErrorKindGatewayUnavailable)
	case errors.As(err, &serr):
		return http.StatusNotFound, string(order.ErrorKindSymbolResolution)
	case errors.Is(err, market.ErrSubscriptionNotFound):
		return http.StatusNotFound, "subscription_not_found"
	}
	return http.StatusBadGateway, string(order.ErrorKindGateway)
}

// --- Trades ---

// Trade endpoints answer 200 with the outcome whether or not the broker
// accepted it; only an unreadable body is a 400.

func (s *Server) placeTrade(c *gin.Context) {
	var intent order.TradeIntent
	if err := c.ShouldBindJSON(&intent); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.Engine.PlaceTrade(c.Request.Context(), intent))
}

func (s *Server) placeBatchTrades(c *gin.Context) {
	var req batchTradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	results := s.Engine.PlaceBatchTrades(c.Request.Context(), req.Trades)
	resp := batchTradeResponse{Results: results, Total: len(results)}
	for _, r := range results {
		if r.Success {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) closeTrade(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.CloseTrade(c.Request.Context(), c.Param("id")))
}

func (s *Server) modifyTrade(c *gin.Context) {
	var req order.ModifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	c.JSON(http.StatusOK, s.Engine.ModifyTrade(c.Request.Context(), c.Param("id"), req))
}

func (s *Server) getOpenOrders(c *gin.Context) {
	orders, err := s.Engine.GetOpenOrders(c.Request.Context())
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders, "count": len(orders)})
}

func (s *Server) getTradeHistory(c *gin.Context) {
	var q historyQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	opts, err := q.options()
	if err != nil {
		respondErr(c, err)
		return
	}
	records, err := s.Engine.GetTradeHistory(c.Request.Context(), opts)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records, "count": len(records)})
}

// --- Market data ---

func (s *Server) getPrice(c *gin.Context) {
	q, err := s.Engine.GetCurrentPrice(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, q)
}

func (s *Server) getCandles(c *gin.Context) {
	var q candlesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	q.normalize()
	candles, err := s.Engine.GetCandles(c.Request.Context(), c.Param("symbol"), q.Timeframe, q.Count)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"symbol":    strings.ToUpper(c.Param("symbol")),
		"timeframe": q.Timeframe,
		"count":     len(candles),
		"candles":   candles,
	})
}

func (s *Server) getMultiTimeframe(c *gin.Context) {
	var q timeframesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	var tfs []string
	for _, tf := range strings.Split(q.Timeframes, ",") {
		if tf = strings.TrimSpace(tf); tf != "" {
			tfs = append(tfs, tf)
		}
	}
	data, err := s.Engine.GetMultiTimeframeData(c.Request.Context(), c.Param("symbol"), tfs, q.Count)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": strings.ToUpper(c.Param("symbol")), "timeframes": data})
}

func (s *Server) getIndicator(c *gin.Context) {
	var q indicatorQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if q.Timeframe == "" {
		q.Timeframe = defaultTimeframe
	}
	res, err := s.Engine.CalculateIndicator(c.Request.Context(), engine.IndicatorRequest{
		Symbol:    c.Param("symbol"),
		Timeframe: q.Timeframe,
		Count:     q.Count,
		Name:      c.Param("name"),
		Params: indicators.Params{
			Period: q.Period,
			Fast:   q.Fast,
			Slow:   q.Slow,
			Signal: q.Signal,
			StdDev: q.StdDev,
		},
	})
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// --- Cache & account ---

func (s *Server) getCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetCacheStats(c.Request.Context()))
}

func (s *Server) clearCache(c *gin.Context) {
	res, err := s.Engine.ClearCache(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"code": "cache_clear_failed", "error": err.Error(), "cleared": res})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cleared": res})
}

func (s *Server) switchAccount(c *gin.Context) {
	var req switchAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	info, err := s.Engine.SwitchAccount(c.Request.Context(), req.AccountID)
	if err != nil {
		respondErr(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) getSystemStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Engine.GetSystemStatus(c.Request.Context()))
}
