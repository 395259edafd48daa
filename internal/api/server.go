// Package api exposes the operator commands over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"etf-trend-bot/internal/bot"
	"etf-trend-bot/internal/models"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Operator is the engine surface the API drives.
type Operator interface {
	Status(ctx context.Context) (models.StatusReport, error)
	Review(ctx context.Context) models.ReviewReport
	CancelAllTargets(ctx context.Context) (int, error)
	ManualSell(ctx context.Context, symbol string) error
	ManualBuy(ctx context.Context, symbol string) error
	TestOrder(ctx context.Context, symbol string, side models.Side) (string, error)
}

// Server exposes the operator commands over HTTP.
type Server struct {
	op     Operator
	engine *gin.Engine
	logger *zap.Logger
}

// New builds the router; nothing listens until ListenAndServe.
func New(op Operator, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{op: op, engine: gin.New(), logger: logger}
	s.engine.Use(gin.Recovery(), s.accessLog)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r := s.engine.Group("/api")
	{
		r.GET("/status", s.status)
		r.GET("/review", s.review)

		orders := r.Group("/orders")
		orders.POST("/cancel", s.cancelAll)
		orders.POST("/:symbol/buy", s.buy)
		orders.POST("/:symbol/sell", s.sell)
		orders.POST("/:symbol/testbuy", s.testOrder(models.Buy))
		orders.POST("/:symbol/testsell", s.testOrder(models.Sell))
	}

	s.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	})
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 5 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("Operator API listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.logger.Info("API request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.Duration("latency", time.Since(start)))
}

func (s *Server) status(c *gin.Context) {
	r, err := s.op.Status(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, r)
}

func (s *Server) review(c *gin.Context) {
	c.JSON(http.StatusOK, s.op.Review(c.Request.Context()))
}

func (s *Server) cancelAll(c *gin.Context) {
	n, err := s.op.CancelAllTargets(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"cancelled": n, "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": n})
}

func (s *Server) buy(c *gin.Context) {
	sym := symbol(c)
	if err := s.op.ManualBuy(c.Request.Context(), sym); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "submitted": true})
}

func (s *Server) sell(c *gin.Context) {
	sym := symbol(c)
	if err := s.op.ManualSell(c.Request.Context(), sym); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": sym, "submitted": true})
}

func (s *Server) testOrder(side models.Side) gin.HandlerFunc {
	return func(c *gin.Context) {
		sym := symbol(c)
		warning, err := s.op.TestOrder(c.Request.Context(), sym, side)
		if err != nil {
			s.fail(c, err)
			return
		}
		resp := gin.H{"symbol": sym, "side": side.String(), "submitted": true}
		if warning != "" {
			resp["warning"] = warning
		}
		c.JSON(http.StatusOK, resp)
	}
}

func (s *Server) fail(c *gin.Context, err error) {
	code := http.StatusBadGateway
	switch {
	case errors.Is(err, bot.ErrUnknownSymbol):
		code = http.StatusNotFound
	case errors.Is(err, bot.ErrNoPosition):
		code = http.StatusConflict
	}
	s.logger.Warn("API command failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
	c.JSON(code, gin.H{"error": err.Error()})
}

func symbol(c *gin.Context) string {
	return strings.ToUpper(c.Param("symbol"))
}
