// internal/server/server.go
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"mcp-food-log/internal/analysis"
	"mcp-food-log/internal/auth"
	"mcp-food-log/internal/storage"
)

type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	MaxUploadBytes  int64
	// AnalyzePerMinute caps POST /analyze per user. Zero disables the limit.
	AnalyzePerMinute int
	AnalyzeBurst     int
}

// FoodLogServer serves the REST endpoints and the MCP tool endpoint.
type FoodLogServer struct {
	analysis *analysis.Service
	meals    *storage.MealStore
	issuer   *auth.Issuer
	logger   *zap.Logger
	config   Config
	now      func() time.Time

	router     *gin.Engine
	httpServer *http.Server
}

func NewFoodLogServer(cfg Config, svc *analysis.Service, meals *storage.MealStore, issuer *auth.Issuer, logger *zap.Logger) *FoodLogServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	s := &FoodLogServer{
		analysis: svc,
		meals:    meals,
		issuer:   issuer,
		logger:   logger,
		config:   cfg,
		now:      time.Now,
	}
	s.router = s.routes()
	s.httpServer = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

func (s *FoodLogServer) routes() *gin.Engine {
	r := gin.New()
	r.Use(RequestID(), RequestLogger(s.logger), Recovery(s.logger))

	r.GET("/health", s.handleHealth)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/", auth.Middleware(s.issuer))
	if s.config.AnalyzePerMinute > 0 {
		limiter := newAnalyzeLimiter(s.config.AnalyzePerMinute, s.config.AnalyzeBurst)
		api.POST("/analyze", limiter.Middleware(), s.handleAnalyze)
	} else {
		api.POST("/analyze", s.handleAnalyze)
	}
	api.GET("/analysis/:id", s.handleAnalysisStatus)
	api.POST("/meals", s.handleCreateMeal)
	api.GET("/meals", s.handleListMeals)
	api.GET("/summary/today", s.handleTodaySummary)
	api.GET("/mcp", s.handleListTools)
	api.POST("/mcp", s.handleCallTool)
	return r
}

// Handler exposes the router for tests and embedding.
func (s *FoodLogServer) Handler() http.Handler { return s.router }

// Start serves until ctx is cancelled, then stops accepting requests and
// waits for in-flight analyses to settle.
func (s *FoodLogServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting food log server", zap.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	return s.Stop()
}

func (s *FoodLogServer) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()

	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.analysis.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown timed out with analyses still running")
	}
	return err
}

func (s *FoodLogServer) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if stats, err := s.analysis.LastSweep(c.Request.Context()); err == nil {
		resp["lastSweep"] = stats
	}
	c.JSON(http.StatusOK, resp)
}
