package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/caffeineduck/pybox/internal/config"
	"github.com/caffeineduck/pybox/internal/metrics"
	"github.com/caffeineduck/pybox/sandbox"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP server for code execution",
	Long: `Start an HTTP server that runs each request in a fresh sandbox.

Endpoints:
  POST   /execute   Run code, body {"code":"...","capability":"exec|eval"}
  GET    /health    Health check
  GET    /metrics   Prometheus metrics`,
	Args:          cobra.NoArgs,
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runServe,
}

const shutdownTimeout = 10 * time.Second

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (default from config, :8080)")
	serveCmd.Flags().Int64("max-concurrent", 0, "Maximum concurrent executions (default from config)")
	rootCmd.AddCommand(serveCmd)
}

type executeRequest struct {
	Code       string `json:"code"`
	Capability string `json:"capability,omitempty"`
}

type executeResponse struct {
	RequestID  string  `json:"request_id"`
	Value      *string `json:"value,omitempty"`
	Error      string  `json:"error,omitempty"`
	Kind       string  `json:"kind,omitempty"`
	DurationMs int64   `json:"duration_ms"`
}

type server struct {
	host     *sandbox.Host
	limiter  *rate.Limiter
	sem      *semaphore.Weighted
	registry *prometheus.Registry
	logger   *zap.Logger
}

func newServer(host *sandbox.Host, cfg config.ServerConfig, registry *prometheus.Registry, logger *zap.Logger) *server {
	limit := rate.Inf
	if cfg.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.RateLimitRPS)
	}
	return &server{
		host:     host,
		limiter:  rate.NewLimiter(limit, max(cfg.RateLimitBurst, 1)),
		sem:      semaphore.NewWeighted(max(cfg.MaxConcurrent, 1)),
		registry: registry,
		logger:   logger,
	}
}

func (s *server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), s.requestID(), s.accessLog())

	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	router.POST("/execute", s.rateLimit(), s.execute)
	return router
}

func (s *server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, executeResponse{
				RequestID: c.GetString("request_id"),
				Error:     "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func (s *server) execute(c *gin.Context) {
	resp := executeResponse{RequestID: c.GetString("request_id")}

	var req executeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		resp.Error = "invalid json"
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	capability, ok := parseCapability(req.Capability)
	if !ok {
		resp.Error = "unknown capability " + req.Capability
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	ctx := c.Request.Context()
	if err := s.sem.Acquire(ctx, 1); err != nil {
		resp.Error = "server busy"
		c.JSON(http.StatusServiceUnavailable, resp)
		return
	}
	defer s.sem.Release(1)

	start := time.Now()
	value, err := s.host.Run(ctx, capability, req.Code)
	resp.DurationMs = time.Since(start).Milliseconds()

	if err != nil {
		kind := sandbox.KindOf(err)
		resp.Error = err.Error()
		resp.Kind = kind.String()
		c.JSON(statusFor(kind), resp)
		return
	}

	resp.Value = &value
	c.JSON(http.StatusOK, resp)
}

func parseCapability(s string) (sandbox.Capability, bool) {
	switch strings.ToLower(s) {
	case "", "exec":
		return sandbox.Exec, true
	case "eval":
		return sandbox.Eval, true
	default:
		return "", false
	}
}

func statusFor(kind sandbox.Kind) int {
	switch kind {
	case sandbox.KindGuest:
		return http.StatusUnprocessableEntity
	case sandbox.KindInterrupted:
		return http.StatusRequestTimeout
	default:
		return http.StatusInternalServerError
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if n, _ := cmd.Flags().GetInt64("max-concurrent"); n > 0 {
		cfg.Server.MaxConcurrent = n
	}

	registry := prometheus.NewRegistry()
	m, err := metrics.New(registry)
	if err != nil {
		return err
	}

	// Guests never read stdin and their stdout is not part of the response.
	host, logger, err := newHost(cmd,
		sandbox.WithStdin(strings.NewReader("")),
		sandbox.WithStdout(io.Discard),
		sandbox.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	defer logger.Sync()
	defer host.Close(context.Background())

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           newServer(host, cfg.Server, registry, logger).routes(),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      host.Timeout() + 10*time.Second,
	}

	g, ctx := errgroup.WithContext(cmd.Context())
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
