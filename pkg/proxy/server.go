package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/telekom/copilot-gateway/pkg/copilot"
	"github.com/telekom/copilot-gateway/pkg/credentials"
	"github.com/telekom/copilot-gateway/pkg/deviceauth"
	"github.com/telekom/copilot-gateway/pkg/metrics"
	"github.com/telekom/copilot-gateway/pkg/ratelimit"
	"github.com/telekom/copilot-gateway/pkg/system"
	"github.com/telekom/copilot-gateway/pkg/telemetry"
)

const (
	// RequestIDHeader carries the proxy's own request identifier.
	RequestIDHeader = "X-Request-Id"
	// UpstreamRequestIDHeader carries the identifier shared by all upstream
	// attempts of a proxied completion.
	UpstreamRequestIDHeader = "X-Upstream-Request-Id"
	// UpstreamAttemptsHeader is the number of upstream attempts used.
	UpstreamAttemptsHeader = "X-Upstream-Attempts"

	requestIDKey = "requestID"
)

type Config struct {
	ListenAddress   string
	CORSOrigins     []string
	RateLimit       ratelimit.Config
	AuthRateLimit   ratelimit.Config
	ShutdownTimeout time.Duration
	Debug           bool
}

// Deps are the collaborators the server routes to.
type Deps struct {
	Client *copilot.Client
	// Tokens receives the credential of a successful device login. Nil
	// disables the /auth/device routes.
	Tokens     *credentials.TokenManager
	Profile    string
	DeviceAuth deviceauth.Config
	Now        func() time.Time
}

type Server struct {
	engine      *gin.Engine
	cfg         Config
	deps        Deps
	log         *zap.SugaredLogger
	flow        *deviceauth.Flow
	limiter     *ratelimit.IPRateLimiter
	authLimiter *ratelimit.IPRateLimiter
	closeOnce   sync.Once
}

func NewServer(log *zap.Logger, cfg Config, deps Deps) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	s := &Server{
		cfg:  cfg,
		deps: deps,
		log:  log.Sugar(),
	}
	onReject := ratelimit.WithRejectHook(func(c *gin.Context) {
		metrics.ProxyRateLimited.Inc()
		system.GetReqLogger(c, s.log).Debugw("Request rate limited", "clientIP", c.ClientIP())
	})
	s.limiter = ratelimit.New(cfg.RateLimit, onReject)
	s.authLimiter = ratelimit.New(cfg.AuthRateLimit, onReject)

	da := deps.DeviceAuth
	if da.Logger == nil {
		da.Logger = s.log
	}
	next := da.OnStateChange
	da.OnStateChange = func(from, to deviceauth.State) {
		metrics.ObserveDeviceAuth(from, to)
		if next != nil {
			next(from, to)
		}
	}
	s.flow = deviceauth.NewFlow(da)

	engine := gin.New()
	engine.Use(
		ginzap.Ginzap(log, time.RFC3339, true),
		ginzap.RecoveryWithZap(log, true),
	)
	if len(cfg.CORSOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.CORSOrigins,
			AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Authorization", "Content-Type", RequestIDHeader},
			ExposeHeaders: []string{RequestIDHeader, UpstreamRequestIDHeader, UpstreamAttemptsHeader},
			MaxAge:        12 * time.Hour,
		}))
	}
	engine.Use(
		requestID,
		traceRequest,
		system.RequestLogger(s.log, func(c *gin.Context) string { return c.GetString(requestIDKey) }),
		observeRequest,
	)
	engine.NoRoute(func(c *gin.Context) {
		abortWithError(c, http.StatusNotFound, errTypeNotFound, "unknown route "+c.Request.URL.Path)
	})

	engine.GET("/healthz", s.healthz)
	engine.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))

	v1 := engine.Group("/v1", s.limiter.Middleware())
	v1.POST("/chat/completions", s.chatCompletions)
	v1.GET("/models", s.listModels)

	st := engine.Group("/stats", s.limiter.Middleware())
	st.GET("", s.getStats)
	st.POST("/reset", s.resetStats)

	if deps.Tokens != nil {
		auth := engine.Group("/auth/device", s.authLimiter.Middleware())
		auth.POST("", s.startDeviceAuth)
		auth.GET("", s.getDeviceAuth)
		auth.DELETE("", s.cancelDeviceAuth)
	}

	s.engine = engine
	return s
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run listens on the configured address until ctx is done, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddress, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("Copilot proxy listening", "address", ln.Addr().String())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	s.log.Infow("Shutting down copilot proxy", "timeout", s.cfg.ShutdownTimeout)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close cancels a pending device login and stops the rate limiters. It is
// safe to call more than once.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		s.flow.Cancel()
		s.limiter.Stop()
		s.authLimiter.Stop()
	})
}

// requestID reuses a well-formed incoming X-Request-Id or issues a new one.
func requestID(c *gin.Context) {
	id := c.GetHeader(RequestIDHeader)
	if _, err := uuid.Parse(id); err != nil {
		id = uuid.NewString()
	}
	c.Set(requestIDKey, id)
	c.Header(RequestIDHeader, id)
	c.Next()
}

// traceRequest opens a server span that upstream calls of the handler nest
// under. An incoming traceparent header is honoured.
func traceRequest(c *gin.Context) {
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	ctx := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
	ctx, span := telemetry.Tracer().Start(ctx, c.Request.Method+" "+route,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.String("client.address", c.ClientIP()),
			attribute.String("proxy.request_id", c.GetString(requestIDKey)),
		))
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	c.Next()

	status := c.Writer.Status()
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	if status >= http.StatusInternalServerError {
		span.SetStatus(codes.Error, http.StatusText(status))
	}
}

func observeRequest(c *gin.Context) {
	c.Next()
	metrics.ObserveProxyRequest(c.FullPath(), c.Writer.Status())
}

func (s *Server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"authenticated": s.deps.Client.HasToken(),
	})
}
