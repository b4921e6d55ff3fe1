// Package httpping exposes the HTTP ping endpoint.
//
// Routes (GET, POST and HEAD):
//
//	/ping/<uuid>                   success
//	/ping/<uuid>/start|fail|success
//	/ping/<project>/<check>        success
//	/ping/<project>/<check>/start|fail|success
//
// Unknown checks still answer 200 so a caller cannot probe for ids.
package httpping

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/NordCoder/Beacon/internal/domain/ping"
	"github.com/NordCoder/Beacon/internal/services/ingest"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

type Config struct {
	Addr         string        `mapstructure:"addr"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	TrustProxies []string      `mapstructure:"trusted_proxies"`
}

// Recorder is the ingest side of the endpoint.
type Recorder interface {
	RecordPing(ctx context.Context, id ingest.Identifier, kind ping.Kind, body, sourceIP, transport string) error
}

type Server struct {
	cfg    Config
	log    *zap.Logger
	rec    Recorder
	router *gin.Engine
	server *http.Server
}

func NewServer(cfg Config, rec Recorder, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:    cfg,
		log:    log.With(zap.String("component", "httpping")),
		rec:    rec,
		router: gin.New(),
	}
	if len(cfg.TrustProxies) > 0 {
		if err := s.router.SetTrustedProxies(cfg.TrustProxies); err != nil {
			s.log.Warn("invalid trusted proxies, ignoring", zap.Error(err))
		}
	} else {
		_ = s.router.SetTrustedProxies(nil)
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
	return s
}

// Handler is the traced router.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, "ping",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " /ping"
		}),
	)
}

func (s *Server) Start() error {
	s.log.Info("http listening", zap.String("addr", s.cfg.Addr))
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve http: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down http server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupMiddleware() {
	s.router.Use(s.recovery())
	s.router.Use(s.accessLog())
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Next()
	})
}

func (s *Server) setupRoutes() {
	methods := []string{http.MethodGet, http.MethodPost, http.MethodHead}

	g := s.router.Group("/ping")
	g.Match(methods, "/:a", s.ping)
	g.Match(methods, "/:a/:b", s.ping)
	g.Match(methods, "/:a/:b/:c", s.ping)

	s.router.NoRoute(func(c *gin.Context) {
		c.String(http.StatusNotFound, "not found")
	})
}

// ping serves every /ping route; gin fills only the params its route has.
func (s *Server) ping(c *gin.Context) {
	var segs []string
	for _, name := range []string{"a", "b", "c"} {
		if v := c.Param(name); v != "" {
			segs = append(segs, v)
		}
	}
	id, kind, ok := ingest.ParseSegments(segs)
	if !ok {
		c.String(http.StatusNotFound, "not found")
		return
	}
	s.record(c, id, kind)
}

func (s *Server) record(c *gin.Context, id ingest.Identifier, kind ping.Kind) {
	var body string
	if c.Request.Body != nil && c.Request.Method != http.MethodHead {
		raw, err := io.ReadAll(io.LimitReader(c.Request.Body, ping.MaxBodyBytes+1))
		if err != nil {
			s.log.Debug("read ping body", zap.Error(err))
		}
		body = string(raw)
	}

	err := s.rec.RecordPing(c.Request.Context(), id, kind, body, c.ClientIP(), ping.TransportHTTP)

	var rl *ingest.RateLimitError
	switch {
	case err == nil:
		c.String(http.StatusOK, "OK")
	case errors.As(err, &rl):
		c.Header("Retry-After", retryAfterSeconds(rl.RetryAfter))
		c.String(http.StatusTooManyRequests, "rate limited")
	case errors.Is(err, ingest.ErrInvalidKind):
		c.String(http.StatusBadRequest, "invalid signal")
	default:
		s.log.Error("record ping", zap.String("check", id.String()), zap.Error(err))
		c.String(http.StatusInternalServerError, "internal error")
	}
}

// retryAfterSeconds rounds up and never answers less than one second.
func retryAfterSeconds(d time.Duration) string {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

func (s *Server) recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("panic in ping handler", zap.Any("panic", r), zap.String("path", c.Request.URL.Path))
				c.AbortWithStatus(http.StatusInternalServerError)
			}
		}()
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
