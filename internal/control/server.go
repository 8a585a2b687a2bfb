// Package control serves the local HTTP API that drives a running presence engine.
package control

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/presencectl/internal/auth"
	"github.com/danmuck/presencectl/internal/observability"
	"github.com/danmuck/presencectl/internal/presence"
	"github.com/danmuck/presencectl/internal/rpc"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const (
	Version = "0.1.0"

	DefaultAddr          = "127.0.0.1:6473"
	DefaultMutationRate  = 5.0
	DefaultMutationBurst = 10
)

// Engine is the presence engine surface the API drives.
type Engine interface {
	Connect(ctx context.Context) error
	Disconnect() bool
	SetPresence(doc presence.Activity)
	ClearPresence() bool
	Reply(req presence.JoinRequest, reply presence.JoinReply)
	Status() rpc.Status
}

type Config struct {
	Addr        string
	Token       string
	CORSOrigins []string
	// MutationRate is the sustained mutating requests per second.
	MutationRate  float64
	MutationBurst int
	// ConnectTimeout bounds POST /connect discovery.
	ConnectTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.Addr) == "" {
		c.Addr = DefaultAddr
	}
	if c.MutationRate <= 0 {
		c.MutationRate = DefaultMutationRate
	}
	if c.MutationBurst <= 0 {
		c.MutationBurst = DefaultMutationBurst
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	return c
}

type Server struct {
	cfg      Config
	engine   Engine
	recorder *Recorder
	router   *gin.Engine
	limiter  *rate.Limiter
	started  time.Time
}

func New(cfg Config, engine Engine, recorder *Recorder) *Server {
	cfg = cfg.withDefaults()
	if recorder == nil {
		recorder = NewRecorder(DefaultEventCapacity)
	}
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(cfg.CORSOrigins),
		AllowMethods: []string{"GET", "PUT", "POST", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		cfg:      cfg,
		engine:   engine,
		recorder: recorder,
		router:   r,
		limiter:  rate.NewLimiter(rate.Limit(cfg.MutationRate), cfg.MutationBurst),
		started:  time.Now(),
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Addr() string {
	return s.cfg.Addr
}

// Serve listens on the configured address until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("control.Server listening addr=%s", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// requireToken rejects requests without the configured bearer token. No token configured
// leaves the API open, which is only reachable on the loopback default address.
func (s *Server) requireToken() gin.HandlerFunc {
	validator := auth.StaticToken{Token: s.cfg.Token}
	return func(c *gin.Context) {
		if s.cfg.Token == "" {
			c.Next()
			return
		}
		token, _ := auth.BearerToken(c.GetHeader("Authorization"))
		if err := validator.Validate(token); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func (s *Server) limitMutations() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"http://localhost:3000"}
	}
	return origins
}
