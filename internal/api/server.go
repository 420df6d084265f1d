// Package api exposes the engine over HTTP for UIs and scripts.
package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/paramctl/internal/auth"
	"github.com/danmuck/paramctl/internal/engine"
	"github.com/danmuck/paramctl/internal/observability"
	"github.com/danmuck/paramctl/internal/params"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const version = "0.1.0"

// Engine is the surface the routes drive.
type Engine interface {
	View() *engine.View
	Diff() []engine.DiffEntry
	Subscribe(buffer int) (<-chan *engine.View, func())
	Stage(ctx context.Context, name string, value float64) error
	Unstage(ctx context.Context, name string) error
	UnstageAll(ctx context.Context) (int, error)
	ImportFile(ctx context.Context, entries map[string]float64) (engine.ImportReport, error)
	ApplyStaged(ctx context.Context) (engine.ApplyReport, error)
	Refresh(ctx context.Context) error
	WriteNow(ctx context.Context, name string, value float64) (params.Param, error)
}

// Options tune the HTTP surface.
type Options struct {
	CorsOrigins []string
	// Auth guards mutating routes; nil leaves them open.
	Auth auth.Validator
}

// Server owns the gin router for one engine.
type Server struct {
	Name     string
	Addr     string
	Appeared time.Time

	engine    Engine
	router    *gin.Engine
	upgrader  websocket.Upgrader
	auth      auth.Validator
	origins   map[string]struct{}
	anyOrigin bool
}

func New(name, addr string, e Engine, opts Options) *Server {
	observability.RegisterMetrics()
	origins := normalizeOrigins(opts.CorsOrigins)
	s := &Server{
		Name:     name,
		Addr:     addr,
		Appeared: time.Now(),
		engine:   e,
		auth:     opts.Auth,
		origins:  make(map[string]struct{}, len(origins)),
	}
	for _, o := range origins {
		if o == "*" {
			s.anyOrigin = true
		}
		s.origins[o] = struct{}{}
	}

	corsCfg := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "DELETE"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}
	if s.anyOrigin {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.ComponentLogger(name, "api"), "/health", "/metrics"))
	r.Use(observability.RequestMetricsMiddleware(name))
	r.Use(cors.New(corsCfg))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})
	s.router = r
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4 * 1024,
		WriteBufferSize: 16 * 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.RegisterRoutes()
	return s
}

func (s *Server) HTTPRouter() *gin.Engine {
	return s.router
}

// Serve runs the HTTP server until ctx is cancelled.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("service", s.Name).Str("addr", s.Addr).Msg("api listening")
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
		<-errCh
		return nil
	}
}

// checkOrigin accepts non-browser clients and browser origins on the CORS list.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" || s.anyOrigin {
		return true
	}
	_, ok := s.origins[origin]
	return ok
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:5173"}
	}
	return out
}
