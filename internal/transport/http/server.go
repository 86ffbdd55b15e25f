// Package http exposes chats, keys, models and tools over a gin REST API
// and streams replies over websockets.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sandevgo/chatd/internal/config"
	"github.com/sandevgo/chatd/internal/core"
	"github.com/sandevgo/chatd/internal/providers/llm"
	"github.com/sandevgo/chatd/internal/providers/tools"
	"github.com/sandevgo/chatd/internal/service/chat"
	"github.com/sandevgo/chatd/internal/service/stream"
	"github.com/sandevgo/chatd/pkg/log"
)

type Catalog interface {
	Lookup(name string) (core.ModelInfo, error)
	List(ctx context.Context, userID string) ([]llm.CatalogEntry, error)
}

type Deps struct {
	Users   core.UserRepository
	Keys    core.KeyRepository
	Catalog Catalog
	Tools   *tools.Registry
	Chats   *chat.Service
	Streams *stream.Manager
}

// Server is the HTTP front of the chat service.
type Server struct {
	router   *gin.Engine
	srv      *http.Server
	cfg      *config.ServerConfig
	uploads  string
	limiter  *limiter
	upgrader websocket.Upgrader

	users   core.UserRepository
	keys    core.KeyRepository
	catalog Catalog
	tools   *tools.Registry
	chats   *chat.Service
	streams *stream.Manager
}

// NewServer builds the router. Request loggers derive from the logger in ctx.
func NewServer(ctx context.Context, cfg *config.ServerConfig, uploads string, deps Deps) *Server {
	if zerolog.GlobalLevel() > zerolog.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router:  gin.New(),
		cfg:     cfg,
		uploads: uploads,
		limiter: newLimiter(cfg.RateLimit, cfg.RateBurst),
		users:   deps.Users,
		keys:    deps.Keys,
		catalog: deps.Catalog,
		tools:   deps.Tools,
		chats:   deps.Chats,
		streams: deps.Streams,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.router.Use(gin.Recovery())
	s.router.Use(baseContext(ctx))
	s.router.Use(requestLogger())
	s.router.MaxMultipartMemory = 8 << 20

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/")
	api.Use(s.authMiddleware())
	{
		api.GET("/me", s.handleMe)

		api.GET("/models", s.handleListModels)
		api.GET("/models/:name", s.handleGetModel)

		api.GET("/tools", s.handleListTools)
		api.GET("/tools/:name", s.handleGetTool)
		api.POST("/tools/:name", s.rateLimit(), s.handleRunTool)

		api.GET("/keys", s.handleListKeys)
		api.PUT("/keys/:provider", s.handleSetKey)
		api.DELETE("/keys/:provider", s.handleDeleteKey)

		api.GET("/chats", s.handleListChats)
		api.POST("/chats", s.handleCreateChat)
		api.GET("/chats/:id", s.handleGetChat)
		api.PUT("/chats/:id", s.handleUpdateChat)
		api.DELETE("/chats/:id", s.handleDeleteChat)
		api.GET("/chats/:id/export", s.handleExportChat)

		api.POST("/chats/:id/messages", s.rateLimit(), s.handleSendMessage)
		api.POST("/chats/:id/stream", s.rateLimit(), s.handleStartStream)
		api.GET("/chats/:id/stream", s.handleStreamSocket)

		api.GET("/uploads/:name", s.handleGetUpload)
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.ListenAddr, err)
	}
	log.FromCtx(ctx).Info().Str("addr", ln.Addr().String()).Msg("starting HTTP server")

	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
		return nil
	}
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	log.FromCtx(ctx).Info().Msg("shutting down HTTP server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": core.AppVersion})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
