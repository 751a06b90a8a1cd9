// Package httpapi exposes the service over HTTP: token-based auth endpoints
// and the authenticated file API.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/dmitrijs2005/filevault/internal/logging"
	"github.com/dmitrijs2005/filevault/internal/server/config"
	"github.com/dmitrijs2005/filevault/internal/server/services"
)

// Server wires the echo router to the user and vault services.
type Server struct {
	echo           *echo.Echo
	users          *services.UserService
	vault          *services.VaultService
	logger         logging.Logger
	addr           string
	maxUploadBytes int64
}

// NewServer builds the router with middleware and all routes registered.
func NewServer(cfg *config.Config, users *services.UserService, vault *services.VaultService, logger logging.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))

	s := &Server{
		echo:           e,
		users:          users,
		vault:          vault,
		logger:         logger,
		addr:           cfg.EndpointAddr,
		maxUploadBytes: cfg.MaxUploadBytes,
	}
	s.routes([]byte(cfg.SecretKey))
	return s
}

func (s *Server) routes(secretKey []byte) {
	e := s.echo

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	api := e.Group("/api")

	authGroup := api.Group("/auth")
	authGroup.POST("/register", s.handleRegister)
	authGroup.POST("/login", s.handleLogin)
	authGroup.POST("/logout", s.handleLogout)
	authGroup.POST("/refresh", s.handleRefresh)

	protected := api.Group("", JWTAuth(secretKey))
	protected.GET("/users/me", s.handleMe)

	files := protected.Group("/files")
	files.POST("/upload", s.handleUpload)
	files.GET("", s.handleList)
	files.GET("/stats", s.handleStats)
	files.GET("/:id", s.handleDetail)
	files.GET("/:id/download", s.handleDownload)
	files.DELETE("/:id", s.handleDelete)
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "http server starting", "addr", s.addr)
		errCh <- s.echo.Start(s.addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		s.logger.Info(ctx, "shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server: %w", err)
		}
		s.logger.Info(ctx, "shutdown complete")
	}
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}
