package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/crateline/internal/chat"
)

// Server exposes the conversation synchronization operations to UI call
// sites over HTTP.
type Server struct {
	echo    *echo.Echo
	port    int
	manager *chat.Manager
}

// NewServer creates a new API server around a chat manager.
func NewServer(port int, manager *chat.Manager) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:    e,
		port:    port,
		manager: manager,
	}

	server.setupRoutes()

	return server
}

func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	v1.GET("/threads", s.listThreads)
	v1.POST("/threads/load-more", s.loadMoreThreads)
	v1.POST("/threads/open", s.openThread)
	v1.GET("/threads/:id/messages", s.getMessages)
	v1.POST("/threads/:id/messages", s.sendMessage)
	v1.POST("/threads/:id/read", s.markThreadRead)
	v1.POST("/session/token", s.refreshToken)
	v1.POST("/session/sign-out", s.signOut)
	v1.GET("/status", s.getStatus)
}

// Start begins the API server and blocks until interrupted.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}
