package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/desertthunder/auxfm/internal/services"
	"github.com/desertthunder/auxfm/internal/shared"
)

// Server is the HTTP delivery surface over the coordinator.
type Server struct {
	echo     *echo.Echo
	sessions Sessions
	player   services.Player
	config   *shared.Config
	logger   *log.Logger
}

// New creates the Server and registers all routes.
func New(config *shared.Config, sessions Sessions, player services.Player, logger *log.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		sessions: sessions,
		player:   player,
		config:   config,
		logger:   logger,
	}

	e.Use(middleware.Recover())
	e.Use(observeRequests)
	e.Use(s.requestLogger)
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	e.GET("/auth/login", s.handleLogin)
	e.GET("/auth/callback", s.handleCallback)

	api := e.Group("/api/sessions/:passcode")
	api.POST("/join", s.handleJoin)

	auth := api.Group("", memberAuth(s.config.Server.JWTSecret))
	auth.GET("", s.handleStatus)
	auth.POST("/queue", s.handleQueue)
	auth.POST("/vote", s.handleVote)
	auth.POST("/skip", s.handleSkip)
	auth.POST("/device", s.handleDevice)
	auth.POST("/logout", s.handleLogout)
}

// Start blocks serving HTTP until Shutdown or a listener error.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.logger.Info("listening", "addr", addr)

	if err := s.echo.Start(addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// requestLogger resolves handler errors into responses so the outer metrics
// middleware observes the final status.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := next(c); err != nil {
			c.Error(err)
		}
		s.logger.Debug("request",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"status", c.Response().Status,
		)
		return nil
	}
}
