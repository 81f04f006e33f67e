package apiserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/certhook/certhook/pkg/apiserver/handlers"
	"github.com/certhook/certhook/pkg/apiserver/middleware"
	"github.com/certhook/certhook/pkg/auth"
	"github.com/certhook/certhook/pkg/config"
	"github.com/certhook/certhook/pkg/store"
	"github.com/certhook/certhook/pkg/webhook"
)

type Server struct {
	router *gin.Engine
	events store.EventStore
	cfg    *config.Config
	logger *zap.Logger
}

func NewServer(events store.EventStore, cfg *config.Config, logger *zap.Logger) *Server {
	s := &Server{
		events: events,
		cfg:    cfg,
		logger: logger,
	}
	s.setupRouter()
	return s
}

func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(s.logger))
	r.Use(middleware.CORS())

	r.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.GET("/healthz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.events.Ping(ctx); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authenticator := webhook.NewAuthenticator(s.cfg.Security, s.logger)
	webhookHandler := handlers.NewWebhookHandler(s.events, authenticator, s.logger)

	var tokens *auth.TokenManager
	if s.cfg.Auth.JWTSecret != "" {
		tokens = auth.NewTokenManager([]byte(s.cfg.Auth.JWTSecret), s.cfg.Auth.TokenTTL)
	}

	api := r.Group("/api/v1")
	{
		// The ingestion endpoint authenticates with the webhook signature,
		// not bearer tokens.
		api.POST("/webhooks/github", webhookHandler.Receive)

		eventHandler := handlers.NewEventHandler(s.events, s.logger)
		api.GET("/events", middleware.Auth(tokens), eventHandler.List)
	}

	s.router = r
}

func (s *Server) Router() *gin.Engine {
	return s.router
}
