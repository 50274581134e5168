// Package server assembles the dialogue backend and runs its HTTP server.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/YuzhangMei/vqa-dialogue/backend/internal/api/http"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/api/middleware"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/api/ws"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/dialogue"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/session"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/config"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/logging"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/monitoring"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/tracing"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/media"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/resolver"
)

// Server wires config, store, reaper, resolver client, and the API.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	store      *session.Store
	reaper     *session.Reaper
	reaperStop context.CancelFunc
	logger     *logging.Logger
	config     *config.Config
	metrics    *monitoring.Metrics
}

// New builds a server from configuration.
func New(cfg *config.Config) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		var err error
		logger, err = logging.New(logging.Config{
			Level:       cfg.Logging.Level,
			OutputPaths: []string{"stdout"},
		})
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
	}

	logger.Info("initializing dialogue backend",
		zap.String("port", cfg.Server.Port),
		zap.String("resolver_url", cfg.Resolver.BaseURL),
	)

	metrics := monitoring.NewMetrics()

	uploads, err := media.NewStore(cfg.Upload.Dir, cfg.Upload.MaxBytes)
	if err != nil {
		return nil, fmt.Errorf("init upload store: %w", err)
	}

	store := session.NewStore(session.WithTombstoneLimit(cfg.Session.TombstoneLimit))

	reaperCtx, reaperStop := context.WithCancel(context.Background())
	reaper := session.NewReaper(store, cfg.Session.TTL, cfg.Session.ReapInterval, logger).WithMetrics(metrics)
	go reaper.Run(reaperCtx)

	resolverClient := resolver.NewHTTPClient(resolver.HTTPConfig{
		BaseURL: cfg.Resolver.BaseURL,
		Timeout: cfg.Resolver.Timeout,
	}).WithMetrics(metrics)

	tracker := dialogue.NewFocusTracker(resolverClient, cfg.Session.HistoryWindow)
	controller := dialogue.NewController(store, resolverClient, tracker, logger).WithMetrics(metrics)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(tracing.HTTPMiddleware(tracing.New("backend", logger.Logger)))
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(controller, uploads, logger)
	streamHandler := ws.NewHandler(controller.Events(), logger).WithMetrics(metrics)

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)
	router.POST("/analyze", handlers.Analyze)
	router.POST("/clarify", handlers.Clarify)
	router.POST("/chat", handlers.Chat)
	router.POST("/end_session", handlers.EndSession)
	router.GET("/stream", streamHandler.Stream)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("server initialized")

	return &Server{
		router:     router,
		store:      store,
		reaper:     reaper,
		reaperStop: reaperStop,
		logger:     logger,
		config:     cfg,
		metrics:    metrics,
	}, nil
}

// Router exposes the gin engine, mainly for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Run blocks serving HTTP until Shutdown is called or the listener fails.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting http server", zap.String("addr", addr))

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops the reaper and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down")
	s.reaperStop()

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}
	s.logger.Sync()
	return err
}
