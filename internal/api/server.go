package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/gamerecorder/internal/config"
	"github.com/energizer-project/gamerecorder/internal/db"
	intnet "github.com/energizer-project/gamerecorder/internal/network"
	"github.com/energizer-project/gamerecorder/internal/recorder"
	"github.com/energizer-project/gamerecorder/internal/storage"
)

// Dependencies are the runtime components the API reports on. Replays and
// Archiver may be nil when the corresponding sink is disabled.
type Dependencies struct {
	Version  string
	Recorder *recorder.Recorder
	Hosts    *intnet.ConnectionRegistry
	Replays  *db.ReplayDatabase
	Archiver *storage.Archiver
}

// Server is the REST API server of the recorder.
type Server struct {
	cfg       *config.Config
	deps      Dependencies
	startedAt time.Time

	// HTTP server
	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(cfg *config.Config, deps Dependencies) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:       cfg,
		deps:      deps,
		startedAt: time.Now(),
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the API server and blocks until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	security := s.cfg.GetApplicationData().Security

	addr := fmt.Sprintf(":%d", s.cfg.GetRecorderData().APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if security.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(security.TLSCertFile, security.TLSKeyFile)
		if err != nil {
			return fmt.Errorf("failed to load API TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			CipherSuites: []uint16{
				tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
				tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
				tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			},
		}
	}

	// SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", security.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if security.TLSEnabled {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	security := s.cfg.GetApplicationData().Security

	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", HeaderReplayID, HeaderReplayCRC},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	// ---- Public endpoints ----
	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/get_server_info", s.handleGetServerInfo)
	}

	// ---- Monitor endpoints ----
	monitor := router.Group("/api/monitor")
	monitor.Use(IPWhitelist(security.IPWhitelist))
	{
		monitor.GET("/get_capture_stats", s.handleGetCaptureStats)
		monitor.GET("/get_hosts", s.handleGetHosts)
		monitor.GET("/get_cpu_usage", s.handleGetCPUUsage)
		monitor.GET("/get_memory_usage", s.handleGetMemoryUsage)
		monitor.GET("/get_replays", s.handleGetReplays)
		monitor.GET("/get_replay/:match_id", s.handleGetReplay)
		monitor.GET("/get_replay/:match_id/summary", s.handleGetReplaySummary)
		monitor.GET("/get_log_entries", s.handleGetLogEntries)
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
