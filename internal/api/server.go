// Package api implements the read-only REST monitor for the relay server.
// Relay state can only be changed over the relay protocol itself.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/relaybench/relaybench/internal/config"
	"github.com/relaybench/relaybench/internal/db"
	intnet "github.com/relaybench/relaybench/internal/network"
	"github.com/relaybench/relaybench/internal/server"
	"github.com/relaybench/relaybench/internal/util"
)

// Default certificate locations when TLS is enabled without explicit files.
var (
	DefaultTLSCertFile = filepath.Join("config", "certs", "api.crt")
	DefaultTLSKeyFile  = filepath.Join("config", "certs", "api.key")
)

// JournalReader is the read side of the command journal.
type JournalReader interface {
	Recent(ctx context.Context, port, limit int) ([]db.Entry, error)
}

// Server is the REST monitor API server.
type Server struct {
	cfg     *config.Config
	manager *server.Manager
	journal JournalReader
	version string
	started time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. journal may be nil.
func NewServer(cfg *config.Config, manager *server.Manager, journal JournalReader, version string) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		manager: manager,
		journal: journal,
		version: version,
		started: time.Now(),
	}
	s.router = s.buildRouter()

	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start binds the API address and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	appData := s.cfg.GetApplicationData()
	addr := net.JoinHostPort(appData.API.Host, strconv.Itoa(appData.API.Port))

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	certFile, keyFile := appData.Security.TLSCertFile, appData.Security.TLSKeyFile
	if appData.Security.TLSEnabled {
		if certFile == "" || keyFile == "" {
			certFile, keyFile = DefaultTLSCertFile, DefaultTLSKeyFile
		}
		if err := util.EnsureCertificate(certFile, keyFile, appData.API.Host); err != nil {
			return fmt.Errorf("API TLS certificate: %w", err)
		}
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().
		Str("addr", addr).
		Bool("tls", appData.Security.TLSEnabled).
		Msg("REST monitor API starting")

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	})
	defer stop()

	if appData.Security.TLSEnabled {
		err = s.httpServer.ServeTLS(ln, certFile, keyFile)
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server error: %w", err)
	}

	return nil
}

func (s *Server) buildRouter() *gin.Engine {
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	security := s.cfg.GetApplicationData().Security
	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must stay false while AllowOrigins may be "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(security.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/ports", s.handleGetPorts)
		monitor.GET("/ports/:port", s.handleGetPort)
		monitor.GET("/ports/:port/journal", s.handleGetJournal)
		monitor.GET("/system", s.handleGetSystem)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "relaybench monitor API, see /api/ports"})
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
