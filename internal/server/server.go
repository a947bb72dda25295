package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"relay/internal/logging"
	"relay/internal/observability"
)

// Config holds the HTTP server settings.
type Config struct {
	Host              string        `yaml:"host" mapstructure:"host"`
	Port              int           `yaml:"port" mapstructure:"port"`
	EnableCORS        bool          `yaml:"enable_cors" mapstructure:"enable_cors"`
	Debug             bool          `yaml:"debug" mapstructure:"debug"`
	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" mapstructure:"heartbeat_interval"`
}

// DefaultConfig returns the default server settings.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		Port:              8080,
		EnableCORS:        true,
		Debug:             false,
		ReadTimeout:       30 * time.Second,
		HeartbeatInterval: defaultHeartbeatInterval,
	}
}

// Server is the event relay HTTP server: scope event streams (SSE and
// WebSocket), the publish endpoint feeding them, the snapshot endpoint for
// reconciliation, and job status for the polling fallback.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	logger     logging.Logger

	broadcaster *Broadcaster
	jobs        *JobStore

	sse    *SSEHandler
	ws     *WSHandler
	events *EventHandler
	jobAPI *JobHandler

	startTime time.Time
}

// New creates a configured server. metrics may be nil.
func New(config Config, logger logging.Logger, metrics *observability.MetricsCollector) *Server {
	logger = logging.OrNop(logger)

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	if config.EnableCORS {
		corsConfig := cors.DefaultConfig()
		corsConfig.AllowAllOrigins = true
		corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
		corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Requested-With"}
		corsConfig.AllowWebSockets = true
		engine.Use(cors.New(corsConfig))
	}

	broadcaster := NewBroadcaster(logger, metrics)
	jobs := NewJobStore()

	s := &Server{
		engine:      engine,
		logger:      logger,
		broadcaster: broadcaster,
		jobs:        jobs,
		sse:         NewSSEHandler(broadcaster, logger, config.HeartbeatInterval),
		ws:          NewWSHandler(broadcaster, logger, config.HeartbeatInterval),
		events:      NewEventHandler(broadcaster, logger, metrics),
		jobAPI:      NewJobHandler(jobs, logger, metrics),
		startTime:   time.Now(),
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)

	scopes := api.Group("/scopes/:scope_id")
	{
		scopes.GET("/events/stream", s.sse.HandleStream)
		scopes.GET("/events/ws", s.ws.HandleStream)
		scopes.POST("/events", s.events.HandlePublish)
		scopes.GET("/snapshot", s.events.HandleSnapshot)
	}

	jobs := api.Group("/jobs")
	{
		jobs.POST("", s.jobAPI.HandleCreate)
		jobs.GET("/:job_id", s.jobAPI.HandleGet)
		jobs.PATCH("/:job_id", s.jobAPI.HandleUpdate)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

// Broadcaster exposes the event fan-out, mainly so embedding processes can
// publish without going through HTTP.
func (s *Server) Broadcaster() *Broadcaster {
	return s.broadcaster
}

// Jobs exposes the job store for the same reason.
func (s *Server) Jobs() *JobStore {
	return s.jobs
}

// Handler returns the HTTP handler, used by tests and embedding servers.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start begins serving and blocks until the listener fails or Stop is called.
func (s *Server) Start() error {
	s.logger.Info("Relay server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down relay server")
	return s.httpServer.Shutdown(ctx)
}
