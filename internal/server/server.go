package server

import (
	"context"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"chatveil/internal/anonymize"
	"chatveil/internal/cache"
	"chatveil/internal/config"
	"chatveil/internal/logger"
	"chatveil/internal/security"
	"chatveil/internal/store"
	"chatveil/internal/web"
	"chatveil/internal/websocket"
)

// Server represents the main API server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	engine  *anonymize.Engine
	store   *store.Store           // nil when persistence is disabled
	cache   *cache.DictionaryCache // nil when the cache is disabled
	limiter *security.RateLimiter
	router  *mux.Router
	server  *http.Server
	wsHub   *websocket.Hub

	startedAt       time.Time
	totalRequests   int64
	totalRedactions int64
	done            chan struct{}
}

// New creates a new API server instance
func New(cfg *config.Config, log *logger.Logger) (*Server, error) {
	engine := anonymize.New(anonymize.Options{
		WordBoundaries: cfg.Privacy.WordBoundaries,
	})

	var st *store.Store
	if cfg.Database.Enabled {
		var err error
		st, err = store.New(&store.Config{
			DatabaseURL:     cfg.Database.URL,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.Database.ConnMaxIdleTime,
		}, log.WithComponent("store").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation store: %w", err)
		}
	}

	var dc *cache.DictionaryCache
	if cfg.Cache.Enabled {
		var err error
		dc, err = cache.New(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create dictionary cache: %w", err)
		}
	}

	wsHub := websocket.NewHub(&websocket.HubConfig{
		BroadcastRedactions:  cfg.WebSocket.Events.BroadcastRedactions,
		BroadcastRequests:    cfg.WebSocket.Events.BroadcastRequests,
		BroadcastSystem:      cfg.WebSocket.Events.BroadcastSystem,
		BroadcastConnections: cfg.WebSocket.Events.BroadcastConnections,
		Username:             cfg.WebSocket.Username,
		Password:             cfg.WebSocket.Password,
	}, log.WithComponent("websocket").Logger)

	server := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		engine:    engine,
		store:     st,
		cache:     dc,
		limiter:   security.NewRateLimiter(&cfg.Security),
		router:    mux.NewRouter(),
		wsHub:     wsHub,
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}

	server.setupRoutes()

	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods("GET")

	// Dashboard endpoint - embedded HTML
	s.router.HandleFunc("/", web.ServeDashboard).Methods("GET")
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods("GET")

	// WebSocket endpoint for dashboard
	if s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.handleWebSocket).Methods("GET")
	}

	// API endpoints
	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.Use(s.bodyLimitMiddleware)

	api.HandleFunc("/anonymize", s.handleAnonymize).Methods("POST")
	api.HandleFunc("/deanonymize", s.handleDeanonymize).Methods("POST")
	api.HandleFunc("/conversations", s.handleListConversations).Methods("GET")
	api.HandleFunc("/conversations/{id}/dictionary", s.handleGetDictionary).Methods("GET")
	api.HandleFunc("/conversations/{id}/dictionary", s.handlePutDictionary).Methods("PUT")
	api.HandleFunc("/conversations/{id}/dictionary", s.handleDeleteDictionary).Methods("DELETE")
	api.HandleFunc("/conversations/{id}/dictionary/terms", s.handleAddTerm).Methods("POST")
	api.HandleFunc("/cache", s.handleClearCache).Methods("DELETE")
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting chatveil server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("word_boundaries", s.config.Privacy.WordBoundaries),
		zap.Bool("persistence", s.store != nil),
		zap.Bool("cache", s.cache != nil),
	)

	// Start WebSocket hub in a separate goroutine
	go s.wsHub.Run()

	// Periodic housekeeping: stale limiter cleanup and status broadcasts
	go s.housekeeping()

	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server and its resources
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping chatveil server")
	close(s.done)

	err := s.server.Shutdown(ctx)

	if s.cache != nil {
		if cerr := s.cache.Close(); cerr != nil {
			s.logger.Error("Failed to close cache", zap.Error(cerr))
		}
	}
	if s.store != nil {
		if serr := s.store.Close(); serr != nil {
			s.logger.Error("Failed to close store", zap.Error(serr))
		}
	}

	return err
}

// housekeeping runs periodic background chores until shutdown
func (s *Server) housekeeping() {
	limiterTicker := time.NewTicker(5 * time.Minute)
	statusTicker := time.NewTicker(30 * time.Second)
	defer limiterTicker.Stop()
	defer statusTicker.Stop()

	for {
		select {
		case <-s.done:
			return

		case <-limiterTicker.C:
			if removed := s.limiter.CleanupOldLimiters(10 * time.Minute); removed > 0 {
				s.logger.Debug("Cleaned up idle rate limiters", zap.Int("removed", removed))
			}

		case <-statusTicker.C:
			s.wsHub.BroadcastEvent(websocket.Event{
				Type:      websocket.EventTypeSystemStatus,
				Timestamp: time.Now(),
				Data: websocket.SystemStatusEvent{
					Status:           "healthy",
					Uptime:           time.Since(s.startedAt).Round(time.Second).String(),
					TotalRequests:    atomic.LoadInt64(&s.totalRequests),
					TotalRedactions:  atomic.LoadInt64(&s.totalRedactions),
					ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
					Cache:            s.cacheStatus(),
				},
			})
		}
	}
}

// cacheStatus snapshots dictionary cache performance for the status
// broadcast, or nil when the cache is disabled or unreachable.
func (s *Server) cacheStatus() *websocket.CacheStatusEvent {
	if s.cache == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats, err := s.cache.GetStats(ctx)
	if err != nil {
		s.logger.Debug("Failed to collect cache stats", zap.Error(err))
		return nil
	}
	return &websocket.CacheStatusEvent{
		Hits:      stats.Hits,
		Misses:    stats.Misses,
		HitRate:   stats.HitRate,
		TotalKeys: stats.TotalKeys,
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"healthy","timestamp":"%s"}`, time.Now().Format(time.RFC3339))
}

// handleInfo handles info requests
func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{
		"name":"chatveil",
		"version":"%s",
		"privacy_enabled":%t,
		"word_boundaries":%t,
		"persistence_enabled":%t,
		"cache_enabled":%t
	}`, Version, s.config.Privacy.Enabled, s.config.Privacy.WordBoundaries, s.store != nil, s.cache != nil)
}

// handleWebSocket handles WebSocket connections for the dashboard
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.wsHub.HandleWebSocket(w, r)
}

// Version is stamped by the build; the default marks dev builds.
var Version = "0.1.0"
