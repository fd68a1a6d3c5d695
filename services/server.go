package services

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/visaprep/backend/repository"
	ws "github.com/visaprep/backend/websocket"
)

// Server holds all server dependencies
type Server struct {
	config           *Config
	repo             *repository.GORMRepository
	redisClient      *redis.Client
	completer        TextCompleter
	authService      *AuthService
	authEndpoints    *AuthEndpoints
	lifecycle        *LifecycleManager
	engine           *TurnEngine
	synthesizer      *FeedbackSynthesizer
	sessionEndpoints *SessionEndpoints
	websocketHandler *WebSocketHandler
	reaper           *SessionReaper
	wsHub            *ws.Hub
	upgrader         websocket.Upgrader
}

// NewServer creates a new server instance
func NewServer(config *Config) *Server {
	return &Server{
		config: config,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return CheckOrigin(r, config.WebSocket.AllowedOrigins)
			},
		},
	}
}

// SetDatabase sets the database repository
func (s *Server) SetDatabase(repo *repository.GORMRepository) {
	s.repo = repo
}

// SetRedis enables the shared session lock.
func (s *Server) SetRedis(client *redis.Client) {
	s.redisClient = client
}

// InitializeServices initializes all server services
func (s *Server) InitializeServices(ctx context.Context) error {
	completer, err := NewTextCompleter(ctx, s.config.AI)
	if err != nil {
		return err
	}
	if completer == nil {
		slog.Warn("No AI provider configured, officer lines fall back to the raw question text")
	} else {
		slog.Info("AI provider initialized", "provider", s.config.AI.Provider)
	}
	s.completer = completer

	if s.repo == nil {
		slog.Warn("Database not configured, running without interview services")
		return nil
	}

	locker, err := s.newLocker()
	if err != nil {
		return err
	}

	interview := s.config.Interview
	bank := NewQuestionBank(nil)
	s.lifecycle = NewLifecycleManager(s.repo, s.repo, interview.MaxTurns, interview.StartCost)
	s.synthesizer = NewFeedbackSynthesizer(s.repo, s.completer, interview.FeedbackTimeout)
	s.engine = NewTurnEngine(s.repo, bank, s.completer, locker,
		WithCompletionTimeout(interview.CompletionTimeout),
		WithCompletionHook(s.finalizeInBackground),
	)
	s.sessionEndpoints = NewSessionEndpoints(s.lifecycle, s.engine, s.synthesizer)
	s.reaper = NewSessionReaper(s.repo, interview.AbandonAfter, interview.ReaperInterval)
	slog.Info("Interview services initialized", "max_turns", interview.MaxTurns, "start_cost", interview.StartCost)

	if s.config.JWT.Secret != "" {
		secure := s.config.Server.Environment == "production"
		s.authService = NewAuthService(s.repo, s.repo, s.config.JWT.Secret, interview.StarterCredits, secure)
		s.authEndpoints = NewAuthEndpoints(s.authService, s.repo)
		slog.Info("Authentication service initialized")
	} else {
		slog.Warn("JWT secret not configured, authenticated routes are disabled")
	}

	s.wsHub = ws.NewHub()
	go s.wsHub.Run()
	s.websocketHandler = NewWebSocketHandler(s.wsHub, s.lifecycle, s.engine, s.synthesizer,
		interview.CompletionTimeout+interview.FeedbackTimeout)

	return nil
}

func (s *Server) newLocker() (SessionLocker, error) {
	if s.redisClient == nil {
		return NewSessionLocker(LockerTypeMemory)
	}
	slog.Info("Using redis session lock")
	return NewSessionLocker(LockerTypeRedis,
		WithLockRedisClient(s.redisClient),
		WithLockTTL(s.config.Redis.LockTTL),
	)
}

// finalizeInBackground prepares feedback as soon as an interview ends so a
// later finish call usually finds it stored.
func (s *Server) finalizeInBackground(sessionID, userID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.Interview.FeedbackTimeout+10*time.Second)
		defer cancel()
		if _, err := s.synthesizer.Finalize(ctx, sessionID, userID); err != nil {
			slog.Warn("Background feedback generation failed", "error", err, "session_id", sessionID)
		}
	}()
}

// SetupRoutes configures all HTTP routes
func (s *Server) SetupRoutes() *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.healthHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", s.apiV1Handler)

		if s.authService == nil {
			return
		}

		s.authEndpoints.RegisterRoutes(r)

		r.Group(func(r chi.Router) {
			r.Use(s.authService.Middleware)
			s.sessionEndpoints.RegisterRoutes(r)
			r.Get("/visa/live/ws", s.websocketHandlerFunc)
		})
	})

	return r
}

// Start starts the HTTP server and blocks until SIGINT or SIGTERM.
func (s *Server) Start() {
	port := s.config.Server.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: s.SetupRoutes(),
	}

	background, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	if s.reaper != nil {
		go s.reaper.Run(background)
	}

	// Graceful shutdown
	go func() {
		slog.Info("Starting server", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Shutting down server...")
	stopBackground()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server exited")
}

// CheckOrigin validates the origin of WebSocket connections to prevent CSRF attacks
func CheckOrigin(r *http.Request, allowedOriginsStr string) bool {
	origin := r.Header.Get("Origin")

	// If no allowed origins are configured, deny all requests for security
	if allowedOriginsStr == "" {
		slog.Warn("WebSocket connection rejected: no allowed origins configured", "origin", origin)
		return false
	}

	for _, allowed := range strings.Split(allowedOriginsStr, ",") {
		if strings.TrimSpace(allowed) == origin {
			return true
		}
	}

	slog.Warn("WebSocket connection rejected: origin not allowed", "origin", origin, "allowed_origins", allowedOriginsStr)
	return false
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "not configured"
	redisStatus := "not configured"

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.repo != nil {
		if err := s.repo.Ping(ctx); err != nil {
			dbStatus = "down"
			status = "degraded"
		} else {
			dbStatus = "up"
		}
	}
	if s.redisClient != nil {
		if err := s.redisClient.Ping(ctx).Err(); err != nil {
			redisStatus = "down"
			status = "degraded"
		} else {
			redisStatus = "up"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":   status,
		"database": dbStatus,
		"redis":    redisStatus,
	})
}

func (s *Server) apiV1Handler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "API v1", "version": "1.0.0"})
}

func (s *Server) websocketHandlerFunc(w http.ResponseWriter, r *http.Request) {
	user, ok := UserFromContext(r.Context())
	if !ok {
		writeServiceError(w, r, ErrUnauthorized)
		return
	}

	sessionID := r.URL.Query().Get("session_id")
	if _, err := s.lifecycle.Resume(r.Context(), sessionID, user.ID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}

	slog.Info("WebSocket connection established", "user_id", user.ID, "session_id", sessionID)

	client := s.wsHub.RegisterClient(conn, user.ID, sessionID)
	client.MessageHandler = s.websocketHandler.HandleWebSocketMessage

	go client.WritePump()
	s.websocketHandler.HandleWebSocketConnection(client)
	client.ReadPump()
}
