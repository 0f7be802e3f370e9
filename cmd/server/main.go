package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"chat-server/internal/auth"
	"chat-server/internal/config"
	"chat-server/internal/database"
	"chat-server/internal/handlers"
	"chat-server/internal/persistence"
	"chat-server/internal/presence"
	"chat-server/internal/services"
	"chat-server/internal/websocket"
	"chat-server/pkg/logger"

	"github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg := config.Load()
	logger.Setup(cfg.Log.Level, cfg.Log.Pretty)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewPostgresDB(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		logger.Fatal("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Fatal("Failed to migrate database: %v", err)
	}

	// Persistence buffer outlives the hub so the final flush sees every event.
	bufferCtx, stopBuffer := context.WithCancel(context.Background())
	buffer := persistence.NewBuffer(persistence.Config{
		QueueSize:     cfg.Persistence.QueueSize,
		FlushInterval: cfg.Persistence.FlushInterval,
		MaxBuffered:   cfg.Persistence.MaxBuffered,
		WriteTimeout:  cfg.Persistence.WriteTimeout,
	}, db)
	bufferDone := make(chan struct{})
	go func() {
		buffer.Run(bufferCtx)
		close(bufferDone)
	}()

	// Optional Redis presence mirror
	var (
		tracker  *presence.RedisTracker
		sink     websocket.PresenceSink
		rdbClose func() error
	)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis at %s: %v", cfg.Redis.Addr, err)
		}
		rdbClose = rdb.Close
		if tracker, err = presence.NewRedisTracker(rdb, cfg.Redis.PresenceTTL); err != nil {
			logger.Fatal("Failed to create presence tracker: %v", err)
		}
		sink = tracker
		logger.Info("Presence mirrored to redis at %s", cfg.Redis.Addr)
	}

	// Initialize the router hub
	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewHub(websocket.HubConfig{
		QueueSize:    cfg.Router.QueueSize,
		StoreTimeout: cfg.Router.StoreTimeout,
		PushTimeout:  cfg.Router.PushTimeout,
	}, db, buffer, sink)
	hubDone := make(chan struct{})
	go func() {
		hub.Run(hubCtx)
		close(hubDone)
	}()

	var presenceReader services.PresenceReader = hub
	if tracker != nil {
		presenceReader = tracker
	}

	// Initialize services
	authService := auth.NewService(db, cfg)
	groupService := services.NewGroupService(db, hub, presenceReader)
	messageService := services.NewMessageService(db)

	// Initialize handlers
	authHandlers := handlers.NewAuthHandlers(authService, db)
	groupHandlers := handlers.NewGroupHandlers(groupService, authService)
	messageHandlers := handlers.NewMessageHandlers(messageService, authService)
	wsHandlers := handlers.NewWebSocketHandlers(hubCtx, authService, hub)

	// Setup routes
	mux := http.NewServeMux()
	setupRoutes(mux, authHandlers, groupHandlers, messageHandlers, wsHandlers)

	// Create server
	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	logger.Info("🚀 Server started on http://localhost%s", cfg.Server.Port)
	logger.Info("📡 WebSocket endpoint: ws://localhost%s/ws", cfg.Server.Port)
	printAPIEndpoints()

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	<-ctx.Done()
	logger.Info("Server shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown error: %v", err)
	}

	stopHub()
	<-hubDone
	stopBuffer()
	<-bufferDone

	stats := buffer.Stats()
	logger.Info("Persisted %d messages in %d flushes (%d lost, %d dropped)",
		stats.Inserted, stats.Flushes, stats.Lost, stats.Dropped)

	if rdbClose != nil {
		rdbClose()
	}
}

func setupRoutes(
	mux *http.ServeMux,
	authHandlers *handlers.AuthHandlers,
	groupHandlers *handlers.GroupHandlers,
	messageHandlers *handlers.MessageHandlers,
	wsHandlers *handlers.WebSocketHandlers,
) {
	// Auth routes
	mux.HandleFunc("POST /login", authHandlers.Login)
	mux.HandleFunc("POST /register", authHandlers.Register)
	mux.HandleFunc("GET /users/{id}", authHandlers.GetUser)

	// Group routes
	mux.HandleFunc("GET /groups", groupHandlers.ListGroups)
	mux.HandleFunc("POST /groups", groupHandlers.CreateGroup)
	mux.HandleFunc("GET /groups/{id}/members", groupHandlers.GetGroupMembers)
	mux.HandleFunc("GET /groups/{id}/active", groupHandlers.GetActiveMembers)
	mux.HandleFunc("POST /groups/{id}/join", groupHandlers.RequestJoin)
	mux.HandleFunc("POST /groups/{id}/join-requests/{user_id}", groupHandlers.ResolveJoinRequest)
	mux.HandleFunc("GET /join-requests", groupHandlers.ListJoinRequests)

	// Message history
	mux.HandleFunc("GET /messages/{peer_id}", messageHandlers.History)

	// WebSocket route
	mux.HandleFunc("GET /ws", wsHandlers.HandleWebSocket)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func printAPIEndpoints() {
	logger.Info("🔗 API endpoints:")
	logger.Info("   POST /register")
	logger.Info("   POST /login")
	logger.Info("   GET  /users/{id}")
	logger.Info("   GET  /groups")
	logger.Info("   POST /groups")
	logger.Info("   GET  /groups/{id}/members")
	logger.Info("   GET  /groups/{id}/active")
	logger.Info("   POST /groups/{id}/join")
	logger.Info("   GET  /join-requests")
	logger.Info("   POST /groups/{id}/join-requests/{user_id}")
	logger.Info("   GET  /messages/{peer_id}")
}
