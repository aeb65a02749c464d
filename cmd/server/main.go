package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"tradepost/internal/config"
	"tradepost/internal/database"
	"tradepost/internal/engine"
	"tradepost/internal/handlers"
	"tradepost/internal/middleware"
	"tradepost/internal/pubsub"
	"tradepost/internal/utils"
	"tradepost/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	middleware.SetSecret(cfg.Auth.JWTSecret)

	// Connect to MongoDB
	mongodb, err := database.NewMongoDB(cfg.Database.URI, cfg.Database.Name)
	if err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongodb.Close(ctx); err != nil {
			log.Printf("Error closing MongoDB connection: %v", err)
		}
	}()

	indexCtx, indexCancel := context.WithTimeout(context.Background(), 10*time.Second)
	if err := mongodb.EnsureIndexes(indexCtx); err != nil {
		indexCancel()
		log.Fatalf("Failed to create MongoDB indexes: %v", err)
	}
	indexCancel()
	log.Println("MongoDB connection established")

	// Initialize core components
	metrics := utils.NewMetricsCollector()
	system := actor.NewActorSystem()
	chatEngine := engine.NewEngine(system, mongodb, mongodb, metrics, cfg.Server.RequestTimeout, cfg.Server.StoreTimeout)
	hub := websocket.NewHub()

	// Cross-instance fan-out is optional; without Redis the process runs
	// standalone and only delivers to its own connections.
	var publisher websocket.Publisher = websocket.NoopPublisher{}
	if cfg.Redis.Addr != "" {
		bridge, err := pubsub.NewBridge(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, hub)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		defer bridge.Close()
		go bridge.Run(context.Background())
		publisher = bridge
		log.Printf("Redis fan-out bridge connected at %s", cfg.Redis.Addr)
	}

	router := websocket.NewRouter(hub, chatEngine, publisher, metrics)

	server := handlers.NewServer(system, chatEngine, hub, router, mongodb, mongodb, metrics, cfg.Server.RequestTimeout)

	corsConfig := middleware.DefaultCORSConfig(cfg.AllowedOrigins)

	// route applies CORS and JWT middleware around a handler
	route := func(path string, handler http.HandlerFunc) {
		http.HandleFunc(path, middleware.ApplyCORS(middleware.ApplyJWTMiddleware(handler, path), corsConfig))
	}

	route("/health", server.HandleHealth())
	route("/chat/start", server.HandleStartChat())
	route("/chat/list", server.HandleListChats())
	route("/chat/messages", server.HandleGetMessages())
	route("/chat/send", server.HandleSendMessage())
	route("/chat/read", server.HandleMarkRead())
	route("/chat/status", server.HandleChatStatus())

	if cfg.Server.MetricsEnabled {
		route("/metrics", server.HandleMetrics())
	}

	// The websocket endpoint authenticates via query parameter inside the
	// handler, so it skips the header-based JWT middleware.
	http.HandleFunc("/ws", middleware.ApplyCORS(server.HandleWebSocket(), corsConfig))

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	log.Printf("Starting server on %s", serverAddr)
	if err := http.ListenAndServe(serverAddr, nil); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
