package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"tradepost/internal/engine"
	"tradepost/internal/engine/actors"
	"tradepost/internal/utils"
	"tradepost/internal/websocket"

	"github.com/asynkron/protoactor-go/actor"
)

// Server holds all server dependencies, including the actor system and engine
type Server struct {
	System         *actor.ActorSystem
	Engine         *engine.Engine
	Hub            *websocket.Hub
	Router         *websocket.Router
	Store          actors.MessageStore
	Directory      actors.ChatDirectory
	Metrics        *utils.MetricsCollector
	RequestTimeout time.Duration
}

// NewServer creates a new Server instance with the given components
func NewServer(
	system *actor.ActorSystem,
	eng *engine.Engine,
	hub *websocket.Hub,
	router *websocket.Router,
	store actors.MessageStore,
	directory actors.ChatDirectory,
	metrics *utils.MetricsCollector,
	requestTimeout time.Duration,
) *Server {
	return &Server{
		System:         system,
		Engine:         eng,
		Hub:            hub,
		Router:         router,
		Store:          store,
		Directory:      directory,
		Metrics:        metrics,
		RequestTimeout: requestTimeout,
	}
}

// respondJSON writes v as the JSON response body
func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// respondError maps an application error onto the matching HTTP status
func respondError(w http.ResponseWriter, err error) {
	if appErr, ok := err.(*utils.AppError); ok {
		http.Error(w, appErr.Error(), utils.AppErrorToHTTPStatus(appErr.Code))
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
