package main

import (
	"context"
	"log"
	"net/http"
	"strings"

	"triagebot/controllers"
	"triagebot/services"
	"triagebot/utils"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// Server wires the router, CORS and the controller together.
type Server struct {
	router     *mux.Router
	controller *controllers.Controller
	port       string
	origins    []string
}

// NewServer creates a new server instance.
func NewServer(controller *controllers.Controller, port string, origins []string) *Server {
	return &Server{
		router:     mux.NewRouter(),
		controller: controller,
		port:       port,
		origins:    origins,
	}
}

// setupRoutes configures all endpoints.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.controller.IndexHandler).Methods("GET")
	s.router.HandleFunc("/api/classify", s.controller.ClassifyHandler).Methods("POST")
	s.router.HandleFunc("/health", s.controller.HealthHandler).Methods("GET")
}

// Start configures and starts the HTTP server.
func (s *Server) Start() error {
	s.setupRoutes()

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	})
	handler := c.Handler(s.router)

	if !strings.HasPrefix(s.port, ":") {
		s.port = ":" + s.port
	}

	log.Printf("Server starting on port %s", s.port)
	return http.ListenAndServe(s.port, handler)
}

func main() {
	utils.LoadEnvWithFallback()

	port := utils.GetEnv("PORT", "8080")
	dbPath := utils.GetEnv("DB_PATH", "triagebot.db")
	origins := strings.Split(utils.GetEnv("ALLOWED_HOSTS", "*"), ",")
	debug := utils.GetEnv("DEBUG", "false") == "true"

	if debug {
		log.Printf("Debug mode enabled")
	}

	// Conversation store is required; everything else degrades gracefully.
	store, err := services.NewConversationStore(dbPath)
	if err != nil {
		log.Fatalf("Failed to open conversation store: %v", err)
	}
	defer store.Close()

	// Embed the knowledge base eagerly so no request races initialization.
	embedder := services.NewEmbeddingService()
	retriever := services.NewRetrievalService(embedder)
	retriever.LoadKnowledge(context.Background())

	gemini := services.NewGeminiClassifier("", "")
	var classifier services.Classifier = gemini
	if gemini.IsAvailable() {
		log.Printf("Using Gemini classifier with model: %s", gemini.GetModel())
	} else {
		log.Printf("GEMINI_API_KEY not set, falling back to rule-based classifier")
		classifier = services.NewRuleClassifier()
	}

	notifier := services.NewEscalationNotifier()

	controller := controllers.NewController(store, retriever, classifier, notifier)
	if err := controller.StartServices(); err != nil {
		log.Printf("Background services degraded: %v", err)
	}
	defer controller.StopServices()

	server := NewServer(controller, port, origins)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
