package controllers

import (
	"encoding/json"
	"log"
	"net/http"

	"triagebot/services"
)

// Controller orchestrates one classification request end-to-end: validate,
// load history, retrieve grounding, classify, persist, respond.
type Controller struct {
	store      *services.ConversationStore
	retriever  *services.RetrievalService
	classifier services.Classifier
	notifier   *services.EscalationNotifier
	locks      *services.SessionLocker
}

// NewController creates a controller around the given services.
func NewController(store *services.ConversationStore, retriever *services.RetrievalService, classifier services.Classifier, notifier *services.EscalationNotifier) *Controller {
	return &Controller{
		store:      store,
		retriever:  retriever,
		classifier: classifier,
		notifier:   notifier,
		locks:      services.NewSessionLocker(),
	}
}

// StartServices starts background services (escalation notifier).
func (c *Controller) StartServices() error {
	if c.notifier.IsEnabled() {
		if err := c.notifier.Start(); err != nil {
			log.Printf("Failed to start escalation notifier: %v", err)
			return err
		}
	}
	return nil
}

// StopServices stops all background services.
func (c *Controller) StopServices() error {
	if c.notifier != nil {
		return c.notifier.Stop()
	}
	return nil
}

// IndexHandler describes the service.
func (c *Controller) IndexHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service":   "triagebot",
		"endpoints": []string{"/api/classify", "/health"},
	})
}

// HealthHandler aggregates per-service status.
func (c *Controller) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":    "healthy",
		"store":     c.store.GetStatus(),
		"retrieval": c.retriever.GetStatus(),
		"notifier":  c.notifier.GetStatus(),
	}

	writeJSON(w, http.StatusOK, health)
}

// writeJSON encodes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}
