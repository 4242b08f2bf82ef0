package controllers

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"triagebot/models"
	"triagebot/services"
)

// ClassifyHandler handles POST /api/classify.
//
// The request walks a fixed state machine: validate, load session + history,
// record the user message, retrieve grounding, classify, record the AI
// message, respond. The user's message is durable before classification is
// attempted, so a provider failure never loses it.
func (c *Controller) ClassifyHandler(w http.ResponseWriter, r *http.Request) {
	var req models.ClassifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "Invalid JSON format in request body",
		})
		return
	}

	userMessage := strings.TrimSpace(req.UserMessage)
	if userMessage == "" || req.SessionID == "" {
		writeJSON(w, http.StatusBadRequest, models.ValidationError{
			Status:  "error",
			Message: "Missing message or session ID.",
		})
		return
	}

	ctx := r.Context()

	// One in-flight request per session.
	c.locks.Lock(req.SessionID)
	defer c.locks.Unlock(req.SessionID)

	session, err := c.store.GetOrCreateSession(ctx, req.SessionID)
	if err != nil {
		log.Printf("Storage error loading session %s: %v", req.SessionID, err)
		c.writeSystemError(w, http.StatusServiceUnavailable)
		return
	}

	history, err := c.store.RecentMessages(ctx, session.ID, 10)
	if err != nil {
		log.Printf("Storage error loading history for session %s: %v", session.ID, err)
		c.writeSystemError(w, http.StatusServiceUnavailable)
		return
	}
	historyText := services.FormatHistory(history)

	// The user message is recorded before classification, unconditionally.
	userMsg := &models.Message{
		SessionID: session.ID,
		Sender:    models.SenderUser,
		Text:      userMessage,
	}
	if err := c.store.AppendMessage(ctx, userMsg); err != nil {
		log.Printf("Storage error recording user message for session %s: %v", session.ID, err)
		c.writeSystemError(w, http.StatusServiceUnavailable)
		return
	}

	grounding := c.retriever.Retrieve(ctx, historyText+"\n"+userMessage, 1)

	decision, err := c.classifier.Classify(ctx, historyText, userMessage, grounding)
	if err != nil {
		log.Printf("Classification failed for session %s: %v", session.ID, err)
		decision = models.SystemErrorDecision()
		c.recordAIMessage(r, session.ID, decision)
		c.notifyEscalation(session.ID, userMessage, decision.ResponseMessage)
		writeJSON(w, http.StatusInternalServerError, models.EscalationResponse{
			Message: decision.ResponseMessage,
			Status:  models.StatusEscalate,
		})
		return
	}

	// An AI message is persisted only when the decision calls for a reply.
	if decision.Status != models.StatusNoResponse {
		c.recordAIMessage(r, session.ID, decision)
	}

	if decision.Status == models.StatusEscalate {
		c.notifyEscalation(session.ID, userMessage, decision.ResponseMessage)
	}

	writeJSON(w, http.StatusOK, decision)
}

// recordAIMessage persists the AI side of the turn with its classification
// fields. A write failure here is logged but does not change the response:
// the decision already stands.
func (c *Controller) recordAIMessage(r *http.Request, sessionID string, decision *models.ClassificationOutput) {
	msg := &models.Message{
		SessionID:     sessionID,
		Sender:        models.SenderAI,
		Text:          decision.ResponseMessage,
		TopicCategory: string(decision.Topic),
		Status:        string(decision.Status),
	}
	if err := c.store.AppendMessage(r.Context(), msg); err != nil {
		log.Printf("Storage error recording AI message for session %s: %v", sessionID, err)
	}
}

// notifyEscalation forwards an escalated conversation to the specialist
// channel, best-effort.
func (c *Controller) notifyEscalation(sessionID, userMessage, reply string) {
	if c.notifier == nil || !c.notifier.IsEnabled() {
		return
	}
	go c.notifier.Notify(sessionID, userMessage, reply)
}

// writeSystemError returns the canonical system-error payload.
func (c *Controller) writeSystemError(w http.ResponseWriter, code int) {
	writeJSON(w, code, models.EscalationResponse{
		Message: models.EscalationMessages[models.EscalationSystemError],
		Status:  models.StatusEscalate,
	})
}
