package models

// ClassifyRequest is the body of POST /api/classify.
type ClassifyRequest struct {
	UserMessage string `json:"user_message"`
	SessionID   string `json:"session_id"`
}

// ValidationError is the 400 payload for missing required fields.
type ValidationError struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// EscalationResponse is the payload returned when the request could not be
// classified (storage or provider failure). The message is always one of the
// canonical escalation texts.
type EscalationResponse struct {
	Message string `json:"message"`
	Status  Status `json:"status"`
}
