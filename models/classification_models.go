package models

import (
	"encoding/json"
	"fmt"
)

// TopicCategory is the primary classification for a user's query.
type TopicCategory string

const (
	TopicLab             TopicCategory = "LAB"
	TopicTwinAppointment TopicCategory = "TWIN_APPOINTMENT"
	TopicOthers          TopicCategory = "OTHERS"
)

// Status is the action to take after classification.
type Status string

const (
	StatusClassified Status = "classified"
	StatusEscalate   Status = "escalate"
	StatusNoResponse Status = "no_response"
)

// ClassificationOutput is the structured decision produced by the
// classification engine. It is returned to the caller verbatim; only
// response_message, topic and status propagate into the persisted AI message.
type ClassificationOutput struct {
	Topic           TopicCategory `json:"topic"`
	Status          Status        `json:"status"`
	ResponseMessage string        `json:"response_message"`
	Confidence      float64       `json:"confidence"`
	Justification   string        `json:"justification"`
}

// Validate checks the enum and range constraints on a decision.
func (o *ClassificationOutput) Validate() error {
	switch o.Topic {
	case TopicLab, TopicTwinAppointment, TopicOthers:
	default:
		return fmt.Errorf("unknown topic %q", o.Topic)
	}

	switch o.Status {
	case StatusClassified, StatusEscalate, StatusNoResponse:
	default:
		return fmt.Errorf("unknown status %q", o.Status)
	}

	if o.Confidence < 0.0 || o.Confidence > 1.0 {
		return fmt.Errorf("confidence %v outside [0.0, 1.0]", o.Confidence)
	}

	return nil
}

// classificationFields are the keys the model output must carry.
var classificationFields = []string{"topic", "status", "response_message", "confidence", "justification"}

// ParseClassification deserializes and validates a raw model payload.
// A payload missing any required key, using an unrecognized enum value, or
// carrying an out-of-range confidence is rejected, never coerced.
func ParseClassification(data []byte) (*ClassificationOutput, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("payload is not a JSON object: %w", err)
	}

	for _, field := range classificationFields {
		if _, ok := raw[field]; !ok {
			return nil, fmt.Errorf("missing required field %q", field)
		}
	}

	var out ClassificationOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("payload does not match schema: %w", err)
	}

	if err := out.Validate(); err != nil {
		return nil, err
	}

	return &out, nil
}

// Escalation trigger keys. Each maps to a fixed reply the end user sees.
const (
	EscalationUnrelated     = "visit_prep_or_unrelated"
	EscalationIncorrectInfo = "incorrect_info"
	EscalationNonEnglish    = "non_english_spanish"
	EscalationSystemError   = "system_error"
)

// EscalationMessages holds the canonical reply text per escalation trigger.
// These are byte-exact contracts; model paraphrases are overridden before
// anything is persisted or returned.
var EscalationMessages = map[string]string{
	EscalationUnrelated:     "I'm sorry, I'm unable to help with that. I can forward this to a specialist and they'll respond via text within 1 business day.",
	EscalationIncorrectInfo: "Thank you, I will forward this to a specialist. If they have questions they will respond within 1 business day.",
	EscalationNonEnglish:    "I can only converse in English or Spanish. I can forward this to a specialist and they'll respond via text within 1 business day.",
	EscalationSystemError:   "I'm sorry, there was a system error. I forwarded this to a specialist and they'll respond via text within 1 business day.",
}

// SystemErrorDecision is the substitute decision for any internal failure
// that reaches the classification step.
func SystemErrorDecision() *ClassificationOutput {
	return &ClassificationOutput{
		Topic:           TopicOthers,
		Status:          StatusEscalate,
		ResponseMessage: EscalationMessages[EscalationSystemError],
		Confidence:      1.0,
		Justification:   "Internal system failure while classifying the message.",
	}
}
