package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"triagebot/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleClassifierFirstTurnAck(t *testing.T) {
	classifier := NewRuleClassifier()

	decision, err := classifier.Classify(context.Background(), "", "ok", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusNoResponse, decision.Status)
	assert.Equal(t, models.TopicOthers, decision.Topic)
	assert.Empty(t, decision.ResponseMessage)
}

func TestRuleClassifierAckWithHistoryIsNotSilent(t *testing.T) {
	classifier := NewRuleClassifier()

	// "thanks" mid-conversation is not the first-turn acknowledgement case.
	decision, err := classifier.Classify(context.Background(), "[USER]: hi\n[AI]: hello", "thanks", "")
	require.NoError(t, err)
	assert.NotEqual(t, models.StatusNoResponse, decision.Status)
}

func TestRuleClassifierLabIndicator(t *testing.T) {
	classifier := NewRuleClassifier()

	decision, err := classifier.Classify(context.Background(), "", "Do I need to fast 12 hours before my blood draw?", "")
	require.NoError(t, err)
	assert.Equal(t, models.TopicLab, decision.Topic)
	assert.Equal(t, models.StatusClassified, decision.Status)
	assert.GreaterOrEqual(t, decision.Confidence, 0.0)
	assert.LessOrEqual(t, decision.Confidence, 1.0)
}

func TestRuleClassifierAppointment(t *testing.T) {
	classifier := NewRuleClassifier()

	decision, err := classifier.Classify(context.Background(), "", "Can I reschedule my coaching call for Thursday?", "")
	require.NoError(t, err)
	assert.Equal(t, models.TopicTwinAppointment, decision.Topic)
	assert.Equal(t, models.StatusClassified, decision.Status)
}

func TestRuleClassifierOffTopicEscalates(t *testing.T) {
	classifier := NewRuleClassifier()

	decision, err := classifier.Classify(context.Background(), "", "What's the weather today?", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalate, decision.Status)
	assert.Equal(t, models.EscalationMessages[models.EscalationUnrelated], decision.ResponseMessage)
}

func TestRuleClassifierNonLatinScriptEscalates(t *testing.T) {
	classifier := NewRuleClassifier()

	decision, err := classifier.Classify(context.Background(), "", "предложение на русском", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalate, decision.Status)
	assert.Equal(t, models.EscalationMessages[models.EscalationNonEnglish], decision.ResponseMessage)
}

func TestRuleClassifierIncorrectInfoEscalates(t *testing.T) {
	classifier := NewRuleClassifier()

	decision, err := classifier.Classify(context.Background(), "", "That appointment time is incorrect", "")
	require.NoError(t, err)
	assert.Equal(t, models.StatusEscalate, decision.Status)
	assert.Equal(t, models.EscalationMessages[models.EscalationIncorrectInfo], decision.ResponseMessage)
}

func TestRuleClassifierGeneralInquiry(t *testing.T) {
	classifier := NewRuleClassifier()

	decision, err := classifier.Classify(context.Background(), "", "How much does the Twin Health program cost?", "")
	require.NoError(t, err)
	assert.Equal(t, models.TopicOthers, decision.Topic)
	assert.Equal(t, models.StatusClassified, decision.Status)
	assert.LessOrEqual(t, strings.Count(decision.ResponseMessage, "\n"), 2)
}

func TestCanonicalizeEscalationOverridesParaphrase(t *testing.T) {
	decision := &models.ClassificationOutput{
		Topic:           models.TopicOthers,
		Status:          models.StatusEscalate,
		ResponseMessage: "Sorry, I only speak English and Spanish right now!",
		Confidence:      0.8,
	}
	CanonicalizeEscalation(decision)
	assert.Equal(t, models.EscalationMessages[models.EscalationNonEnglish], decision.ResponseMessage)
}

func TestCanonicalizeEscalationKeepsExactText(t *testing.T) {
	canonical := models.EscalationMessages[models.EscalationIncorrectInfo]
	decision := &models.ClassificationOutput{
		Status:          models.StatusEscalate,
		ResponseMessage: canonical,
	}
	CanonicalizeEscalation(decision)
	assert.Equal(t, canonical, decision.ResponseMessage)
}

func TestCanonicalizeEscalationIgnoresClassified(t *testing.T) {
	decision := &models.ClassificationOutput{
		Status:          models.StatusClassified,
		ResponseMessage: "Your lab visit is on Friday.",
	}
	CanonicalizeEscalation(decision)
	assert.Equal(t, "Your lab visit is on Friday.", decision.ResponseMessage)
}

func TestSanitizeResponseStripsMarkdownAndLimitsLines(t *testing.T) {
	raw := "**Bold claim**\n- bullet one\n- bullet two\n\nfourth line\nfifth line"
	got := SanitizeResponse(raw)

	assert.NotContains(t, got, "*")
	assert.NotContains(t, got, "- ")
	assert.LessOrEqual(t, len(strings.Split(got, "\n")), 3)
	assert.Equal(t, "Bold claim\nbullet one\nbullet two", got)
}

// newGeminiTestServer fakes the generateContent endpoint with a fixed inner
// payload.
func newGeminiTestServer(t *testing.T, innerPayload string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, ":generateContent")

		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"parts": []map[string]string{{"text": innerPayload}},
					},
					"finishReason": "STOP",
				},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}))
}

func TestGeminiClassifierParsesStructuredOutput(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	server := newGeminiTestServer(t, `{
		"topic": "LAB",
		"status": "classified",
		"response_message": "Yes, a 12 hour fast is required before your blood draw.",
		"confidence": 0.92,
		"justification": "Explicit lab indicators."
	}`)
	defer server.Close()

	classifier := NewGeminiClassifier(server.URL, "test-model")
	decision, err := classifier.Classify(context.Background(), "", "Do I need to fast?", KnowledgeBaseText)
	require.NoError(t, err)
	assert.Equal(t, models.TopicLab, decision.Topic)
	assert.Equal(t, models.StatusClassified, decision.Status)
	assert.Equal(t, 0.92, decision.Confidence)
}

func TestGeminiClassifierProviderError(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	classifier := NewGeminiClassifier(server.URL, "test-model")
	_, err := classifier.Classify(context.Background(), "", "hi", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestGeminiClassifierTransportError(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close() // connection refused from here on

	classifier := NewGeminiClassifier(server.URL, "test-model")
	_, err := classifier.Classify(context.Background(), "", "hi", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestGeminiClassifierSchemaErrorOnMalformedPayload(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	server := newGeminiTestServer(t, `{"topic": "LAB"`)
	defer server.Close()

	classifier := NewGeminiClassifier(server.URL, "test-model")
	_, err := classifier.Classify(context.Background(), "", "hi", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestGeminiClassifierSchemaErrorOnOutOfRangeConfidence(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	server := newGeminiTestServer(t, `{
		"topic": "LAB",
		"status": "classified",
		"response_message": "x",
		"confidence": 1.5,
		"justification": "y"
	}`)
	defer server.Close()

	classifier := NewGeminiClassifier(server.URL, "test-model")
	_, err := classifier.Classify(context.Background(), "", "hi", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrSchema))
}

func TestGeminiClassifierCanonicalizesEscalation(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "test-key")

	server := newGeminiTestServer(t, `{
		"topic": "OTHERS",
		"status": "escalate",
		"response_message": "Sorry, I can't help with that, but a specialist will reach out.",
		"confidence": 0.7,
		"justification": "Off-topic question."
	}`)
	defer server.Close()

	classifier := NewGeminiClassifier(server.URL, "test-model")
	decision, err := classifier.Classify(context.Background(), "", "What's the weather today?", "")
	require.NoError(t, err)
	assert.Equal(t, models.EscalationMessages[models.EscalationUnrelated], decision.ResponseMessage)
}

func TestGeminiClassifierUnavailableWithoutKey(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")

	classifier := NewGeminiClassifier("http://localhost:1", "test-model")
	assert.False(t, classifier.IsAvailable())

	_, err := classifier.Classify(context.Background(), "", "hi", "")
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestBuildClassificationPrompt(t *testing.T) {
	prompt := BuildClassificationPrompt("[USER]: hi", "Can I reschedule?", "RULES HERE")

	assert.Contains(t, prompt, "CONVERSATION HISTORY (Most recent message at the bottom):\n[USER]: hi")
	assert.Contains(t, prompt, `[CURRENT_USER_MESSAGE]: "Can I reschedule?"`)
	assert.Contains(t, prompt, "RULES & CONTEXT:\nRULES HERE")
	// History comes before the current message, rules come last.
	assert.Less(t, strings.Index(prompt, "CONVERSATION HISTORY"), strings.Index(prompt, "CURRENT_USER_MESSAGE"))
	assert.Less(t, strings.Index(prompt, "CURRENT_USER_MESSAGE"), strings.Index(prompt, "RULES & CONTEXT"))
}
