package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"triagebot/models"
)

// Classifier failure modes. Everything the gateway needs to know is which
// side of the boundary broke.
var (
	// ErrProvider marks upstream LLM/transport failures.
	ErrProvider = errors.New("llm provider failure")
	// ErrSchema marks provider responses that fail structural validation.
	ErrSchema = errors.New("llm response failed schema validation")
)

// Classifier turns a conversation into a structured classification decision.
type Classifier interface {
	Classify(ctx context.Context, historyText, userMessage, grounding string) (*models.ClassificationOutput, error)
}

// systemInstruction pins the model to the structured-output contract.
const systemInstruction = "You are a highly efficient, professional conversation topic classifier for Twin Health. " +
	"Your sole output MUST strictly adhere to the provided JSON schema. Adhere to all formatting rules in the CONTEXT."

// BuildClassificationPrompt assembles the single prompt sent to the model:
// history block, quoted current message, the classification directive, and
// the grounding rules text.
func BuildClassificationPrompt(historyText, userMessage, grounding string) string {
	var prompt bytes.Buffer

	prompt.WriteString("CONVERSATION HISTORY (Most recent message at the bottom):\n")
	prompt.WriteString(historyText)
	prompt.WriteString("\n")
	prompt.WriteString(fmt.Sprintf("[CURRENT_USER_MESSAGE]: %q\n\n", userMessage))
	prompt.WriteString("Based ONLY on the CONVERSATION HISTORY and the Classification Rules provided below,\n")
	prompt.WriteString("classify the topic, determine the action status, and generate the response message.\n\n")
	prompt.WriteString("RULES & CONTEXT:\n")
	prompt.WriteString(grounding)

	return prompt.String()
}

// classificationSchema is the structured-output contract sent with every
// model call: exactly five fields, enum-constrained where applicable.
var classificationSchema = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"topic": map[string]interface{}{
			"type": "string",
			"enum": []string{"LAB", "TWIN_APPOINTMENT", "OTHERS"},
		},
		"status": map[string]interface{}{
			"type": "string",
			"enum": []string{"classified", "escalate", "no_response"},
		},
		"response_message": map[string]interface{}{"type": "string"},
		"confidence":       map[string]interface{}{"type": "number"},
		"justification":    map[string]interface{}{"type": "string"},
	},
	"required": []string{"topic", "status", "response_message", "confidence", "justification"},
}

// GeminiClassifier calls the Gemini generateContent REST API with a strict
// JSON response schema.
type GeminiClassifier struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

// geminiRequest is the generateContent request body.
type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"system_instruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiGenerationConfig struct {
	ResponseMIMEType string                 `json:"responseMimeType"`
	ResponseSchema   map[string]interface{} `json:"responseSchema"`
}

// geminiResponse is the subset of the generateContent response we consume.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error,omitempty"`
}

// NewGeminiClassifier creates a Gemini-backed classifier. The API key comes
// from GEMINI_API_KEY; model and base URL fall back to defaults when empty.
func NewGeminiClassifier(baseURL, model string) *GeminiClassifier {
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}
	if model == "" {
		model = os.Getenv("GEMINI_MODEL")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	return &GeminiClassifier{
		apiKey:  os.Getenv("GEMINI_API_KEY"),
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// IsAvailable reports whether an API key is configured.
func (g *GeminiClassifier) IsAvailable() bool {
	return g.apiKey != ""
}

// GetModel returns the configured model identifier.
func (g *GeminiClassifier) GetModel() string {
	return g.model
}

// Classify sends the prompt and parses the structured decision.
func (g *GeminiClassifier) Classify(ctx context.Context, historyText, userMessage, grounding string) (*models.ClassificationOutput, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("%w: GEMINI_API_KEY not set", ErrProvider)
	}

	request := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: systemInstruction}},
		},
		Contents: []geminiContent{
			{Role: "user", Parts: []geminiPart{{Text: BuildClassificationPrompt(historyText, userMessage, grounding)}}},
		},
		GenerationConfig: geminiGenerationConfig{
			ResponseMIMEType: "application/json",
			ResponseSchema:   classificationSchema,
		},
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to marshal request: %v", ErrProvider, err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", g.baseURL, g.model, g.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create request: %v", ErrProvider, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProvider, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", ErrProvider, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: API returned status %d: %s", ErrProvider, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var geminiResp geminiResponse
	if err := json.Unmarshal(body, &geminiResp); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response envelope: %v", ErrSchema, err)
	}
	if geminiResp.Error != nil {
		return nil, fmt.Errorf("%w: API error: %s", ErrProvider, geminiResp.Error.Message)
	}
	if len(geminiResp.Candidates) == 0 || len(geminiResp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("%w: no candidates in response", ErrSchema)
	}

	decision, err := models.ParseClassification([]byte(geminiResp.Candidates[0].Content.Parts[0].Text))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSchema, err)
	}

	CanonicalizeEscalation(decision)
	if decision.Status == models.StatusClassified {
		decision.ResponseMessage = SanitizeResponse(decision.ResponseMessage)
	}

	return decision, nil
}

// CanonicalizeEscalation enforces byte-exact escalation texts. A paraphrased
// escalation message is mapped back to its trigger by distinguishing phrase
// and replaced with the canonical constant.
func CanonicalizeEscalation(decision *models.ClassificationOutput) {
	if decision.Status != models.StatusEscalate {
		return
	}

	msg := strings.TrimSpace(decision.ResponseMessage)
	for _, canonical := range models.EscalationMessages {
		if msg == canonical {
			decision.ResponseMessage = canonical
			return
		}
	}

	lower := strings.ToLower(msg)
	key := models.EscalationUnrelated
	switch {
	case strings.Contains(lower, "system error"):
		key = models.EscalationSystemError
	case strings.Contains(lower, "english") || strings.Contains(lower, "spanish"):
		key = models.EscalationNonEnglish
	case strings.Contains(lower, "thank"):
		key = models.EscalationIncorrectInfo
	}
	decision.ResponseMessage = models.EscalationMessages[key]
}

// SanitizeResponse enforces the tone contract on classified replies: plain
// text, no markdown glyphs, at most 3 lines.
func SanitizeResponse(message string) string {
	message = strings.ReplaceAll(message, "**", "")
	message = strings.ReplaceAll(message, "*", "")
	message = strings.ReplaceAll(message, "#", "")

	var lines []string
	for _, line := range strings.Split(message, "\n") {
		line = strings.TrimSpace(line)
		line = strings.TrimPrefix(line, "- ")
		line = strings.TrimPrefix(line, "• ")
		if line == "" {
			continue
		}
		lines = append(lines, line)
		if len(lines) == 3 {
			break
		}
	}

	return strings.Join(lines, "\n")
}

// RuleClassifier is a deterministic keyword implementation of the
// classification policy. It serves as the fallback when no LLM provider is
// configured, mirroring the rules the model is prompted with.
type RuleClassifier struct{}

// NewRuleClassifier creates a rule-based classifier.
func NewRuleClassifier() *RuleClassifier {
	return &RuleClassifier{}
}

var ackMessages = map[string]bool{
	"ok": true, "okay": true, "k": true, "kk": true,
	"thanks": true, "thank you": true, "thx": true, "ty": true,
	"got it": true, "sounds good": true, "sure": true, "yes": true,
}

var labPhrases = []string{
	"blood test", "blood draw", "lab results", "lab appointment",
	"fasting required", "12-hour fast", "12 hour fast",
}

var labTokens = map[string]bool{
	"lab": true, "labs": true, "bloodwork": true, "blood": true,
	"labcorp": true, "quest": true, "fasting": true, "fast": true,
	"specimen": true, "results": true,
}

var appointmentTokens = map[string]bool{
	"appointment": true, "appointments": true, "reschedule": true,
	"schedule": true, "scheduling": true, "coaching": true, "coach": true,
	"consult": true, "consultation": true, "doctor": true, "welcome": true,
	"enrollment": true, "session": true, "screening": true,
	"follow-up": true, "followup": true, "visit": true,
}

var inquiryTokens = map[string]bool{
	"twin": true, "cost": true, "costs": true, "price": true,
	"pricing": true, "mission": true, "program": true, "technology": true,
	"diabetes": true, "membership": true,
}

var incorrectInfoPhrases = []string{
	"wrong time", "wrong date", "incorrect", "not my appointment",
	"isn't my appointment", "that's not right", "thats not right", "mistake",
}

// Classify applies the classification rules deterministically.
func (r *RuleClassifier) Classify(ctx context.Context, historyText, userMessage, grounding string) (*models.ClassificationOutput, error) {
	message := strings.TrimSpace(userMessage)
	lower := strings.ToLower(message)
	tokens := tokenize(lower)

	// Generic first-turn acknowledgement: stay silent.
	if historyText == "" && ackMessages[strings.Trim(lower, ".!")] {
		return &models.ClassificationOutput{
			Topic:         models.TopicOthers,
			Status:        models.StatusNoResponse,
			Confidence:    0.95,
			Justification: "Generic acknowledgement with no prior conversation; no reply needed.",
		}, nil
	}

	if hasNonLatinLetters(message) {
		return &models.ClassificationOutput{
			Topic:           models.TopicOthers,
			Status:          models.StatusEscalate,
			ResponseMessage: models.EscalationMessages[models.EscalationNonEnglish],
			Confidence:      0.9,
			Justification:   "Message is not in English or Spanish.",
		}, nil
	}

	for _, phrase := range incorrectInfoPhrases {
		if strings.Contains(lower, phrase) {
			return &models.ClassificationOutput{
				Topic:           models.TopicOthers,
				Status:          models.StatusEscalate,
				ResponseMessage: models.EscalationMessages[models.EscalationIncorrectInfo],
				Confidence:      0.8,
				Justification:   "User reports incorrect appointment information.",
			}, nil
		}
	}

	if matchesAnyPhrase(lower, labPhrases) || matchesAnyToken(tokens, labTokens) {
		return &models.ClassificationOutput{
			Topic:           models.TopicLab,
			Status:          models.StatusClassified,
			ResponseMessage: "Thanks for reaching out about your lab work. Most lab visits require a 12 hour fast, and a specialist can help adjust your lab appointment if needed.",
			Confidence:      0.85,
			Justification:   "Explicit lab indicators present in the message.",
		}, nil
	}

	if matchesAnyToken(tokens, appointmentTokens) {
		return &models.ClassificationOutput{
			Topic:           models.TopicTwinAppointment,
			Status:          models.StatusClassified,
			ResponseMessage: "Happy to help with your Twin Health appointment. I've noted your request and your care team will confirm the updated time via text.",
			Confidence:      0.8,
			Justification:   "References a non-lab program appointment without lab indicators.",
		}, nil
	}

	if matchesAnyToken(tokens, inquiryTokens) {
		return &models.ClassificationOutput{
			Topic:           models.TopicOthers,
			Status:          models.StatusClassified,
			ResponseMessage: "Twin Health helps reverse metabolic conditions like Type 2 Diabetes using Digital Twin technology and personalized coaching. A care team of a physician, health coach and diabetes specialist supports you throughout the program.",
			Confidence:      0.7,
			Justification:   "General Twin Health inquiry answered from the program overview.",
		}, nil
	}

	return &models.ClassificationOutput{
		Topic:           models.TopicOthers,
		Status:          models.StatusEscalate,
		ResponseMessage: models.EscalationMessages[models.EscalationUnrelated],
		Confidence:      0.6,
		Justification:   "Message is off-topic or lacks context for a confident classification.",
	}, nil
}

// tokenize lower-cases and splits a message into word tokens, trimming
// punctuation.
func tokenize(lower string) map[string]bool {
	tokens := make(map[string]bool)
	for _, field := range strings.Fields(lower) {
		token := strings.Trim(field, ".,!?;:'\"()")
		if token != "" {
			tokens[token] = true
		}
	}
	return tokens
}

func matchesAnyPhrase(lower string, phrases []string) bool {
	for _, phrase := range phrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	return false
}

func matchesAnyToken(tokens map[string]bool, wanted map[string]bool) bool {
	for token := range tokens {
		if wanted[token] {
			return true
		}
	}
	return false
}

// hasNonLatinLetters reports whether the message contains letters outside the
// Latin script. English and Spanish are both Latin-script languages, so any
// other script triggers the language escalation.
func hasNonLatinLetters(message string) bool {
	for _, r := range message {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}
