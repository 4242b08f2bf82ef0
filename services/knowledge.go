package services

import (
	"context"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
)

// KnowledgeBaseText is the static grounding document: classification rules,
// escalation rules, response requirements and the program FAQ. It is embedded
// once at startup and supplied to the classifier on every request.
const KnowledgeBaseText = `# Conversation Topic Assistant - LLM Execution

You are a conversation topic classifier for Twin Health. Your task is to analyze a chain of SMS messages and determine if the conversation is about:

A) LAB: Lab appointments (or) lab results
B) TWIN_APPOINTMENT: Any non-lab Twin Health appointments
C) OTHERS: None of the above

## Classification Rules:

### 1) Classify as LAB
Classify as LAB only when there is explicit mention of laboratory testing, bloodwork, specimen collection, lab results, (or) similar lab-related topics.

i) Look for specific indicators: "lab appointment", "blood test", "lab results", "bloodwork", "labcorp", "quest"
ii) Also consider phrases like "fasting required", "12-hour fast", "blood draw"

### 2) Classify as TWIN_APPOINTMENT
Classify as TWIN_APPOINTMENT when the conversation references any non-lab Twin Health appointment.

i) This includes: health screening calls, welcome calls, coaching sessions, doctor consultations, follow-up appointments
ii) Look for appointment scheduling language without lab-specific indicators
iii) Consider phrases like "call with your coach", "doctor appointment", "consultation", "program session", "enrollment call"

### 3) Classify as OTHERS
Classify as OTHERS when:

i) The conversation does not clearly relate to any Twin Health appointment, but is a general inquiry about Twin Health or a greeting.
ii) The topic is ambiguous and could be about multiple appointment types
iii) There is insufficient context to make a confident determination
iv) Any escalation criteria are met (see escalation rules)
v) The message is generic acknowledgement to the reminder (e.g., "ok", "okay", "thanks") and is the first message in the conversation. In this case, do not respond.

## Escalation Rules:

For non-scheduling cases, set appropriate status and message:

### 1) Questions about visit prep (or) unrelated topics (NOT about Twin Health):
i) message: "I'm sorry, I'm unable to help with that. I can forward this to a specialist and they'll respond via text within 1 business day."
ii) status: "escalate"

### 2) General Inquiries about Twin Health:
i) If the user asks about Twin Health, its mission, technology, or costs, use the "Twin Health Program Overview" below to provide a concise answer.
ii) status: "classified"

### 3) Incorrect appointment info reported:
i) message: "Thank you, I will forward this to a specialist. If they have questions they will respond within 1 business day."
ii) status: "escalate"

### 4) Non-English (or) Non-Spanish Language:
i) message: "I can only converse in English or Spanish. I can forward this to a specialist and they'll respond via text within 1 business day."
ii) status: "escalate"

### 5) System Error:
i) message: "I'm sorry, there was a system error. I forwarded this to a specialist and they'll respond via text within 1 business day."
ii) status: "escalate"

## Response Requirements:

- TONE: Supportive, professional, and knowledgeable
- CONCISENESS: Keep responses extremely concise, ideally within 1-2 sentences. DO NOT exceed 3 lines
- FORMATTING: Use plain text only. DO NOT use any markdown formatting (like asterisks, hashtags, or dashes) for bolding, italics, or lists
- For escalations, use the EXACT message text provided above
- For classified inquiries, set status='classified' and provide a brief, helpful response

## Twin Health Program Overview:

Core Mission: Reverse metabolic diseases (Type 2 Diabetes, Obesity) using Digital Twin technology and personalized coaching to reduce or eliminate lifetime medication.

Digital Twin Technology: AI-powered digital replica of the member's body and metabolism, built from connected device data and lab results. Provides real-time, personalized recommendations on nutrition, sleep, and activity.

Care Team: Physician (medication adjustments), Personal Health Coach (daily support), Certified Diabetes Care and Education Specialist.

Lab Work: Mandatory for Digital Twin monitoring (typically at enrollment, 3, 6, and 12 months). Most require 12-hour fast. Scheduled via Labcorp or Quest Diagnostics.

Appointments: Welcome Calls, Coaching Sessions (goal review), Doctor Consultations (medical check-ins, lab results). All personalized.

Program Cost (India): 75,000 INR/year (annual) or 22,500 INR quarterly installments.

Support Hours: 24x7 platform monitoring. Sales/General Inquiry: 9am-9pm IST, Monday-Saturday.`

// KnowledgeChunk is one embedded piece of grounding material.
type KnowledgeChunk struct {
	Vector []float32
	Text   string
}

// VectorStore holds embedded knowledge chunks in memory. Written during
// startup, read-only afterwards.
type VectorStore struct {
	mu     sync.RWMutex
	chunks []KnowledgeChunk
}

// NewVectorStore creates an empty vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{}
}

// Add appends a chunk to the store.
func (v *VectorStore) Add(vector []float32, text string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.chunks = append(v.chunks, KnowledgeChunk{Vector: vector, Text: text})
}

// Count returns the number of stored chunks.
func (v *VectorStore) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.chunks)
}

// Retrieve returns the k most similar chunks to the query vector, ranked by
// cosine similarity, joined with a separator. Ties break by insertion order.
// An empty store returns empty text.
func (v *VectorStore) Retrieve(query []float32, k int) string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.chunks) == 0 {
		return ""
	}
	if k <= 0 {
		k = 1
	}

	type scored struct {
		similarity float64
		index      int
	}

	ranked := make([]scored, 0, len(v.chunks))
	for i, chunk := range v.chunks {
		ranked = append(ranked, scored{
			similarity: CosineSimilarity(query, chunk.Vector),
			index:      i,
		})
	}

	// Stable sort keeps insertion order for equal similarities.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].similarity > ranked[j].similarity
	})

	if k > len(ranked) {
		k = len(ranked)
	}

	texts := make([]string, 0, k)
	for _, r := range ranked[:k] {
		texts = append(texts, v.chunks[r.index].Text)
	}
	return strings.Join(texts, "\n---\n")
}

// allText returns every stored chunk joined, ignoring ranking.
func (v *VectorStore) allText() string {
	v.mu.RLock()
	defer v.mu.RUnlock()

	texts := make([]string, 0, len(v.chunks))
	for _, chunk := range v.chunks {
		texts = append(texts, chunk.Text)
	}
	return strings.Join(texts, "\n---\n")
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|). Returns 0.0 exactly when
// either vector has zero norm or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0.0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// RetrievalService owns the knowledge vector store and its embedder.
// LoadKnowledge runs once; the store is read-only afterwards.
type RetrievalService struct {
	embedder *EmbeddingService
	store    *VectorStore
	loadOnce sync.Once
}

// NewRetrievalService creates a retrieval service around the given embedder.
func NewRetrievalService(embedder *EmbeddingService) *RetrievalService {
	return &RetrievalService{
		embedder: embedder,
		store:    NewVectorStore(),
	}
}

// LoadKnowledge embeds the knowledge base once and seeds the store. A failed
// embed never aborts startup: the store stays empty and retrieval returns
// empty grounding.
func (r *RetrievalService) LoadKnowledge(ctx context.Context) {
	r.loadOnce.Do(func() {
		if !r.embedder.IsAvailable() {
			log.Printf("Knowledge base not embedded: embedding provider unavailable")
			return
		}

		log.Printf("Generating embedding for the knowledge base...")
		vector, err := r.embedder.Embed(ctx, KnowledgeBaseText)
		if err != nil {
			log.Printf("Knowledge base embedding failed: %v", err)
			return
		}

		r.store.Add(vector, KnowledgeBaseText)
		log.Printf("Vector store initialized with %d knowledge chunk(s) (dimension: %d)", r.store.Count(), len(vector))
	})
}

// Retrieve returns grounding text for a query. When the query cannot be
// embedded the stored text is returned directly, so classification still
// receives the rules.
func (r *RetrievalService) Retrieve(ctx context.Context, query string, k int) string {
	if r.store.Count() == 0 {
		return ""
	}

	queryVector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("Query embedding failed, returning stored knowledge directly: %v", err)
		return r.store.allText()
	}

	return r.store.Retrieve(queryVector, k)
}

// GetStatus returns the status of the retrieval service.
func (r *RetrievalService) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"chunks":            r.store.Count(),
		"initialized":       r.store.Count() > 0,
		"embedding_enabled": r.embedder.IsAvailable(),
	}
}
