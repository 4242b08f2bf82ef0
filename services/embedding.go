package services

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"
)

// EmbeddingService converts text to fixed-dimension vectors using a
// chromem embedding function (OpenAI-backed by default).
type EmbeddingService struct {
	embed   chromem.EmbeddingFunc
	timeout time.Duration
}

// NewEmbeddingService builds the default embedder from OPENAI_API_KEY.
// Without a key the service is unavailable and callers degrade gracefully.
func NewEmbeddingService() *EmbeddingService {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		log.Printf("Embedding disabled: OPENAI_API_KEY not set")
		return &EmbeddingService{timeout: 30 * time.Second}
	}

	return &EmbeddingService{
		embed:   chromem.NewEmbeddingFuncOpenAI(apiKey, chromem.EmbeddingModelOpenAI3Small),
		timeout: 30 * time.Second,
	}
}

// NewEmbeddingServiceWithFunc builds an embedder around a custom embedding
// function. Used by tests to substitute a deterministic embedder.
func NewEmbeddingServiceWithFunc(fn chromem.EmbeddingFunc) *EmbeddingService {
	return &EmbeddingService{
		embed:   fn,
		timeout: 30 * time.Second,
	}
}

// IsAvailable reports whether an embedding provider is configured.
func (e *EmbeddingService) IsAvailable() bool {
	return e.embed != nil
}

// Embed generates the embedding vector for text.
func (e *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	if e.embed == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vector, err := e.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	return vector, nil
}

// GetStatus returns the status of the embedding service.
func (e *EmbeddingService) GetStatus() map[string]interface{} {
	status := map[string]interface{}{
		"timeout": e.timeout.String(),
	}

	if e.IsAvailable() {
		status["status"] = "available"
	} else {
		status["status"] = "unavailable"
		status["error"] = "OPENAI_API_KEY not set"
	}

	return status
}
