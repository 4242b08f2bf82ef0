package services

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCosineSimilaritySelf(t *testing.T) {
	v := []float32{0.5, -1.2, 3.0, 0.7}
	assert.InEpsilon(t, 1.0, CosineSimilarity(v, v), 1e-9)
}

func TestCosineSimilarityZeroVector(t *testing.T) {
	zero := []float32{0, 0, 0}
	v := []float32{1, 2, 3}
	assert.Equal(t, 0.0, CosineSimilarity(zero, v))
	assert.Equal(t, 0.0, CosineSimilarity(v, zero))
	assert.Equal(t, 0.0, CosineSimilarity(zero, zero))
}

func TestCosineSimilarityDimensionMismatch(t *testing.T) {
	assert.Equal(t, 0.0, CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3}))
}

func TestCosineSimilarityOrthogonal(t *testing.T) {
	assert.InDelta(t, 0.0, CosineSimilarity([]float32{1, 0}, []float32{0, 1}), 1e-9)
}

func TestVectorStoreRetrieveEmpty(t *testing.T) {
	store := NewVectorStore()
	assert.Equal(t, "", store.Retrieve([]float32{1, 0}, 1))
}

func TestVectorStoreTopKRanking(t *testing.T) {
	store := NewVectorStore()
	store.Add([]float32{1, 0}, "east")
	store.Add([]float32{0, 1}, "north")
	store.Add([]float32{0.9, 0.1}, "mostly east")

	query := []float32{1, 0}
	assert.Equal(t, "east", store.Retrieve(query, 1))
	assert.Equal(t, "east\n---\nmostly east", store.Retrieve(query, 2))
}

func TestVectorStoreTieBreakInsertionOrder(t *testing.T) {
	store := NewVectorStore()
	// Parallel vectors have identical similarity to any query.
	store.Add([]float32{1, 1}, "first")
	store.Add([]float32{2, 2}, "second")

	assert.Equal(t, "first", store.Retrieve([]float32{1, 1}, 1))
}

func TestVectorStoreKLargerThanStore(t *testing.T) {
	store := NewVectorStore()
	store.Add([]float32{1, 0}, "only")
	assert.Equal(t, "only", store.Retrieve([]float32{0, 1}, 5))
}

func TestRetrievalServiceLoadsKnowledgeOnce(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	embedder := NewEmbeddingServiceWithFunc(func(ctx context.Context, text string) ([]float32, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		return []float32{1, 0, 0}, nil
	})

	retriever := NewRetrievalService(embedder)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			retriever.LoadKnowledge(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, retriever.store.Count())
}

func TestRetrievalServiceReturnsKnowledge(t *testing.T) {
	embedder := NewEmbeddingServiceWithFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1, 0, 0}, nil
	})

	retriever := NewRetrievalService(embedder)
	retriever.LoadKnowledge(context.Background())

	grounding := retriever.Retrieve(context.Background(), "do I need to fast?", 1)
	assert.Equal(t, KnowledgeBaseText, grounding)
}

func TestRetrievalServiceEmbedderUnavailable(t *testing.T) {
	retriever := NewRetrievalService(NewEmbeddingServiceWithFunc(nil))
	retriever.LoadKnowledge(context.Background())

	require.Equal(t, 0, retriever.store.Count())
	assert.Equal(t, "", retriever.Retrieve(context.Background(), "anything", 1))
}

func TestRetrievalServiceQueryEmbedFailure(t *testing.T) {
	failNext := false
	embedder := NewEmbeddingServiceWithFunc(func(ctx context.Context, text string) ([]float32, error) {
		if failNext {
			return nil, fmt.Errorf("provider down")
		}
		return []float32{1, 0}, nil
	})

	retriever := NewRetrievalService(embedder)
	retriever.LoadKnowledge(context.Background())
	require.Equal(t, 1, retriever.store.Count())

	// Query-time failures still hand the classifier the stored rules.
	failNext = true
	assert.Equal(t, KnowledgeBaseText, retriever.Retrieve(context.Background(), "hola", 1))
}

func TestEmbedRejectsEmptyText(t *testing.T) {
	embedder := NewEmbeddingServiceWithFunc(func(ctx context.Context, text string) ([]float32, error) {
		return []float32{1}, nil
	})
	_, err := embedder.Embed(context.Background(), "   ")
	assert.Error(t, err)
}
