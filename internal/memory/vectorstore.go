package memory

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/cloudwego/eino/components/embedding"
	chromem "github.com/philippgille/chromem-go"
)

const collectionName = "memory_graph"

// VectorHit is one semantic search result keyed by entity name.
type VectorHit struct {
	Name       string
	Similarity float32
}

// VectorIndex keeps one embedded document per entity in a persistent
// chromem-go collection so search_nodes can match on meaning, not just
// words.
type VectorIndex struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorIndex opens the persistent index under dir/vectors. The eino
// embedder ([][]float64) is bridged to chromem-go's []float32 functions.
func NewVectorIndex(ctx context.Context, dir string, embedder embedding.Embedder) (*VectorIndex, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "vectors"), false)
	if err != nil {
		return nil, fmt.Errorf("open vector index: %w", err)
	}

	col, err := db.GetOrCreateCollection(collectionName, nil, bridgeEmbedder(ctx, embedder))
	if err != nil {
		return nil, fmt.Errorf("open vector collection: %w", err)
	}
	return &VectorIndex{db: db, collection: col}, nil
}

// Upsert indexes one entity document under its name.
func (vi *VectorIndex) Upsert(ctx context.Context, name, content string) error {
	return vi.collection.Add(ctx, []string{name}, nil,
		[]map[string]string{{"entity": name}}, []string{content})
}

// Delete removes an entity from the index.
func (vi *VectorIndex) Delete(ctx context.Context, name string) error {
	return vi.collection.Delete(ctx, nil, nil, name)
}

// Query returns the entities nearest to the query text.
func (vi *VectorIndex) Query(ctx context.Context, query string, n int) ([]VectorHit, error) {
	if vi.collection.Count() == 0 {
		return nil, nil
	}
	if n > vi.collection.Count() {
		n = vi.collection.Count()
	}

	results, err := vi.collection.Query(ctx, query, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}

	hits := make([]VectorHit, len(results))
	for i, r := range results {
		hits[i] = VectorHit{Name: r.ID, Similarity: r.Similarity}
	}
	return hits, nil
}

// Count returns the number of indexed entities.
func (vi *VectorIndex) Count() int {
	return vi.collection.Count()
}

func bridgeEmbedder(ctx context.Context, embedder embedding.Embedder) chromem.EmbeddingFunc {
	return func(embedCtx context.Context, text string) ([]float32, error) {
		if embedCtx == context.Background() {
			embedCtx = ctx
		}
		vectors, err := embedder.EmbedStrings(embedCtx, []string{text})
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		if len(vectors) == 0 || len(vectors[0]) == 0 {
			return nil, fmt.Errorf("embed text: empty result")
		}

		f32 := make([]float32, len(vectors[0]))
		for i, v := range vectors[0] {
			f32[i] = float32(v)
		}
		return f32, nil
	}
}
