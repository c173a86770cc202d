package memory

import (
	"context"
	"log/slog"
	"sort"
	"strings"
)

const (
	keywordWeight  = 0.3
	semanticWeight = 0.7
	minSearchScore = 0.1
	defaultLimit   = 5
)

// SearchResult is one scored entity from search_nodes.
type SearchResult struct {
	Entity Entity
	Score  float64
}

// Search combines keyword and semantic scores over the graph. Without a
// vector index it is keyword-only.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	if limit <= 0 {
		limit = defaultLimit
	}

	entities := s.graph.Entities()
	scores := make(map[string]float64, len(entities))
	byName := make(map[string]Entity, len(entities))

	words := tokenize(query)
	for _, e := range entities {
		byName[e.Name] = e
		if score := keywordScore(e, words); score > 0 {
			scores[e.Name] = keywordWeight * score
		}
	}

	if s.index != nil {
		hits, err := s.index.Query(ctx, query, limit*2)
		if err != nil {
			// Semantic search degrades to keyword-only, never fails the tool.
			slog.Warn("semantic memory search failed", "error", err)
		}
		for _, hit := range hits {
			if _, ok := byName[hit.Name]; !ok {
				continue
			}
			scores[hit.Name] += semanticWeight * float64(hit.Similarity)
		}
	}

	results := make([]SearchResult, 0, len(scores))
	for name, score := range scores {
		if score < minSearchScore {
			continue
		}
		results = append(results, SearchResult{Entity: byName[name], Score: score})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Entity.Name < results[j].Entity.Name
	})

	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// keywordScore counts query word hits: entity name matches weigh most, then
// the type, then observations. The score is normalized to 0..1 against the
// query length so it can blend with cosine similarity.
func keywordScore(e Entity, words []string) float64 {
	if len(words) == 0 {
		return 0
	}

	name := strings.ToLower(e.Name)
	etype := strings.ToLower(e.EntityType)
	obs := strings.ToLower(strings.Join(e.Observations, " "))

	var score float64
	for _, w := range words {
		switch {
		case strings.Contains(name, w):
			score += 3
		case etype != "" && strings.Contains(etype, w):
			score += 2
		case strings.Contains(obs, w):
			score += 1
		}
	}
	return score / float64(3*len(words))
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	var out []string
	for _, f := range fields {
		if len(f) >= 2 {
			out = append(out, f)
		}
	}
	return out
}
