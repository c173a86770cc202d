package memory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xbot-ai/xbot/internal/config"
)

// Entities older than this without a LastUsed touch are compaction
// candidates; their oldest observations get trimmed first.
const (
	staleAfter      = 90 * 24 * time.Hour
	maxObservations = 50
)

// Service ties the graph to the optional vector index and exposes the
// operations the memory tools and the MCP server call.
type Service struct {
	graph *Graph
	index *VectorIndex
}

// NewService opens the graph under dir and, when an embedding driver is
// configured, the vector index beside it. A missing embedder is normal:
// search degrades to keyword matching.
func NewService(ctx context.Context, dir string, cfg config.MemoryConfig) (*Service, error) {
	graph, err := NewGraph(dir)
	if err != nil {
		return nil, err
	}
	svc := &Service{graph: graph}

	embedder, err := NewEmbedder(ctx, cfg.Embedder)
	if err != nil {
		return nil, err
	}
	if embedder != nil {
		index, err := NewVectorIndex(ctx, dir, embedder)
		if err != nil {
			return nil, err
		}
		svc.index = index
	}
	return svc, nil
}

// Graph exposes the underlying store for read paths (CLI inspection).
func (s *Service) Graph() *Graph { return s.graph }

// CreateEntities adds new entities and indexes them.
func (s *Service) CreateEntities(ctx context.Context, entities []Entity) ([]Entity, error) {
	created, err := s.graph.CreateEntities(entities)
	if err != nil {
		return nil, err
	}
	s.reindex(ctx, created)
	return created, nil
}

// CreateRelations adds directed edges, skipping duplicates.
func (s *Service) CreateRelations(_ context.Context, relations []Relation) ([]Relation, error) {
	return s.graph.CreateRelations(relations)
}

// AddObservations appends observations and refreshes the index for the
// touched entities.
func (s *Service) AddObservations(ctx context.Context, sets []ObservationSet) (map[string][]string, error) {
	added, err := s.graph.AddObservations(sets)
	if err != nil {
		return nil, err
	}

	var touched []Entity
	for name := range added {
		if ents, _, err := s.graph.OpenNodes([]string{name}); err == nil && len(ents) == 1 {
			touched = append(touched, ents[0])
		}
	}
	s.reindex(ctx, touched)
	return added, nil
}

// DeleteEntities removes entities, their relations, and their index rows.
func (s *Service) DeleteEntities(ctx context.Context, names []string) error {
	if err := s.graph.DeleteEntities(names); err != nil {
		return err
	}
	if s.index != nil {
		for _, name := range names {
			if err := s.index.Delete(ctx, name); err != nil {
				slog.Warn("drop entity from vector index", "entity", name, "error", err)
			}
		}
	}
	return nil
}

// DeleteObservations removes specific observations from entities.
func (s *Service) DeleteObservations(ctx context.Context, deletions []Deletion) error {
	if err := s.graph.DeleteObservations(deletions); err != nil {
		return err
	}

	var touched []Entity
	for _, d := range deletions {
		if ents, _, err := s.graph.OpenNodes([]string{d.EntityName}); err == nil && len(ents) == 1 {
			touched = append(touched, ents[0])
		}
	}
	s.reindex(ctx, touched)
	return nil
}

// DeleteRelations removes directed edges.
func (s *Service) DeleteRelations(_ context.Context, relations []Relation) error {
	return s.graph.DeleteRelations(relations)
}

// OpenNodes returns the named entities plus the relations among them.
func (s *Service) OpenNodes(_ context.Context, names []string) ([]Entity, []Relation, error) {
	return s.graph.OpenNodes(names)
}

// ReadGraph returns the whole graph.
func (s *Service) ReadGraph(_ context.Context) ([]Entity, []Relation) {
	return s.graph.ReadGraph()
}

// Compact is the heartbeat maintenance pass: prune relations whose
// endpoints are gone and trim observation lists on entities that have not
// been used in a long time.
func (s *Service) Compact(ctx context.Context) error {
	pruned, err := s.graph.PruneOrphanRelations()
	if err != nil {
		return fmt.Errorf("prune relations: %w", err)
	}
	if pruned > 0 {
		slog.Info("memory compaction pruned orphan relations", "count", pruned)
	}

	cutoff := time.Now().Add(-staleAfter)
	var trimmed []Entity
	for _, e := range s.graph.Entities() {
		if len(e.Observations) <= maxObservations || e.LastUsed.After(cutoff) {
			continue
		}
		keep := e.Observations[len(e.Observations)-maxObservations:]
		if err := s.graph.DeleteObservations([]Deletion{{
			EntityName:   e.Name,
			Observations: e.Observations[:len(e.Observations)-len(keep)],
		}}); err != nil {
			return fmt.Errorf("trim %s: %w", e.Name, err)
		}
		if ents, _, err := s.graph.OpenNodes([]string{e.Name}); err == nil && len(ents) == 1 {
			trimmed = append(trimmed, ents[0])
		}
	}
	s.reindex(ctx, trimmed)
	return nil
}

func (s *Service) reindex(ctx context.Context, entities []Entity) {
	if s.index == nil {
		return
	}
	for _, e := range entities {
		if err := s.index.Upsert(ctx, e.Name, embedText(e)); err != nil {
			// Indexing is best-effort; the graph row is already durable.
			slog.Warn("index entity", "entity", e.Name, "error", err)
		}
	}
}
