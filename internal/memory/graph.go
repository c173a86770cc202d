// Package memory is the manager's long-term knowledge graph: entities with
// typed observations, relations between them, and a search index. The graph
// lives in one JSONL file so the user can read and repair it by hand.
package memory

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xbot-ai/xbot/internal/storage"
)

// Entity is one node: a person, project, preference, anything worth
// remembering across sessions.
type Entity struct {
	Name         string    `json:"name"`
	EntityType   string    `json:"entity_type"`
	Observations []string  `json:"observations"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsed     time.Time `json:"last_used"`
}

// Relation is one directed edge in active voice: from --relation--> to.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relation_type"`
}

// graphRow is the JSONL on-disk form; one row per entity or relation.
type graphRow struct {
	Kind     string    `json:"kind"` // "entity" | "relation"
	Entity   *Entity   `json:"entity,omitempty"`
	Relation *Relation `json:"relation,omitempty"`
}

// ObservationSet targets one entity in add_observations.
type ObservationSet struct {
	EntityName string   `json:"entity_name"`
	Contents   []string `json:"contents"`
}

// Deletion targets observations on one entity in delete_observations.
type Deletion struct {
	EntityName   string   `json:"entity_name"`
	Observations []string `json:"observations"`
}

// Graph is the mutable store. All reads return copies; the JSONL file is
// rewritten whole under the mutex on every mutation.
type Graph struct {
	mu        sync.Mutex
	path      string
	entities  map[string]*Entity
	relations []Relation
}

// NewGraph loads (or starts) the graph at dir/graph.jsonl. Corrupt lines
// are skipped by the JSONL reader, so one bad hand-edit never takes the
// whole memory down.
func NewGraph(dir string) (*Graph, error) {
	g := &Graph{
		path:     filepath.Join(dir, "graph.jsonl"),
		entities: make(map[string]*Entity),
	}

	rows, err := storage.ReadJSONLines[graphRow](g.path)
	if err != nil {
		return nil, fmt.Errorf("load memory graph: %w", err)
	}
	for _, row := range rows {
		switch {
		case row.Kind == "entity" && row.Entity != nil && row.Entity.Name != "":
			e := *row.Entity
			g.entities[e.Name] = &e
		case row.Kind == "relation" && row.Relation != nil:
			g.relations = append(g.relations, *row.Relation)
		}
	}
	return g, nil
}

func (g *Graph) persist() error {
	names := make([]string, 0, len(g.entities))
	for name := range g.entities {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]graphRow, 0, len(names)+len(g.relations))
	for _, name := range names {
		e := *g.entities[name]
		rows = append(rows, graphRow{Kind: "entity", Entity: &e})
	}
	for i := range g.relations {
		r := g.relations[i]
		rows = append(rows, graphRow{Kind: "relation", Relation: &r})
	}

	if err := storage.RewriteJSONLines(g.path, rows); err != nil {
		return fmt.Errorf("persist memory graph: %w", err)
	}
	return nil
}

// CreateEntities adds entities, skipping names that already exist. It
// returns the entities actually created.
func (g *Graph) CreateEntities(entities []Entity) ([]Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	var created []Entity
	for _, e := range entities {
		if e.Name == "" {
			continue
		}
		if _, exists := g.entities[e.Name]; exists {
			continue
		}
		e.CreatedAt = now
		e.LastUsed = now
		stored := e
		g.entities[e.Name] = &stored
		created = append(created, e)
	}

	if len(created) == 0 {
		return nil, nil
	}
	return created, g.persist()
}

// CreateRelations adds relations whose endpoints exist, skipping duplicates.
func (g *Graph) CreateRelations(relations []Relation) ([]Relation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var created []Relation
	for _, r := range relations {
		if _, ok := g.entities[r.From]; !ok {
			continue
		}
		if _, ok := g.entities[r.To]; !ok {
			continue
		}
		if g.hasRelation(r) {
			continue
		}
		g.relations = append(g.relations, r)
		created = append(created, r)
	}

	if len(created) == 0 {
		return nil, nil
	}
	return created, g.persist()
}

func (g *Graph) hasRelation(r Relation) bool {
	for _, have := range g.relations {
		if have == r {
			return true
		}
	}
	return false
}

// AddObservations appends new observations to existing entities. Unknown
// entities error; duplicate observations are dropped silently.
func (g *Graph) AddObservations(sets []ObservationSet) (map[string][]string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	added := make(map[string][]string)
	now := time.Now().UTC()
	for _, set := range sets {
		e, ok := g.entities[set.EntityName]
		if !ok {
			return nil, fmt.Errorf("entity %q not found", set.EntityName)
		}
		for _, obs := range set.Contents {
			if obs == "" || contains(e.Observations, obs) {
				continue
			}
			e.Observations = append(e.Observations, obs)
			added[set.EntityName] = append(added[set.EntityName], obs)
		}
		e.LastUsed = now
	}

	if len(added) == 0 {
		return added, nil
	}
	return added, g.persist()
}

// DeleteEntities removes entities and every relation touching them.
func (g *Graph) DeleteEntities(names []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	doomed := make(map[string]bool, len(names))
	changed := false
	for _, name := range names {
		if _, ok := g.entities[name]; ok {
			delete(g.entities, name)
			doomed[name] = true
			changed = true
		}
	}
	if !changed {
		return nil
	}

	kept := g.relations[:0]
	for _, r := range g.relations {
		if doomed[r.From] || doomed[r.To] {
			continue
		}
		kept = append(kept, r)
	}
	g.relations = kept
	return g.persist()
}

// DeleteObservations removes specific observations from entities. Unknown
// entities and absent observations are ignored.
func (g *Graph) DeleteObservations(deletions []Deletion) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := false
	for _, del := range deletions {
		e, ok := g.entities[del.EntityName]
		if !ok {
			continue
		}
		kept := e.Observations[:0]
		for _, obs := range e.Observations {
			if contains(del.Observations, obs) {
				changed = true
				continue
			}
			kept = append(kept, obs)
		}
		e.Observations = kept
	}

	if !changed {
		return nil
	}
	return g.persist()
}

// DeleteRelations removes exact relation triples.
func (g *Graph) DeleteRelations(relations []Relation) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	changed := false
	kept := g.relations[:0]
	for _, have := range g.relations {
		drop := false
		for _, r := range relations {
			if have == r {
				drop = true
				break
			}
		}
		if drop {
			changed = true
			continue
		}
		kept = append(kept, have)
	}
	g.relations = kept

	if !changed {
		return nil
	}
	return g.persist()
}

// OpenNodes returns the named entities and the relations among them, and
// touches their last_used timestamps.
func (g *Graph) OpenNodes(names []string) ([]Entity, []Relation, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := time.Now().UTC()
	want := make(map[string]bool, len(names))
	var entities []Entity
	for _, name := range names {
		e, ok := g.entities[name]
		if !ok {
			continue
		}
		e.LastUsed = now
		want[name] = true
		entities = append(entities, *e)
	}

	var relations []Relation
	for _, r := range g.relations {
		if want[r.From] && want[r.To] {
			relations = append(relations, r)
		}
	}

	if len(entities) == 0 {
		return nil, nil, nil
	}
	return entities, relations, g.persist()
}

// ReadGraph returns a copy of the whole graph.
func (g *Graph) ReadGraph() ([]Entity, []Relation) {
	g.mu.Lock()
	defer g.mu.Unlock()

	names := make([]string, 0, len(g.entities))
	for name := range g.entities {
		names = append(names, name)
	}
	sort.Strings(names)

	entities := make([]Entity, 0, len(names))
	for _, name := range names {
		entities = append(entities, *g.entities[name])
	}
	relations := append([]Relation(nil), g.relations...)
	return entities, relations
}

// Entities returns a copy of every entity, unsorted.
func (g *Graph) Entities() []Entity {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]Entity, 0, len(g.entities))
	for _, e := range g.entities {
		out = append(out, *e)
	}
	return out
}

// PruneOrphanRelations drops relations whose endpoints no longer exist. It
// returns how many were removed.
func (g *Graph) PruneOrphanRelations() (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	kept := g.relations[:0]
	removed := 0
	for _, r := range g.relations {
		_, fromOK := g.entities[r.From]
		_, toOK := g.entities[r.To]
		if !fromOK || !toOK {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	g.relations = kept

	if removed == 0 {
		return 0, nil
	}
	return removed, g.persist()
}

// embedText renders an entity for the vector index.
func embedText(e Entity) string {
	var b strings.Builder
	b.WriteString(e.Name)
	if e.EntityType != "" {
		b.WriteString(" (" + e.EntityType + ")")
	}
	for _, obs := range e.Observations {
		b.WriteString("\n" + obs)
	}
	return b.String()
}

func contains(list []string, s string) bool {
	for _, have := range list {
		if have == s {
			return true
		}
	}
	return false
}
