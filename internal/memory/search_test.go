package memory

import (
	"context"
	"testing"
)

func searchService(t *testing.T) *Service {
	t.Helper()
	g := seedGraph(t)
	return &Service{graph: g}
}

func TestSearchKeywordOnly(t *testing.T) {
	svc := searchService(t)

	results, err := svc.Search(context.Background(), "coffee", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Entity.Name != "alice" {
		t.Errorf("results = %+v", results)
	}
}

func TestSearchNameOutranksObservation(t *testing.T) {
	svc := searchService(t)
	if _, err := svc.graph.CreateEntities([]Entity{
		{Name: "coffee-machine", EntityType: "device"},
	}); err != nil {
		t.Fatal(err)
	}

	results, err := svc.Search(context.Background(), "coffee", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %+v", results)
	}
	if results[0].Entity.Name != "coffee-machine" {
		t.Errorf("ranking = %s then %s", results[0].Entity.Name, results[1].Entity.Name)
	}
}

func TestSearchLimit(t *testing.T) {
	svc := searchService(t)

	results, err := svc.Search(context.Background(), "alice uptime", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) > 1 {
		t.Errorf("limit ignored: %+v", results)
	}
}

func TestSearchNoMatch(t *testing.T) {
	svc := searchService(t)

	results, err := svc.Search(context.Background(), "zzz nothing", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v", results)
	}
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	got := tokenize("a to-do: fix CI!")
	want := []string{"to", "do", "fix", "ci"}
	if len(got) != len(want) {
		t.Fatalf("tokenize = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("tokenize[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
