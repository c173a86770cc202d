package memory

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/xbot-ai/xbot/internal/tools"
)

// RegisterTools adds the memory tool surface to the registry. Access
// gating keeps them manager-only; workers never see these declarations.
func RegisterTools(reg *tools.Registry, svc *Service) {
	for _, t := range []memoryTool{
		{name: "create_entities", svc: svc},
		{name: "create_relations", svc: svc},
		{name: "add_observations", svc: svc},
		{name: "delete_entities", svc: svc},
		{name: "delete_observations", svc: svc},
		{name: "open_nodes", svc: svc},
		{name: "read_graph", svc: svc},
		{name: "search_nodes", svc: svc},
	} {
		reg.Register(t.name, t)
	}
}

type memoryTool struct {
	name string
	svc  *Service
}

func (t memoryTool) Info(_ context.Context) (*schema.ToolInfo, error) {
	info := &schema.ToolInfo{Name: t.name}

	entityParams := map[string]*schema.ParameterInfo{
		"entities": {
			Type:     schema.Array,
			Desc:     "Entities to create",
			Required: true,
			ElemInfo: &schema.ParameterInfo{
				Type: schema.Object,
				SubParams: map[string]*schema.ParameterInfo{
					"name":         {Type: schema.String, Desc: "Unique entity name", Required: true},
					"entity_type":  {Type: schema.String, Desc: "Kind: person, project, preference, ..."},
					"observations": {Type: schema.Array, Desc: "Facts about the entity", ElemInfo: &schema.ParameterInfo{Type: schema.String}},
				},
			},
		},
	}
	relationParams := map[string]*schema.ParameterInfo{
		"relations": {
			Type:     schema.Array,
			Desc:     "Directed edges in active voice (from --relation--> to)",
			Required: true,
			ElemInfo: &schema.ParameterInfo{
				Type: schema.Object,
				SubParams: map[string]*schema.ParameterInfo{
					"from":          {Type: schema.String, Required: true},
					"to":            {Type: schema.String, Required: true},
					"relation_type": {Type: schema.String, Required: true},
				},
			},
		},
	}

	switch t.name {
	case "create_entities":
		info.Desc = "Create entities in long-term memory."
		info.ParamsOneOf = schema.NewParamsOneOfByParams(entityParams)
	case "create_relations":
		info.Desc = "Create relations between memory entities."
		info.ParamsOneOf = schema.NewParamsOneOfByParams(relationParams)
	case "add_observations":
		info.Desc = "Append observations to existing memory entities."
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"observations": {
				Type:     schema.Array,
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"entity_name": {Type: schema.String, Required: true},
						"contents":    {Type: schema.Array, Required: true, ElemInfo: &schema.ParameterInfo{Type: schema.String}},
					},
				},
			},
		})
	case "delete_entities":
		info.Desc = "Delete entities (and their relations) from memory."
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"names": {Type: schema.Array, Required: true, ElemInfo: &schema.ParameterInfo{Type: schema.String}},
		})
	case "delete_observations":
		info.Desc = "Delete specific observations from memory entities."
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"deletions": {
				Type:     schema.Array,
				Required: true,
				ElemInfo: &schema.ParameterInfo{
					Type: schema.Object,
					SubParams: map[string]*schema.ParameterInfo{
						"entity_name":  {Type: schema.String, Required: true},
						"observations": {Type: schema.Array, Required: true, ElemInfo: &schema.ParameterInfo{Type: schema.String}},
					},
				},
			},
		})
	case "open_nodes":
		info.Desc = "Open named entities and the relations among them."
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"names": {Type: schema.Array, Required: true, ElemInfo: &schema.ParameterInfo{Type: schema.String}},
		})
	case "read_graph":
		info.Desc = "Read the entire memory graph."
	case "search_nodes":
		info.Desc = "Search memory entities by keyword and meaning."
		info.ParamsOneOf = schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"query": {Type: schema.String, Desc: "Search query", Required: true},
			"limit": {Type: schema.Integer, Desc: "Max results, default 5"},
		})
	}
	return info, nil
}

func (t memoryTool) Invoke(ctx context.Context, _ tools.Caller, argsJSON string) tools.Response {
	switch t.name {
	case "create_entities":
		var args struct {
			Entities []Entity `json:"entities"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return tools.Fail(tools.CodeInvalidArgs, err.Error())
		}
		created, err := t.svc.CreateEntities(ctx, args.Entities)
		if err != nil {
			return tools.Fail(tools.CodeWriteFailed, err.Error())
		}
		return tools.OK(fmt.Sprintf("%d entities created", len(created)), map[string]any{"created": entityNames(created)})

	case "create_relations":
		var args struct {
			Relations []Relation `json:"relations"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return tools.Fail(tools.CodeInvalidArgs, err.Error())
		}
		created, err := t.svc.CreateRelations(ctx, args.Relations)
		if err != nil {
			return tools.Fail(tools.CodeWriteFailed, err.Error())
		}
		return tools.OK(fmt.Sprintf("%d relations created", len(created)), nil)

	case "add_observations":
		var args struct {
			Observations []ObservationSet `json:"observations"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return tools.Fail(tools.CodeInvalidArgs, err.Error())
		}
		added, err := t.svc.AddObservations(ctx, args.Observations)
		if err != nil {
			return tools.Fail(tools.CodeNotFound, err.Error())
		}
		data := make(map[string]any, len(added))
		for name, contents := range added {
			data[name] = contents
		}
		return tools.OK(fmt.Sprintf("observations added to %d entities", len(added)), map[string]any{"added": data})

	case "delete_entities":
		var args struct {
			Names []string `json:"names"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return tools.Fail(tools.CodeInvalidArgs, err.Error())
		}
		if err := t.svc.DeleteEntities(ctx, args.Names); err != nil {
			return tools.Fail(tools.CodeWriteFailed, err.Error())
		}
		return tools.OK(fmt.Sprintf("%d entities deleted", len(args.Names)), nil)

	case "delete_observations":
		var args struct {
			Deletions []Deletion `json:"deletions"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return tools.Fail(tools.CodeInvalidArgs, err.Error())
		}
		if err := t.svc.DeleteObservations(ctx, args.Deletions); err != nil {
			return tools.Fail(tools.CodeWriteFailed, err.Error())
		}
		return tools.OK("observations deleted", nil)

	case "open_nodes":
		var args struct {
			Names []string `json:"names"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return tools.Fail(tools.CodeInvalidArgs, err.Error())
		}
		entities, relations, err := t.svc.OpenNodes(ctx, args.Names)
		if err != nil {
			return tools.Fail(tools.CodeReadFailed, err.Error())
		}
		return tools.OK(fmt.Sprintf("%d entities", len(entities)), graphData(entities, relations))

	case "read_graph":
		entities, relations := t.svc.ReadGraph(ctx)
		return tools.OK(fmt.Sprintf("%d entities, %d relations", len(entities), len(relations)), graphData(entities, relations))

	case "search_nodes":
		var args struct {
			Query string `json:"query"`
			Limit int    `json:"limit"`
		}
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return tools.Fail(tools.CodeInvalidArgs, err.Error())
		}
		if args.Query == "" {
			return tools.Fail(tools.CodeInvalidArgs, "query is required")
		}
		results, err := t.svc.Search(ctx, args.Query, args.Limit)
		if err != nil {
			return tools.Fail(tools.CodeReadFailed, err.Error())
		}
		items := make([]map[string]any, 0, len(results))
		for _, r := range results {
			items = append(items, map[string]any{
				"name":         r.Entity.Name,
				"entity_type":  r.Entity.EntityType,
				"observations": r.Entity.Observations,
				"score":        r.Score,
			})
		}
		return tools.OK(fmt.Sprintf("%d matches", len(items)), map[string]any{"results": items})
	}

	return tools.Fail(tools.CodeUnknownTool, "unknown memory tool "+t.name)
}

func entityNames(entities []Entity) []string {
	names := make([]string, len(entities))
	for i, e := range entities {
		names[i] = e.Name
	}
	return names
}

func graphData(entities []Entity, relations []Relation) map[string]any {
	ents := make([]map[string]any, 0, len(entities))
	for _, e := range entities {
		ents = append(ents, map[string]any{
			"name":         e.Name,
			"entity_type":  e.EntityType,
			"observations": e.Observations,
		})
	}
	rels := make([]map[string]any, 0, len(relations))
	for _, r := range relations {
		rels = append(rels, map[string]any{
			"from":          r.From,
			"to":            r.To,
			"relation_type": r.RelationType,
		})
	}
	return map[string]any{"entities": ents, "relations": rels}
}
