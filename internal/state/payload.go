package state

import (
	"bytes"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Payload is an ordered YAML mapping. Key order survives a decode/encode
// roundtrip, so humans and agents editing a state file never see their keys
// reshuffled.
type Payload struct {
	node yaml.Node
}

// NewPayload returns an empty mapping payload.
func NewPayload() *Payload {
	return &Payload{node: yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}}
}

// PayloadFrom builds a payload from any YAML-marshalable value. Struct field
// order is preserved; the value must marshal to a mapping.
func PayloadFrom(v any) (*Payload, error) {
	data, err := yaml.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload value: %w", err)
	}
	return parseMapping(data)
}

func parseMapping(data []byte) (*Payload, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if doc.Kind == 0 || len(doc.Content) == 0 {
		return NewPayload(), nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("payload is %s, want mapping", nodeKind(root.Kind))
	}

	p := &Payload{}
	p.node = *root
	return p, nil
}

func nodeKind(k yaml.Kind) string {
	switch k {
	case yaml.DocumentNode:
		return "document"
	case yaml.SequenceNode:
		return "sequence"
	case yaml.MappingNode:
		return "mapping"
	case yaml.ScalarNode:
		return "scalar"
	case yaml.AliasNode:
		return "alias"
	default:
		return "unknown"
	}
}

// marshal renders the mapping with two-space indentation.
func (p *Payload) marshal() ([]byte, error) {
	if p.Len() == 0 {
		return []byte("{}\n"), nil
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&p.node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode unmarshals the payload into out.
func (p *Payload) Decode(out any) error {
	return p.node.Decode(out)
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	return len(p.node.Content) / 2
}

// Keys returns mapping keys in file order.
func (p *Payload) Keys() []string {
	keys := make([]string, 0, p.Len())
	for i := 0; i+1 < len(p.node.Content); i += 2 {
		keys = append(keys, p.node.Content[i].Value)
	}
	return keys
}

// Get returns the value node for key.
func (p *Payload) Get(key string) (*yaml.Node, bool) {
	for i := 0; i+1 < len(p.node.Content); i += 2 {
		if p.node.Content[i].Value == key {
			return p.node.Content[i+1], true
		}
	}
	return nil, false
}

// Has reports whether key is present.
func (p *Payload) Has(key string) bool {
	_, ok := p.Get(key)
	return ok
}

// Set replaces the value for key in place, or appends the pair when absent.
func (p *Payload) Set(key string, v any) error {
	val := &yaml.Node{}
	if err := val.Encode(v); err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}

	for i := 0; i+1 < len(p.node.Content); i += 2 {
		if p.node.Content[i].Value == key {
			p.node.Content[i+1] = val
			return nil
		}
	}

	p.node.Content = append(p.node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		val,
	)
	return nil
}

// Version returns the integer value of the "version" key, or 0 when absent.
func (p *Payload) Version() int {
	node, ok := p.Get("version")
	if !ok || node.Kind != yaml.ScalarNode {
		return 0
	}
	v, err := strconv.Atoi(node.Value)
	if err != nil {
		return 0
	}
	return v
}

// withVersion returns the payload itself when a version key exists, or a
// shallow copy with "version: n" prepended.
func (p *Payload) withVersion(n int) *Payload {
	if p.Has("version") {
		return p
	}

	out := NewPayload()
	out.node.Content = append(out.node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: "version"},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!int", Value: strconv.Itoa(n)},
	)
	out.node.Content = append(out.node.Content, p.node.Content...)
	return out
}
