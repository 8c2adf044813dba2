package crawler

import "encoding/json"

// SpecNode is one entry of a job's document specification, e.g.
// {Type: "startpoint", Attrs: {"path": "Projects/Docs"}}.
type SpecNode struct {
	Type     string            `json:"type" mapstructure:"type"`
	Attrs    map[string]string `json:"attrs,omitempty" mapstructure:"attrs"`
	Children []SpecNode        `json:"children,omitempty" mapstructure:"children"`
}

// Attr returns the named attribute or "" when absent.
func (n SpecNode) Attr(name string) string {
	return n.Attrs[name]
}

// HasAttr reports whether the attribute is present, even when empty.
func (n SpecNode) HasAttr(name string) bool {
	_, ok := n.Attrs[name]
	return ok
}

// DocumentSpec is the ordered list of specification nodes a connector
// interprets when seeding and processing.
type DocumentSpec struct {
	Nodes []SpecNode `json:"nodes" mapstructure:"nodes"`
}

// Of returns the nodes of the given type in declaration order.
func (s DocumentSpec) Of(nodeType string) []SpecNode {
	var out []SpecNode
	for _, n := range s.Nodes {
		if n.Type == nodeType {
			out = append(out, n)
		}
	}
	return out
}

// Add appends a node and returns the spec for chaining in tests and CLIs.
func (s DocumentSpec) Add(nodeType string, attrs map[string]string) DocumentSpec {
	s.Nodes = append(s.Nodes, SpecNode{Type: nodeType, Attrs: attrs})
	return s
}

// Key returns a canonical encoding of the spec. Jobs whose specs share a key
// crawl the same documents and share a seeding checkpoint.
func (s DocumentSpec) Key() string {
	if s.Nodes == nil {
		s.Nodes = []SpecNode{}
	}
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	return string(b)
}
