package common

import (
	"fmt"
	"slices"
)

// NodeKind classifies a node by the producer that created it. Crawl nodes use
// the site/search/author/article kinds, nodes converted from graph-store rows
// use NodeKindVertex.
type NodeKind string

const (
	NodeKindSite    NodeKind = "site"
	NodeKindSearch  NodeKind = "search"
	NodeKindAuthor  NodeKind = "author"
	NodeKindArticle NodeKind = "article"
	NodeKindVertex  NodeKind = "vertex"
)

// Attribute keys recognized on crawl nodes.
const (
	AttrLink  = "link"
	AttrDate  = "date"
	AttrCount = "count"
)

// Edge labels produced by the crawl path.
const (
	LabelPosted     = "Posted"
	LabelPostedOn   = "PostedOn"
	LabelFromSearch = "FromSearch"
)

// recognizedAttributes lists the attribute keys each crawl kind may carry.
// Kinds missing from the map (NodeKindVertex) accept any key.
var recognizedAttributes = map[NodeKind][]string{
	NodeKindSite:    {},
	NodeKindSearch:  {},
	NodeKindAuthor:  {AttrLink},
	NodeKindArticle: {AttrLink, AttrDate, AttrCount},
}

// Graph is the canonical graph value handed to consumers. Nodes keep their
// insertion order and have unique ids; every edge endpoint refers to a node
// of the same graph once the producer has finished.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is an entity of the graph. Attributes are attached when the node is
// created and are never changed afterwards.
type Node struct {
	ID          string         `json:"id"`
	Kind        NodeKind       `json:"kind,omitempty"`
	Description string         `json:"description"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// Edge is a directed, labeled relation between two nodes.
type Edge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  string `json:"label"`
}

// Record is one content item read from a rendered page. All fields are kept
// as displayed; EngagementCount in particular is left unparsed.
type Record struct {
	Author          string `json:"author"`
	AuthorLink      string `json:"author_link"`
	PublishDate     string `json:"publish_date"`
	Title           string `json:"title"`
	EngagementCount string `json:"engagement_count"`
}

// ResultRow is one traversal step returned by the graph store. Either payload
// may be absent.
type ResultRow struct {
	V map[string]any `json:"v,omitempty"`
	E map[string]any `json:"e,omitempty"`
}

// ValidateAttributes rejects attribute keys the node kind does not recognize.
func ValidateAttributes(kind NodeKind, attrs map[string]any) error {
	allowed, ok := recognizedAttributes[kind]
	if !ok {
		return nil
	}
	for key := range attrs {
		if !slices.Contains(allowed, key) {
			return fmt.Errorf("attribute %q is not valid for %s nodes", key, kind)
		}
	}
	return nil
}

// Clone returns a deep copy of the graph. Attribute values are copied
// shallowly.
func (g Graph) Clone() Graph {
	out := Graph{
		Nodes: make([]Node, len(g.Nodes)),
		Edges: make([]Edge, len(g.Edges)),
	}
	for i, n := range g.Nodes {
		out.Nodes[i] = n.Clone()
	}
	copy(out.Edges, g.Edges)
	return out
}

// Clone returns a copy of the node with its own attribute map.
func (n Node) Clone() Node {
	if n.Attributes == nil {
		return n
	}
	attrs := make(map[string]any, len(n.Attributes))
	for k, v := range n.Attributes {
		attrs[k] = v
	}
	n.Attributes = attrs
	return n
}
