package graph

import (
	"strings"

	"github.com/graphcrawl/backend/pkg/common"
	"github.com/graphcrawl/backend/pkg/logger"
)

// Store-internal document fields.
const (
	FieldID   = "_id"
	FieldKey  = "_key"
	FieldRev  = "_rev"
	FieldFrom = "_from"
	FieldTo   = "_to"
)

const referenceSeparator = "/"

// TransformResult is the graph built from one set of result rows together
// with the integrity violations found in it.
type TransformResult struct {
	Graph      common.Graph `json:"graph"`
	Violations []Violation  `json:"violations,omitempty"`
}

// Transform converts graph-store result rows into a canonical graph. Within a
// row the vertex is handled before the edge. Vertices are keyed by their
// store reference and lose the internal _id, _key and _rev fields; edges are
// labeled with the collection part of their own reference.
//
// Edges are kept as delivered. Endpoints that never appear as vertices are
// reported as violations and logged, no node is invented for them.
func Transform(rows []common.ResultRow) TransformResult {
	session := NewSession()

	for idx, row := range rows {
		if row.V != nil {
			node, ok := vertexNode(row.V)
			if !ok {
				logger.Warn("[Transform] Skipping vertex without reference", "row", idx)
			} else {
				session.RegisterNode(node)
			}
		}
		if row.E != nil {
			edge, ok := edgeFromPayload(row.E)
			if !ok {
				logger.Warn("[Transform] Skipping edge without endpoints", "row", idx)
			} else {
				session.Append(edge)
			}
		}
	}

	g := session.Snapshot()
	violations := Validate(g)
	for _, v := range violations {
		logger.Warn("[Transform] Edge endpoint missing from result", "edge", v.String())
	}

	return TransformResult{Graph: g, Violations: violations}
}

// Label returns the collection name of a store reference, the part before
// the first separator.
func Label(ref string) string {
	if idx := strings.Index(ref, referenceSeparator); idx >= 0 {
		return ref[:idx]
	}
	return ref
}

func vertexNode(payload map[string]any) (common.Node, bool) {
	ref, ok := stringField(payload, FieldID)
	if !ok {
		return common.Node{}, false
	}

	attrs := make(map[string]any, len(payload))
	for k, v := range payload {
		switch k {
		case FieldID, FieldKey, FieldRev:
			continue
		}
		attrs[k] = v
	}

	desc, _ := stringField(payload, "description")
	if desc == "" {
		desc, _ = stringField(payload, "name")
	}

	return common.Node{
		ID:          ref,
		Kind:        common.NodeKindVertex,
		Description: desc,
		Attributes:  attrs,
	}, true
}

func edgeFromPayload(payload map[string]any) (common.Edge, bool) {
	from, okFrom := stringField(payload, FieldFrom)
	to, okTo := stringField(payload, FieldTo)
	if !okFrom || !okTo {
		return common.Edge{}, false
	}
	ref, _ := stringField(payload, FieldID)
	return common.Edge{Source: from, Target: to, Label: Label(ref)}, true
}

func stringField(payload map[string]any, key string) (string, bool) {
	v, ok := payload[key].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
