package graph

import (
	"fmt"

	"github.com/graphcrawl/backend/pkg/common"
)

// Violation describes an edge whose endpoint is not a node of the graph.
type Violation struct {
	Edge    common.Edge `json:"edge"`
	Missing []string    `json:"missing"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s -[%s]-> %s: missing %v", v.Edge.Source, v.Edge.Label, v.Edge.Target, v.Missing)
}

// Validate checks referential integrity of a finished graph and returns one
// violation per offending edge, in edge order.
func Validate(g common.Graph) []Violation {
	ids := make(map[string]struct{}, len(g.Nodes))
	for _, n := range g.Nodes {
		ids[n.ID] = struct{}{}
	}

	var violations []Violation
	for _, e := range g.Edges {
		var missing []string
		if _, ok := ids[e.Source]; !ok {
			missing = append(missing, e.Source)
		}
		if _, ok := ids[e.Target]; !ok && e.Target != e.Source {
			missing = append(missing, e.Target)
		}
		if len(missing) > 0 {
			violations = append(violations, Violation{Edge: e, Missing: missing})
		}
	}
	return violations
}
