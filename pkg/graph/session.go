package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/graphcrawl/backend/pkg/common"
)

// ErrMissingEndpoint is returned by Session.Link when an edge endpoint was
// never registered as a node.
var ErrMissingEndpoint = errors.New("edge endpoint is not a registered node")

// Session is the mutable state of one graph build. It owns the node index so
// that a derived identifier maps to at most one node, and the edge index that
// keeps checked edges unique per (source, target, label).
//
// A Session is written by a single producer. The mutex only protects readers
// such as Snapshot that may run while a build is in progress.
type Session struct {
	mu sync.RWMutex

	nodes     []common.Node
	nodeIndex map[string]int
	edges     []common.Edge
	edgeIndex map[common.Edge]struct{}
}

// SessionStats summarizes the size of a session.
type SessionStats struct {
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
}

// NewSession returns an empty build session.
func NewSession() *Session {
	return &Session{
		nodeIndex: make(map[string]int),
		edgeIndex: make(map[common.Edge]struct{}),
	}
}

// RegisterNode returns the node registered under id, creating it first if
// the id is new. The second return value reports whether the node was
// created. Description and attributes of an existing node are never
// replaced.
func (s *Session) RegisterNode(node common.Node) (common.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if idx, ok := s.nodeIndex[node.ID]; ok {
		return s.nodes[idx].Clone(), false
	}

	node = node.Clone()
	s.nodeIndex[node.ID] = len(s.nodes)
	s.nodes = append(s.nodes, node)
	return node.Clone(), true
}

// HasNode reports whether id is registered.
func (s *Session) HasNode(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodeIndex[id]
	return ok
}

// Link adds an edge between two registered nodes. It fails with
// ErrMissingEndpoint when either endpoint is unknown and returns false
// without error when the same edge was linked before.
func (s *Session) Link(source, target, label string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.nodeIndex[source]; !ok {
		return false, fmt.Errorf("%w: source %q", ErrMissingEndpoint, source)
	}
	if _, ok := s.nodeIndex[target]; !ok {
		return false, fmt.Errorf("%w: target %q", ErrMissingEndpoint, target)
	}

	edge := common.Edge{Source: source, Target: target, Label: label}
	if _, ok := s.edgeIndex[edge]; ok {
		return false, nil
	}
	s.edgeIndex[edge] = struct{}{}
	s.edges = append(s.edges, edge)
	return true, nil
}

// Append adds an edge without checking its endpoints or uniqueness. It is
// used by producers that validate the finished graph instead.
func (s *Session) Append(edge common.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.edgeIndex[edge] = struct{}{}
	s.edges = append(s.edges, edge)
}

// Snapshot returns an independent copy of the current graph.
func (s *Session) Snapshot() common.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return common.Graph{Nodes: s.nodes, Edges: s.edges}.Clone()
}

// Stats returns the current node and edge counts.
func (s *Session) Stats() SessionStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionStats{Nodes: len(s.nodes), Edges: len(s.edges)}
}
