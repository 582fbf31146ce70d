package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/graphcrawl/backend/pkg/common"
)

func newTestAssembler(t *testing.T) *Assembler {
	t.Helper()
	a, err := NewAssembler(NewAssemblerParams{Session: NewSession()})
	if err != nil {
		t.Fatalf("failed to create assembler: %v", err)
	}
	return a
}

func TestAssemble_SingleRecord(t *testing.T) {
	a := newTestAssembler(t)

	stats, err := a.Assemble(context.Background(), "graphs", []common.Record{{
		Author:          "A. Smith",
		AuthorLink:      "https://medium.com/@asmith",
		PublishDate:     "2021",
		Title:           "On Graphs",
		EngagementCount: "12",
	}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Linked != 1 || stats.Skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	g := a.Session().Snapshot()
	if len(g.Nodes) != 4 {
		t.Fatalf("expected 4 nodes, got %d: %+v", len(g.Nodes), g.Nodes)
	}
	kinds := map[string]common.NodeKind{}
	for _, n := range g.Nodes {
		kinds[n.ID] = n.Kind
	}
	want := map[string]common.NodeKind{
		"mediumcom": common.NodeKindSite,
		"graphs":    common.NodeKindSearch,
		"asmith":    common.NodeKindAuthor,
		"ongraphs":  common.NodeKindArticle,
	}
	for id, kind := range want {
		if kinds[id] != kind {
			t.Fatalf("expected node %q of kind %q, got %q", id, kind, kinds[id])
		}
	}

	wantEdges := []common.Edge{
		{Source: "asmith", Target: "ongraphs", Label: common.LabelPosted},
		{Source: "ongraphs", Target: "mediumcom", Label: common.LabelPostedOn},
		{Source: "graphs", Target: "ongraphs", Label: common.LabelFromSearch},
	}
	if len(g.Edges) != len(wantEdges) {
		t.Fatalf("expected %d edges, got %d", len(wantEdges), len(g.Edges))
	}
	for i, e := range wantEdges {
		if g.Edges[i] != e {
			t.Fatalf("edge %d: expected %+v, got %+v", i, e, g.Edges[i])
		}
	}
	if v := Validate(g); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}

	for _, n := range g.Nodes {
		if n.ID == "ongraphs" {
			if n.Description != "On Graphs by A. Smith" {
				t.Fatalf("unexpected article description %q", n.Description)
			}
			if n.Attributes[common.AttrCount] != "12" || n.Attributes[common.AttrDate] != "2021" {
				t.Fatalf("unexpected article attributes %v", n.Attributes)
			}
		}
	}
}

func TestAssemble_SameAuthorAcrossRecords(t *testing.T) {
	a := newTestAssembler(t)

	records := []common.Record{
		{Author: "Jane Doe", AuthorLink: "https://x/@jane", PublishDate: "Mar 3", Title: "First"},
		{Author: "jane doe", AuthorLink: "https://x/@other", PublishDate: "Mar 4", Title: "Second"},
		{Author: "Jane Doe", AuthorLink: "https://x/@jane", PublishDate: "Mar 3", Title: "First"},
	}
	stats, err := a.Assemble(context.Background(), "graphs", records)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Authors != 1 || stats.Articles != 2 || stats.Linked != 3 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	g := a.Session().Snapshot()
	// site, term, one author, two articles
	if len(g.Nodes) != 5 {
		t.Fatalf("expected 5 nodes, got %d", len(g.Nodes))
	}
	for _, n := range g.Nodes {
		if n.ID == "janedoe" && n.Attributes[common.AttrLink] != "https://x/@jane" {
			t.Fatalf("expected first author link to win, got %v", n.Attributes[common.AttrLink])
		}
	}
	// 3 edges per article, the duplicate record adds none
	if len(g.Edges) != 6 {
		t.Fatalf("expected 6 edges, got %d", len(g.Edges))
	}
}

func TestAssemble_SkipsRecordsWithoutIdentity(t *testing.T) {
	a := newTestAssembler(t)

	stats, err := a.Assemble(context.Background(), "graphs", []common.Record{
		{Author: "...", Title: "Valid Title"},
		{Author: "Bob", Title: "!!!"},
		{Author: "Bob", Title: "Graphs 101"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Skipped != 2 || stats.Linked != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if v := Validate(a.Session().Snapshot()); len(v) != 0 {
		t.Fatalf("expected no violations, got %v", v)
	}
}

func TestAssemble_StopsBetweenRecordsWhenCancelled(t *testing.T) {
	a := newTestAssembler(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := a.Assemble(ctx, "graphs", []common.Record{{Author: "Bob", Title: "Graphs"}})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if stats.Linked != 0 {
		t.Fatalf("expected no records linked, got %d", stats.Linked)
	}
	// the search term is registered before any record
	if !a.Session().HasNode("graphs") {
		t.Fatal("expected search term node to exist")
	}
}

func TestRegisterSearchTerm_Invalid(t *testing.T) {
	a := newTestAssembler(t)
	if _, err := a.RegisterSearchTerm("   "); !errors.Is(err, ErrEmptyIdentifier) {
		t.Fatalf("expected ErrEmptyIdentifier, got %v", err)
	}
}

func TestNewAssembler_RequiresSession(t *testing.T) {
	if _, err := NewAssembler(NewAssemblerParams{}); err == nil {
		t.Fatal("expected error without session")
	}
}
