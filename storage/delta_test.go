package storage

import (
	"testing"

	"github.com/rayford/raydb/graph"
)

func TestDeltaNodeLifecycle(t *testing.T) {
	d := NewDelta()
	d.PutCreatedNode(1, &CreatedNode{Key: "a", HasKey: true, Labels: map[graph.LabelID]bool{1: true}})

	if !d.IsNodeCreated(1) {
		t.Fatalf("node 1 should be created")
	}
	if d.IsNodeDeleted(1) {
		t.Fatalf("node 1 should not be deleted yet")
	}
	if d.MutationCount() == 0 {
		t.Fatalf("expected nonzero mutation count after create")
	}

	d.MarkNodeDeleted(1)
	if !d.IsNodeDeleted(1) {
		t.Fatalf("node 1 should be deleted")
	}
}

func TestDeltaEdgeAddDelete(t *testing.T) {
	d := NewDelta()
	e := graph.Edge{Src: 1, EType: 1, Dst: 2}
	d.AddEdge(e)

	out := d.OutAdded(1, 1)
	if len(out) != 1 || out[0] != 2 {
		t.Fatalf("OutAdded(1,1) = %v, want [2]", out)
	}
	in := d.InAdded(2, 1)
	if len(in) != 1 || in[0] != 1 {
		t.Fatalf("InAdded(2,1) = %v, want [1]", in)
	}

	d.DeleteEdge(e)
	if len(d.OutAdded(1, 1)) != 0 {
		t.Fatalf("edge should no longer be in OutAdded after delete")
	}
	if len(d.OutDeleted(1, 1)) != 1 {
		t.Fatalf("edge should appear in OutDeleted after delete")
	}
}

func TestDeltaNodePropSetAndDelete(t *testing.T) {
	d := NewDelta()
	np := graph.NodeProp{Node: 1, Key: 1}

	d.SetNodeProp(np, graph.Int64Value(42))
	v, isDel, ok := d.NodeProp(np)
	if !ok || isDel || v.Int64 != 42 {
		t.Fatalf("NodeProp after set = (%v, %v, %v), want (42, false, true)", v, isDel, ok)
	}

	d.DelNodeProp(np)
	_, isDel, ok = d.NodeProp(np)
	if !ok || !isDel {
		t.Fatalf("NodeProp after delete should report isDel=true, ok=true")
	}
}

func TestDeltaClearResetsMutationCount(t *testing.T) {
	d := NewDelta()
	d.PutCreatedNode(1, &CreatedNode{})
	d.AddEdge(graph.Edge{Src: 1, EType: 1, Dst: 2})
	if d.MutationCount() == 0 {
		t.Fatalf("expected nonzero mutation count before clear")
	}
	d.Clear()
	if d.MutationCount() != 0 {
		t.Fatalf("MutationCount after Clear = %d, want 0", d.MutationCount())
	}
	if d.IsNodeCreated(1) {
		t.Fatalf("node 1 should no longer be tracked after Clear")
	}
}

func TestDeltaDictionaryDefinitions(t *testing.T) {
	d := NewDelta()
	d.DefineLabel(1, "Person")
	name, ok := d.LookupLabel(1)
	if !ok || name != "Person" {
		t.Fatalf("LookupLabel(1) = (%q, %v), want (Person, true)", name, ok)
	}
	if _, ok := d.LookupLabel(2); ok {
		t.Fatalf("LookupLabel(2) should not be found")
	}
}
