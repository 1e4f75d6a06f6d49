package bus

import (
	"context"
	"testing"
	"time"

	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/core"
)

func TestRecorder_StampsStoresAndPublishes(t *testing.T) {
	store := NewMemEventStore(0)
	eb := NewMemBus(MemBusConfig{})
	defer eb.Close()
	sub := eb.Subscribe("wf-1")
	defer sub.Close()

	rec := NewRecorder(store, eb, nil)
	for i := 0; i < 3; i++ {
		rec.Handle(makeEvent("wf-1", 0, compiler.EventNodeLowered))
	}
	rec.Handle(makeEvent("wf-2", 0, compiler.EventNodeLowered))

	for want := uint64(1); want <= 3; want++ {
		select {
		case e := <-sub.Events():
			if e.Seq != want {
				t.Errorf("published Seq = %d, want %d", e.Seq, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for seq %d", want)
		}
	}

	if seq, _ := store.LatestSeq(context.Background(), "wf-1"); seq != 3 {
		t.Errorf("wf-1 LatestSeq = %d, want 3", seq)
	}
	if seq, _ := store.LatestSeq(context.Background(), "wf-2"); seq != 1 {
		t.Errorf("wf-2 numbering is independent: LatestSeq = %d, want 1", seq)
	}
}

func TestRecorder_ContinuesFromStore(t *testing.T) {
	store := NewMemEventStore(0)
	fillStore(t, store, "wf-1", 4)

	rec := NewRecorder(store, nil, nil)
	rec.Handle(makeEvent("wf-1", 0, compiler.EventCompileStarted))

	events, _ := store.List(context.Background(), "wf-1", 4, 0)
	if len(events) != 1 || events[0].Seq != 5 {
		t.Fatalf("got %+v, want one event with seq 5", events)
	}
}

func TestRecorder_DropsAnonymousGraphs(t *testing.T) {
	store := NewMemEventStore(0)
	rec := NewRecorder(store, nil, nil)
	rec.Handle(makeEvent("", 0, compiler.EventCompileStarted))

	if seq, _ := store.LatestSeq(context.Background(), ""); seq != 0 {
		t.Errorf("event without workflow ID was stored")
	}
}

func TestRecorder_RealCompile(t *testing.T) {
	store := NewMemEventStore(0)
	rec := NewRecorder(store, nil, nil)
	c := compiler.New(compiler.Options{EventHandler: rec.Handle})

	g := core.Graph{
		ID: "wf-1",
		Nodes: []core.Node{
			{ID: "s", Type: core.NodeTypeStart, Data: &core.StartData{}},
			{ID: "e", Type: core.NodeTypeEnd, Data: &core.EndData{}},
		},
		Edges: []core.Edge{{ID: "e1", Source: "s", Target: "e"}},
	}
	c.Compile(g)
	c.Compile(g)

	events, _ := store.List(context.Background(), "wf-1", 0, 0)
	if len(events) == 0 {
		t.Fatal("no events recorded")
	}
	finished := 0
	for i, e := range events {
		if e.Seq != uint64(i+1) {
			t.Fatalf("event %d has Seq %d", i, e.Seq)
		}
		if e.Kind == compiler.EventCompileFinished {
			finished++
		}
	}
	if finished != 2 {
		t.Errorf("compile_finished events = %d, want 2", finished)
	}
	if events[0].CompileID == events[len(events)-1].CompileID {
		t.Error("two compiles should have distinct compile IDs")
	}
}
