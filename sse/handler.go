// Package sse streams compiler events to HTTP clients as Server-Sent Events.
// It replays stored events and then follows live events from the bus, so an
// editor can show compile progress for the workflow it has open.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/petal-labs/flowcanvas/bus"
	"github.com/petal-labs/flowcanvas/compiler"
)

// HeartbeatInterval is the interval between SSE heartbeat comments.
const HeartbeatInterval = 15 * time.Second

// Event is the JSON representation of a compiler event, as sent in the
// data field of the stream.
type Event struct {
	Kind       string         `json:"kind"`
	WorkflowID string         `json:"workflow_id"`
	CompileID  string         `json:"compile_id"`
	Stage      string         `json:"stage,omitempty"`
	NodeID     string         `json:"node_id,omitempty"`
	NodeType   string         `json:"node_type,omitempty"`
	Time       time.Time      `json:"time"`
	ElapsedMs  int64          `json:"elapsed_ms"`
	Payload    map[string]any `json:"payload"`
	Seq        uint64         `json:"seq"`
	TraceID    string         `json:"trace_id,omitempty"`
	SpanID     string         `json:"span_id,omitempty"`
}

// NewEvent converts a compiler event to its JSON representation.
func NewEvent(e compiler.Event) Event {
	return Event{
		Kind:       string(e.Kind),
		WorkflowID: e.WorkflowID,
		CompileID:  e.CompileID,
		Stage:      string(e.Stage),
		NodeID:     e.NodeID,
		NodeType:   string(e.NodeType),
		Time:       e.Time,
		ElapsedMs:  e.Elapsed.Milliseconds(),
		Payload:    e.Payload,
		Seq:        e.Seq,
		TraceID:    e.TraceID,
		SpanID:     e.SpanID,
	}
}

// Handler serves an SSE stream of the compile events of one workflow. It
// first replays stored events from the EventStore, then follows live events
// on the EventBus. Events already sent (by sequence number) are skipped.
//
// The workflow ID comes from the "id" path value. The resume cursor is the
// "after" query parameter or, when absent, the Last-Event-ID header.
// With follow=false the stream closes after the first compile_finished
// event; otherwise it stays open until the client disconnects. The "kinds"
// query parameter, a comma-separated list of event kinds, restricts what is
// written; compile_finished still ends a follow=false stream when it is not
// listed.
//
// SSE format:
//
//	id: {seq}
//	event: {kind}
//	data: {json}
//
// A heartbeat comment ": ping\n\n" is sent every 15 seconds.
type Handler struct {
	store bus.EventStore
	bus   bus.EventBus
}

// NewHandler creates a new Handler with the given EventStore and EventBus.
func NewHandler(store bus.EventStore, eb bus.EventBus) *Handler {
	return &Handler{
		store: store,
		bus:   eb,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	workflowID := r.PathValue("id")
	if workflowID == "" {
		http.Error(w, "missing workflow id", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	afterSeq, err := parseCursor(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	kinds, err := parseKinds(r.URL.Query().Get("kinds"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	follow := r.URL.Query().Get("follow") != "false"

	// Subscribe before the headers go out so a client that has seen the
	// response cannot miss a compile started right after.
	sub := h.bus.Subscribe(workflowID, kinds.subscription(follow)...)
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	lastSeq := afterSeq

	finished, err := h.replayStored(ctx, w, flusher, workflowID, afterSeq, kinds, follow, &lastSeq)
	if err != nil || finished {
		return
	}

	h.streamLive(ctx, w, flusher, sub, kinds, follow, &lastSeq)
}

// kindSet is the set of event kinds a client asked for. Nil means all.
type kindSet map[compiler.EventKind]bool

var knownKinds = []compiler.EventKind{
	compiler.EventCompileStarted,
	compiler.EventStageStarted,
	compiler.EventStageFinished,
	compiler.EventNodeLowered,
	compiler.EventCompileFinished,
}

func parseKinds(raw string) (kindSet, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	set := make(kindSet)
	for _, part := range strings.Split(raw, ",") {
		k := compiler.EventKind(strings.TrimSpace(part))
		if k == "" {
			continue
		}
		if !slices.Contains(knownKinds, k) {
			return nil, fmt.Errorf("unknown event kind %q", k)
		}
		set[k] = true
	}
	if len(set) == 0 {
		return nil, nil
	}
	return set, nil
}

func (k kindSet) wants(kind compiler.EventKind) bool {
	return k == nil || k[kind]
}

// subscription lists the kinds to take from the bus. A stream that ends on
// compile_finished needs that kind even when it does not write it.
func (k kindSet) subscription(follow bool) []compiler.EventKind {
	if k == nil {
		return nil
	}
	out := make([]compiler.EventKind, 0, len(k)+1)
	for _, kind := range knownKinds {
		if k[kind] || (!follow && kind == compiler.EventCompileFinished) {
			out = append(out, kind)
		}
	}
	return out
}

func parseCursor(r *http.Request) (uint64, error) {
	raw := r.URL.Query().Get("after")
	name := "after parameter"
	if raw == "" {
		raw = r.Header.Get("Last-Event-ID")
		name = "Last-Event-ID"
	}
	if raw == "" {
		return 0, nil
	}
	seq, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return seq, nil
}

// replayStored writes stored events to the stream. It returns true when the
// stream should close: a compile finished and follow is off.
func (h *Handler) replayStored(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	workflowID string,
	afterSeq uint64,
	kinds kindSet,
	follow bool,
	lastSeq *uint64,
) (finished bool, err error) {
	events, err := h.store.List(ctx, workflowID, afterSeq, 0)
	if err != nil {
		return false, err
	}

	for _, evt := range events {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}

		if kinds.wants(evt.Kind) {
			if err := writeSSEEvent(w, evt); err != nil {
				return false, err
			}
			flusher.Flush()
		}

		if evt.Seq > *lastSeq {
			*lastSeq = evt.Seq
		}

		if !follow && evt.Kind == compiler.EventCompileFinished {
			return true, nil
		}
	}

	return false, nil
}

// streamLive streams events from the live subscription, deduplicating against
// already-sent sequence numbers.
func (h *Handler) streamLive(
	ctx context.Context,
	w http.ResponseWriter,
	flusher http.Flusher,
	sub bus.Subscription,
	kinds kindSet,
	follow bool,
	lastSeq *uint64,
) {
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case evt, ok := <-sub.Events():
			if !ok {
				return
			}

			if evt.Seq <= *lastSeq {
				continue
			}

			if kinds.wants(evt.Kind) {
				if err := writeSSEEvent(w, evt); err != nil {
					return
				}
				flusher.Flush()
			}

			*lastSeq = evt.Seq

			if !follow && evt.Kind == compiler.EventCompileFinished {
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// writeSSEEvent writes a single event in SSE format.
func writeSSEEvent(w http.ResponseWriter, evt compiler.Event) error {
	data, err := json.Marshal(NewEvent(evt))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", evt.Seq, evt.Kind, data)
	return err
}
