package sse_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/petal-labs/flowcanvas/bus"
	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/sse"
)

// testEvent creates an event with the given sequence number and kind.
func testEvent(workflowID string, seq uint64, kind compiler.EventKind) compiler.Event {
	e := compiler.NewEvent(kind, "compile-1", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)).
		WithWorkflow(workflowID).
		WithElapsed(time.Duration(seq) * time.Millisecond).
		WithPayload("seq_val", float64(seq))
	if kind == compiler.EventNodeLowered {
		e = e.WithNode(fmt.Sprintf("node-%d", seq), "llm")
	}
	e.Seq = seq
	return e
}

// sseMessage represents a parsed SSE message from the stream.
type sseMessage struct {
	ID    string
	Event string
	Data  string
}

// parseSSEMessages reads SSE messages from the response body string.
func parseSSEMessages(body string) []sseMessage {
	var msgs []sseMessage
	scanner := bufio.NewScanner(strings.NewReader(body))

	var current sseMessage
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current.ID != "" || current.Event != "" || current.Data != "" {
				msgs = append(msgs, current)
				current = sseMessage{}
			}
			continue
		}

		if strings.HasPrefix(line, ": ") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "id: "):
			current.ID = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			current.Event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			current.Data = strings.TrimPrefix(line, "data: ")
		}
	}

	return msgs
}

// setupTestServer creates a test mux with the SSE handler registered.
func setupTestServer(store bus.EventStore, eb bus.EventBus) *httptest.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /workflows/{id}/events", sse.NewHandler(store, eb))
	return httptest.NewServer(mux)
}

func appendEvents(t *testing.T, store bus.EventStore, events ...compiler.Event) {
	t.Helper()
	for _, e := range events {
		if err := store.Append(context.Background(), e); err != nil {
			t.Fatal(err)
		}
	}
}

// getStream performs a GET and returns the response once headers arrive.
func getStream(t *testing.T, ctx context.Context, url string, header http.Header) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func readAll(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil && !strings.Contains(err.Error(), "context") {
		t.Fatalf("reading body: %v", err)
	}
	return string(body)
}

func TestHandler_ReplayFromStore(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	wf := "wf-replay"
	appendEvents(t, store,
		testEvent(wf, 1, compiler.EventCompileStarted),
		testEvent(wf, 2, compiler.EventNodeLowered),
		testEvent(wf, 3, compiler.EventStageFinished),
		testEvent(wf, 4, compiler.EventCompileFinished),
	)

	ts := setupTestServer(store, eb)
	defer ts.Close()

	resp := getStream(t, context.Background(), ts.URL+"/workflows/"+wf+"/events?follow=false", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	body := readAll(t, resp)
	msgs := parseSSEMessages(body)
	if len(msgs) != 4 {
		t.Fatalf("got %d messages, want 4: %s", len(msgs), body)
	}
	if msgs[0].ID != "1" || msgs[0].Event != "compile_started" {
		t.Errorf("first message = %+v", msgs[0])
	}
	if msgs[3].ID != "4" || msgs[3].Event != "compile_finished" {
		t.Errorf("last message = %+v", msgs[3])
	}

	var parsed map[string]any
	if err := json.Unmarshal([]byte(msgs[1].Data), &parsed); err != nil {
		t.Fatalf("data is not JSON: %v", err)
	}
	if parsed["kind"] != "node_lowered" {
		t.Errorf("kind = %v", parsed["kind"])
	}
	if parsed["workflow_id"] != wf {
		t.Errorf("workflow_id = %v", parsed["workflow_id"])
	}
	if parsed["node_id"] != "node-2" {
		t.Errorf("node_id = %v", parsed["node_id"])
	}
	if parsed["node_type"] != "llm" {
		t.Errorf("node_type = %v", parsed["node_type"])
	}
	if parsed["elapsed_ms"] != float64(2) {
		t.Errorf("elapsed_ms = %v", parsed["elapsed_ms"])
	}
	if parsed["seq"] != float64(2) {
		t.Errorf("seq = %v", parsed["seq"])
	}
}

func TestHandler_ReplayStopsAtFirstFinish(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	wf := "wf-two-compiles"
	appendEvents(t, store,
		testEvent(wf, 1, compiler.EventCompileStarted),
		testEvent(wf, 2, compiler.EventCompileFinished),
		testEvent(wf, 3, compiler.EventCompileStarted),
		testEvent(wf, 4, compiler.EventCompileFinished),
	)

	ts := setupTestServer(store, eb)
	defer ts.Close()

	resp := getStream(t, context.Background(), ts.URL+"/workflows/"+wf+"/events?follow=false", nil)
	msgs := parseSSEMessages(readAll(t, resp))
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	resp = getStream(t, context.Background(), ts.URL+"/workflows/"+wf+"/events?follow=false&after=2", nil)
	msgs = parseSSEMessages(readAll(t, resp))
	if len(msgs) != 2 || msgs[0].ID != "3" || msgs[1].ID != "4" {
		t.Fatalf("after=2 messages = %+v", msgs)
	}
}

func TestHandler_LiveSubscription(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	wf := "wf-live"
	ts := setupTestServer(store, eb)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The handler subscribes before it writes headers, so events published
	// after the response arrives are delivered.
	resp := getStream(t, ctx, ts.URL+"/workflows/"+wf+"/events?follow=false", nil)

	eb.Publish(testEvent(wf, 1, compiler.EventCompileStarted))
	eb.Publish(testEvent("wf-other", 1, compiler.EventCompileStarted))
	eb.Publish(testEvent(wf, 2, compiler.EventNodeLowered))
	eb.Publish(testEvent(wf, 3, compiler.EventCompileFinished))

	body := readAll(t, resp)
	msgs := parseSSEMessages(body)
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %s", len(msgs), body)
	}
	if msgs[0].Event != "compile_started" {
		t.Errorf("first event = %s", msgs[0].Event)
	}
	if msgs[2].Event != "compile_finished" {
		t.Errorf("last event = %s", msgs[2].Event)
	}
}

func TestHandler_FollowKeepsStreamOpen(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	wf := "wf-follow"
	appendEvents(t, store,
		testEvent(wf, 1, compiler.EventCompileStarted),
		testEvent(wf, 2, compiler.EventCompileFinished),
	)

	ts := setupTestServer(store, eb)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	resp := getStream(t, ctx, ts.URL+"/workflows/"+wf+"/events", nil)

	eb.Publish(testEvent(wf, 3, compiler.EventCompileStarted))
	eb.Publish(testEvent(wf, 4, compiler.EventCompileFinished))

	reader := bufio.NewReader(resp.Body)
	var ids []string
	deadline := time.After(5 * time.Second)
	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := reader.ReadString('\n')
			if err != nil {
				return
			}
			lines <- strings.TrimSpace(line)
		}
	}()

	for len(ids) < 4 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed early after ids %v", ids)
			}
			if strings.HasPrefix(line, "id: ") {
				ids = append(ids, strings.TrimPrefix(line, "id: "))
			}
		case <-deadline:
			t.Fatalf("timed out, got ids %v", ids)
		}
	}

	want := []string{"1", "2", "3", "4"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
	}
	cancel()
}

func TestHandler_SequenceDedup(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	wf := "wf-dedup"
	appendEvents(t, store,
		testEvent(wf, 1, compiler.EventCompileStarted),
		testEvent(wf, 2, compiler.EventNodeLowered),
	)

	ts := setupTestServer(store, eb)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := getStream(t, ctx, ts.URL+"/workflows/"+wf+"/events?follow=false", nil)

	// Seq 1 and 2 were replayed and must not be sent twice.
	eb.Publish(testEvent(wf, 1, compiler.EventCompileStarted))
	eb.Publish(testEvent(wf, 2, compiler.EventNodeLowered))
	eb.Publish(testEvent(wf, 3, compiler.EventCompileFinished))

	msgs := parseSSEMessages(readAll(t, resp))
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3: %+v", len(msgs), msgs)
	}
	for i, m := range msgs {
		if want := fmt.Sprint(i + 1); m.ID != want {
			t.Errorf("message %d id = %s, want %s", i, m.ID, want)
		}
	}
}

func TestHandler_Cursor(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	wf := "wf-cursor"
	for i := uint64(1); i <= 5; i++ {
		kind := compiler.EventNodeLowered
		if i == 5 {
			kind = compiler.EventCompileFinished
		}
		appendEvents(t, store, testEvent(wf, i, kind))
	}

	ts := setupTestServer(store, eb)
	defer ts.Close()

	tests := []struct {
		name   string
		query  string
		header http.Header
		want   []string
	}{
		{name: "after query", query: "&after=3", want: []string{"4", "5"}},
		{name: "last event id", header: http.Header{"Last-Event-Id": {"2"}}, want: []string{"3", "4", "5"}},
		{name: "query wins over header", query: "&after=4", header: http.Header{"Last-Event-Id": {"1"}}, want: []string{"5"}},
		{name: "no cursor", want: []string{"1", "2", "3", "4", "5"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := getStream(t, context.Background(), ts.URL+"/workflows/"+wf+"/events?follow=false"+tt.query, tt.header)
			msgs := parseSSEMessages(readAll(t, resp))
			if len(msgs) != len(tt.want) {
				t.Fatalf("got %d messages, want %d", len(msgs), len(tt.want))
			}
			for i, m := range msgs {
				if m.ID != tt.want[i] {
					t.Errorf("message %d id = %s, want %s", i, m.ID, tt.want[i])
				}
			}
		})
	}
}

func TestHandler_KindFilter(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	wf := "wf-kinds"
	appendEvents(t, store,
		testEvent(wf, 1, compiler.EventCompileStarted),
		testEvent(wf, 2, compiler.EventNodeLowered),
		testEvent(wf, 3, compiler.EventCompileFinished),
	)

	ts := setupTestServer(store, eb)
	defer ts.Close()

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{name: "summary", query: "?follow=false&kinds=compile_started,compile_finished", want: []string{"1", "3"}},
		{name: "finish not listed", query: "?follow=false&kinds=node_lowered", want: []string{"2"}},
		{name: "blank", query: "?follow=false&kinds=", want: []string{"1", "2", "3"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := getStream(t, context.Background(), ts.URL+"/workflows/"+wf+"/events"+tt.query, nil)
			msgs := parseSSEMessages(readAll(t, resp))
			var ids []string
			for _, m := range msgs {
				ids = append(ids, m.ID)
			}
			if strings.Join(ids, ",") != strings.Join(tt.want, ",") {
				t.Errorf("ids = %v, want %v", ids, tt.want)
			}
		})
	}

	// Live: a stream that only wants node events still ends on the next
	// compile_finished.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp := getStream(t, ctx, ts.URL+"/workflows/"+wf+"/events?follow=false&after=3&kinds=node_lowered", nil)
	done := make(chan string, 1)
	go func() { done <- readAll(t, resp) }()

	deadline := time.Now().Add(2 * time.Second)
	for eb.Len() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	for _, e := range []compiler.Event{
		testEvent(wf, 4, compiler.EventCompileStarted),
		testEvent(wf, 5, compiler.EventNodeLowered),
		testEvent(wf, 6, compiler.EventCompileFinished),
	} {
		eb.Publish(e)
	}

	select {
	case body := <-done:
		msgs := parseSSEMessages(body)
		if len(msgs) != 1 || msgs[0].ID != "5" {
			t.Errorf("live messages = %+v, want only seq 5", msgs)
		}
	case <-ctx.Done():
		t.Fatal("stream did not end on compile_finished")
	}
}

func TestHandler_BadRequests(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	ts := setupTestServer(store, eb)
	defer ts.Close()

	tests := []struct {
		name   string
		query  string
		header http.Header
	}{
		{name: "invalid after", query: "?after=abc"},
		{name: "negative after", query: "?after=-1"},
		{name: "invalid last event id", header: http.Header{"Last-Event-Id": {"x"}}},
		{name: "unknown kind", query: "?kinds=compile_started,node_done"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := getStream(t, context.Background(), ts.URL+"/workflows/wf/events"+tt.query, tt.header)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
	if n := eb.Len(); n != 0 {
		t.Errorf("rejected requests left %d subscriptions", n)
	}
}

func TestHandler_MissingWorkflowID(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/events", nil)
	sse.NewHandler(store, eb).ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandler_ClientDisconnect(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	ts := setupTestServer(store, eb)
	defer ts.Close()

	ctx, cancel := context.WithCancel(context.Background())
	resp := getStream(t, ctx, ts.URL+"/workflows/wf-gone/events", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	if eb.Len() != 1 {
		t.Fatalf("subscriptions = %d, want 1", eb.Len())
	}

	cancel()

	deadline := time.Now().Add(2 * time.Second)
	for eb.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscription not released after client disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHandler_SSEFormat(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	evt := testEvent("wf-format", 7, compiler.EventCompileFinished)
	evt.TraceID = "0af7651916cd43dd8448eb211c80319c"
	evt.SpanID = "b7ad6b7169203331"
	appendEvents(t, store, evt)

	ts := setupTestServer(store, eb)
	defer ts.Close()

	resp := getStream(t, context.Background(), ts.URL+"/workflows/wf-format/events?follow=false", nil)
	body := readAll(t, resp)

	if !strings.HasPrefix(body, "id: 7\nevent: compile_finished\ndata: {") {
		t.Fatalf("unexpected framing: %q", body)
	}
	if !strings.HasSuffix(body, "}\n\n") {
		t.Fatalf("message not terminated by a blank line: %q", body)
	}

	msgs := parseSSEMessages(body)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(msgs[0].Data), &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed["trace_id"] != evt.TraceID || parsed["span_id"] != evt.SpanID {
		t.Errorf("trace context = %v/%v", parsed["trace_id"], parsed["span_id"])
	}
	if parsed["compile_id"] != "compile-1" {
		t.Errorf("compile_id = %v", parsed["compile_id"])
	}
	if _, ok := parsed["stage"]; ok {
		t.Errorf("empty stage should be omitted: %v", parsed)
	}
}

func TestHandler_RecorderEndToEnd(t *testing.T) {
	store := bus.NewMemEventStore(0)
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer eb.Close()

	rec := bus.NewRecorder(store, eb, nil)
	ts := setupTestServer(store, eb)
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp := getStream(t, ctx, ts.URL+"/workflows/wf-e2e/events?follow=false", nil)

	now := time.Now()
	rec.Handle(compiler.NewEvent(compiler.EventCompileStarted, "c1", now).WithWorkflow("wf-e2e"))
	rec.Handle(compiler.NewEvent(compiler.EventCompileFinished, "c1", now).WithWorkflow("wf-e2e"))

	msgs := parseSSEMessages(readAll(t, resp))
	if len(msgs) != 2 || msgs[0].ID != "1" || msgs[1].ID != "2" {
		t.Fatalf("messages = %+v", msgs)
	}
}
