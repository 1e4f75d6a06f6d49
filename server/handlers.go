package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/flowcanvas/catalog"
	"github.com/petal-labs/flowcanvas/compiler"
	"github.com/petal-labs/flowcanvas/connect"
	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/editor"
	"github.com/petal-labs/flowcanvas/graph"
	"github.com/petal-labs/flowcanvas/loader"
	"github.com/petal-labs/flowcanvas/sse"
	"github.com/petal-labs/flowcanvas/store"
)

// ValidateResponse is the JSON response for POST /api/validate.
type ValidateResponse struct {
	Valid       bool               `json:"valid"`
	Diagnostics []graph.Diagnostic `json:"diagnostics"`
}

// ConnectionCheckRequest is the JSON body for POST /api/connections/check.
type ConnectionCheckRequest struct {
	Graph core.Graph `json:"graph"`
	Edge  core.Edge  `json:"edge"`
}

// ConnectionCheckResponse reports whether the edge may be added.
type ConnectionCheckResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
}

// CompileWorkflowResponse is the JSON response for
// POST /api/workflows/{id}/compile.
type CompileWorkflowResponse struct {
	Workflow    store.WorkflowRecord `json:"workflow"`
	Result      *compiler.Result     `json:"result"`
	Diagnostics []graph.Diagnostic   `json:"diagnostics"`
}

// LatestCompileResponse is the JSON response for
// GET /api/workflows/{id}/compiles/latest.
type LatestCompileResponse struct {
	CompileID string      `json:"compile_id"`
	Events    []sse.Event `json:"events"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleNodeTypes returns all registered node types.
func (s *Server) handleNodeTypes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.All())
}

// handleCompile compiles the graph in the request body without storing it.
func (s *Server) handleCompile(w http.ResponseWriter, r *http.Request) {
	g, ok := s.decodeGraph(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.compiler.Compile(g))
}

// handleValidate runs the consistency pass over the graph in the request body.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	g, ok := s.decodeGraph(w, r)
	if !ok {
		return
	}
	diags := s.compiler.Check(g, nil)
	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	writeJSON(w, http.StatusOK, ValidateResponse{
		Valid:       !graph.HasErrors(diags),
		Diagnostics: diags,
	})
}

// handleCheckConnection answers whether an edge may be drawn on a graph.
func (s *Server) handleCheckConnection(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req ConnectionCheckRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	resp := ConnectionCheckResponse{Allowed: true}
	if err := s.editor(req.Graph).CanConnect(req.Edge); err != nil {
		resp = ConnectionCheckResponse{Reason: rejectionReason(err), Message: err.Error()}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListWorkflows returns all workflows.
func (s *Server) handleListWorkflows(w http.ResponseWriter, r *http.Request) {
	records, err := s.store.List(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if records == nil {
		records = []store.WorkflowRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// handleGetWorkflow returns a single workflow by ID.
func (s *Server) handleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.getWorkflow(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreateWorkflow stores a canvas graph. The graph must be
// structurally valid; it is compiled separately.
func (s *Server) handleCreateWorkflow(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	g, ok := loadCanvas(w, body)
	if !ok {
		return
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	rec := store.WorkflowRecord{
		ID:        g.ID,
		Name:      g.Name,
		Source:    g,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.Create(r.Context(), rec); err != nil {
		if errors.Is(err, store.ErrWorkflowExists) {
			writeError(w, http.StatusConflict, "CONFLICT", fmt.Sprintf("workflow %q already exists", g.ID))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	s.logger.Info("workflow created", "workflow_id", rec.ID, "nodes", len(g.Nodes), "edges", len(g.Edges))
	writeJSON(w, http.StatusCreated, rec)
}

// handleUpdateWorkflow replaces a workflow's graph. The stored IR is
// dropped until the next compile.
func (s *Server) handleUpdateWorkflow(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	g, ok := loadCanvas(w, body)
	if !ok {
		return
	}

	defer s.locks.lock(r.PathValue("id"))()
	rec, ok := s.getWorkflow(w, r)
	if !ok {
		return
	}
	g.ID = rec.ID

	rec.Name = g.Name
	rec, ok = s.persistSource(w, r, rec, g)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleDeleteWorkflow deletes a workflow by ID.
func (s *Server) handleDeleteWorkflow(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	defer s.locks.lock(id)()
	if err := s.store.Delete(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrWorkflowNotFound) {
			writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCompileWorkflow compiles the stored graph and, when the consistency
// pass reports no errors, persists the IR on the record.
func (s *Server) handleCompileWorkflow(w http.ResponseWriter, r *http.Request) {
	defer s.locks.lock(r.PathValue("id"))()
	rec, ok := s.getWorkflow(w, r)
	if !ok {
		return
	}

	res, diags := s.editor(rec.Source).Check()
	if graph.HasErrors(diags) {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "workflow has errors", diagMessages(diags)...)
		return
	}
	compiled, err := json.Marshal(res.Workflow)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "ENCODE_ERROR", err.Error())
		return
	}

	rec.Compiled = compiled
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(r.Context(), rec); err != nil {
		s.writeStoreError(w, rec.ID, err)
		return
	}
	if diags == nil {
		diags = []graph.Diagnostic{}
	}
	s.logger.Info("workflow compiled", "workflow_id", rec.ID,
		"ir_nodes", len(res.Workflow.Nodes), "ir_edges", len(res.Workflow.Edges), "warnings", len(diags))
	writeJSON(w, http.StatusOK, CompileWorkflowResponse{Workflow: rec, Result: res, Diagnostics: diags})
}

// handleConnectWorkflow adds an edge to a stored workflow through the
// connection validator.
func (s *Server) handleConnectWorkflow(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var e core.Edge
	if err := json.Unmarshal(body, &e); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return
	}

	defer s.locks.lock(r.PathValue("id"))()
	rec, ok := s.getWorkflow(w, r)
	if !ok {
		return
	}

	st := s.editor(rec.Source)
	added, err := st.Connect(e)
	if err != nil {
		if errors.Is(err, editor.ErrEdgeExists) {
			writeError(w, http.StatusConflict, "CONFLICT", err.Error())
			return
		}
		writeError(w, http.StatusUnprocessableEntity, rejectionReason(err), err.Error())
		return
	}
	if _, ok := s.persistSource(w, r, rec, st.Snapshot()); !ok {
		return
	}
	writeJSON(w, http.StatusCreated, added)
}

// handleDisconnectWorkflow removes an edge from a stored workflow.
func (s *Server) handleDisconnectWorkflow(w http.ResponseWriter, r *http.Request) {
	defer s.locks.lock(r.PathValue("id"))()
	rec, ok := s.getWorkflow(w, r)
	if !ok {
		return
	}
	st := s.editor(rec.Source)
	if err := st.Disconnect(r.PathValue("edge_id")); err != nil {
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}
	if _, ok := s.persistSource(w, r, rec, st.Snapshot()); !ok {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleWorkflowVariables lists the variables a node of a stored workflow
// can reference.
func (s *Server) handleWorkflowVariables(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.getWorkflow(w, r)
	if !ok {
		return
	}
	nodeID := r.PathValue("node_id")
	if _, found := rec.Source.NodeByID(nodeID); !found {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("node %q not found in workflow %q", nodeID, rec.ID))
		return
	}
	vars := s.editor(rec.Source).OutputVariables(nodeID)
	if vars == nil {
		vars = []catalog.Descriptor{}
	}
	writeJSON(w, http.StatusOK, vars)
}

// --- helpers ---

func (s *Server) editor(g core.Graph) *editor.State {
	return editor.New(g, editor.WithValidator(s.validator), editor.WithCompiler(s.compiler))
}

func (s *Server) getWorkflow(w http.ResponseWriter, r *http.Request) (store.WorkflowRecord, bool) {
	id := r.PathValue("id")
	rec, ok, err := s.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return store.WorkflowRecord{}, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		return store.WorkflowRecord{}, false
	}
	return rec, true
}

// persistSource stores g as the record's graph and drops the stale IR.
func (s *Server) persistSource(w http.ResponseWriter, r *http.Request, rec store.WorkflowRecord, g core.Graph) (store.WorkflowRecord, bool) {
	rec.Source = g
	rec.Compiled = nil
	rec.UpdatedAt = time.Now().UTC()
	if err := s.store.Update(r.Context(), rec); err != nil {
		s.writeStoreError(w, rec.ID, err)
		return store.WorkflowRecord{}, false
	}
	return rec, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, id string, err error) {
	if errors.Is(err, store.ErrWorkflowNotFound) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q not found", id))
		return
	}
	writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
}

// decodeGraph reads a canvas graph from the body without structural
// validation, so the caller can report diagnostics instead.
func (s *Server) decodeGraph(w http.ResponseWriter, r *http.Request) (core.Graph, bool) {
	body, ok := readBody(w, r)
	if !ok {
		return core.Graph{}, false
	}
	var g core.Graph
	if err := json.Unmarshal(body, &g); err != nil {
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return core.Graph{}, false
	}
	return g, true
}

func loadCanvas(w http.ResponseWriter, body []byte) (core.Graph, bool) {
	g, err := loader.LoadGraphBytes(body, "")
	if err != nil {
		var diagErr *loader.DiagnosticError
		if errors.As(err, &diagErr) {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "graph validation failed", diagMessages(diagErr.Diagnostics)...)
			return core.Graph{}, false
		}
		writeError(w, http.StatusBadRequest, "PARSE_ERROR", err.Error())
		return core.Graph{}, false
	}
	return g, true
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeError(w, http.StatusRequestEntityTooLarge, "BODY_TOO_LARGE", "request body exceeds size limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "READ_ERROR", err.Error())
		return nil, false
	}
	return body, true
}

// rejectionReason maps a connection rejection to a stable API code.
func rejectionReason(err error) string {
	switch {
	case errors.Is(err, connect.ErrSelfLoop):
		return "SELF_LOOP"
	case errors.Is(err, connect.ErrDuplicate):
		return "DUPLICATE"
	case errors.Is(err, connect.ErrCycle):
		return "CYCLE"
	case errors.Is(err, connect.ErrArity):
		return "ARITY"
	case errors.Is(err, connect.ErrIncompatible):
		return "INCOMPATIBLE"
	case errors.Is(err, connect.ErrNoInput):
		return "NO_INPUT"
	case errors.Is(err, connect.ErrUnknownNode):
		return "UNKNOWN_NODE"
	case errors.Is(err, connect.ErrUnknownHandle):
		return "UNKNOWN_HANDLE"
	}
	return "REJECTED"
}

// diagMessages extracts error messages from diagnostics.
func diagMessages(diags []graph.Diagnostic) []string {
	errs := graph.Errors(diags)
	msgs := make([]string, 0, len(errs))
	for _, d := range errs {
		msgs = append(msgs, d.Message)
	}
	return msgs
}

// isMaxBytesError checks if the error is from http.MaxBytesReader.
func isMaxBytesError(err error) bool {
	var maxBytesErr *http.MaxBytesError
	return errors.As(err, &maxBytesErr)
}

// handleLatestCompile returns the recorded events of the workflow's most
// recent compile.
func (s *Server) handleLatestCompile(w http.ResponseWriter, r *http.Request) {
	rec, ok := s.getWorkflow(w, r)
	if !ok {
		return
	}
	events, err := s.eventStore.LatestCompile(r.Context(), rec.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "STORE_ERROR", err.Error())
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", fmt.Sprintf("workflow %q has no recorded compile", rec.ID))
		return
	}
	resp := LatestCompileResponse{
		CompileID: events[0].CompileID,
		Events:    make([]sse.Event, 0, len(events)),
	}
	for _, e := range events {
		resp.Events = append(resp.Events, sse.NewEvent(e))
	}
	writeJSON(w, http.StatusOK, resp)
}
