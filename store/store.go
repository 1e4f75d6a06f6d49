// Package store persists canvas workflows together with the IR they were
// last compiled to.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/petal-labs/flowcanvas/core"
)

// Sentinel errors for store operations.
var (
	ErrWorkflowExists   = errors.New("workflow already exists")
	ErrWorkflowNotFound = errors.New("workflow not found")
)

// WorkflowRecord represents a stored workflow. Compiled holds the encoded
// ir.Workflow from the last compile-on-save; it is empty until then.
type WorkflowRecord struct {
	ID        string          `json:"id"`
	Name      string          `json:"name,omitempty"`
	Source    core.Graph      `json:"source"`
	Compiled  json.RawMessage `json:"compiled,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Store provides CRUD operations for workflow records. List returns records
// in creation order.
type Store interface {
	List(ctx context.Context) ([]WorkflowRecord, error)
	Get(ctx context.Context, id string) (WorkflowRecord, bool, error)
	Create(ctx context.Context, rec WorkflowRecord) error
	Update(ctx context.Context, rec WorkflowRecord) error
	Delete(ctx context.Context, id string) error
}

// stamp fills missing timestamps on a record about to be created.
func stamp(rec *WorkflowRecord, now time.Time) {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
}

func marshalSource(g core.Graph) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	return data, nil
}

func unmarshalSource(raw []byte) (core.Graph, error) {
	var g core.Graph
	if len(raw) == 0 {
		return g, nil
	}
	if err := json.Unmarshal(raw, &g); err != nil {
		return core.Graph{}, err
	}
	return g, nil
}

func cloneRaw(raw []byte) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	return json.RawMessage(append([]byte(nil), raw...))
}
