package loader

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/petal-labs/flowcanvas/core"
	"github.com/petal-labs/flowcanvas/graph"
	"github.com/petal-labs/flowcanvas/schemafmt"
)

// LoadGraph reads a canvas snapshot, validates its structure and returns it.
func LoadGraph(path string) (core.Graph, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return core.Graph{}, fmt.Errorf("reading file %s: %w", path, err)
	}
	return LoadGraphBytes(data, path)
}

// LoadGraphBytes is LoadGraph over data already in memory. path only
// selects the parse format by extension.
func LoadGraphBytes(data []byte, path string) (core.Graph, error) {
	kind, err := DetectFormat(data, path)
	if err != nil {
		return core.Graph{}, err
	}
	if kind != schemafmt.KindCanvas {
		return core.Graph{}, fmt.Errorf("%s is a %s document, not a canvas", path, kind)
	}

	jsonData, err := toJSON(data, path)
	if err != nil {
		return core.Graph{}, err
	}
	var g core.Graph
	if err := json.Unmarshal(jsonData, &g); err != nil {
		return core.Graph{}, fmt.Errorf("parsing canvas: %w", err)
	}
	if g.SchemaVersion != "" {
		if err := schemafmt.ValidateSchemaVersion(g.SchemaVersion, schemafmt.SupportedCanvasSchemaMajor); err != nil {
			return core.Graph{}, err
		}
	}

	diags := graph.Validate(g)
	if graph.HasErrors(diags) {
		return core.Graph{}, &DiagnosticError{Diagnostics: diags}
	}
	return g, nil
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// DiagnosticError wraps validation diagnostics as an error.
type DiagnosticError struct {
	Diagnostics []graph.Diagnostic
}

func (e *DiagnosticError) Error() string {
	errs := graph.Errors(e.Diagnostics)
	if len(errs) == 0 {
		return "validation failed"
	}
	if len(errs) == 1 {
		return fmt.Sprintf("validation error: %s", errs[0].Message)
	}
	return fmt.Sprintf("%d validation errors (first: %s)", len(errs), errs[0].Message)
}
