// Package loader reads canvas snapshots from JSON and YAML files.
package loader

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petal-labs/flowcanvas/schemafmt"
)

// DetectFormat auto-detects the document kind from file content and path:
//  1. Determine parse format from extension (.yaml/.yml -> YAML, else JSON)
//  2. An explicit "kind" field wins
//  3. "nodes" and "edges" whose edges use source_node_id -> compiled IR
//  4. "nodes" and "edges" otherwise -> canvas
//  5. Else error
func DetectFormat(data []byte, filePath string) (schemafmt.DocumentKind, error) {
	var raw map[string]any
	if isYAML(filePath) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return "", fmt.Errorf("parsing JSON: %w", err)
		}
	}

	if kind, ok := raw["kind"].(string); ok {
		normalized, _, err := schemafmt.NormalizeKind(kind)
		if err != nil {
			return "", err
		}
		return normalized, nil
	}

	if !hasKey(raw, "nodes") || !hasKey(raw, "edges") {
		return "", fmt.Errorf("unable to detect document format: expected nodes and edges")
	}
	if edges, ok := raw["edges"].([]any); ok && len(edges) > 0 {
		if first, ok := edges[0].(map[string]any); ok && hasKey(first, "source_node_id") {
			return schemafmt.KindIR, nil
		}
	}
	return schemafmt.KindCanvas, nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// hasKey checks if a key exists in a map.
func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// yamlToJSON converts raw bytes from YAML format to JSON bytes:
// YAML -> map[string]any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	// yaml.v3 uses map[string]any by default, which is JSON-compatible
	return json.Marshal(raw)
}
