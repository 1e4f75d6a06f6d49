// Package schemafmt names the document kinds flowcanvas reads and writes and
// validates their schema versions.
package schemafmt

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// DocumentKind identifies supported top-level document kinds.
type DocumentKind string

const (
	// KindCanvas is an editor snapshot: nodes, edges and their data.
	KindCanvas DocumentKind = "canvas"
	// KindIR is a compiled workflow as handed to the execution backend.
	KindIR DocumentKind = "workflow_ir"

	LegacyKindCanvas = "canvas-graph"

	SupportedCanvasSchemaMajor = 1
	SupportedIRSchemaMajor     = 1

	CurrentCanvasSchemaVersion = "1.0.0"
	CurrentIRSchemaVersion     = "1.0.0"
)

var semverPattern = regexp.MustCompile(
	`^(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)\.(0|[1-9][0-9]*)` +
		`(?:-((?:0|[1-9][0-9]*|[0-9A-Za-z-]*[A-Za-z-][0-9A-Za-z-]*)` +
		`(?:\.(?:0|[1-9][0-9]*|[0-9A-Za-z-]*[A-Za-z-][0-9A-Za-z-]*))*))?` +
		`(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`,
)

// NormalizeKind validates and canonicalizes a document kind string.
// Returns canonical kind, whether a legacy alias was used, and any validation error.
func NormalizeKind(raw string) (DocumentKind, bool, error) {
	switch kind := strings.TrimSpace(raw); kind {
	case string(KindCanvas):
		return KindCanvas, false, nil
	case LegacyKindCanvas:
		return KindCanvas, true, nil
	case string(KindIR):
		return KindIR, false, nil
	default:
		return "", false, fmt.Errorf("invalid kind %q", raw)
	}
}

// SupportedMajor returns the schema major version accepted for kind.
func SupportedMajor(kind DocumentKind) int {
	if kind == KindIR {
		return SupportedIRSchemaMajor
	}
	return SupportedCanvasSchemaMajor
}

// ValidateSchemaVersion ensures schema_version is a valid SemVer 2.0.0 string
// and that its MAJOR version is supported.
func ValidateSchemaVersion(version string, supportedMajor int) error {
	v := strings.TrimSpace(version)
	if v == "" {
		return fmt.Errorf("schema_version is required")
	}

	match := semverPattern.FindStringSubmatch(v)
	if match == nil {
		return fmt.Errorf("schema_version %q must be a valid semantic version (MAJOR.MINOR.PATCH)", version)
	}

	major, err := strconv.Atoi(match[1])
	if err != nil {
		return fmt.Errorf("parsing schema_version major: %w", err)
	}
	if major != supportedMajor {
		return fmt.Errorf("schema_version %q has unsupported major %d (supported: %d.x.x)", version, major, supportedMajor)
	}

	return nil
}
