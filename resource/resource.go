// Package resource models the backend resources a workflow selects by ID:
// models, datasets, tools, skills and agents. The compiler treats them as
// opaque lookup tables.
package resource

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Kind is the category of a resource.
type Kind string

const (
	KindModel   Kind = "model"
	KindDataset Kind = "dataset"
	KindTool    Kind = "tool"
	KindSkill   Kind = "skill"
	KindAgent   Kind = "agent"
)

// Kinds returns every resource kind.
func Kinds() []Kind {
	return []Kind{KindModel, KindDataset, KindTool, KindSkill, KindAgent}
}

// Resource is one selectable backend resource.
type Resource struct {
	ID          string `json:"id" yaml:"id"`
	Kind        Kind   `json:"kind" yaml:"-"`
	Name        string `json:"name" yaml:"name"`
	Provider    string `json:"provider,omitempty" yaml:"provider,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Catalog looks resources up by kind and ID.
type Catalog interface {
	Lookup(kind Kind, id string) (Resource, bool)
}

// Static is an in-memory Catalog.
type Static struct {
	mu    sync.RWMutex
	items map[Kind]map[string]Resource
}

// NewStatic returns a catalog holding resources. Resources with an empty ID
// are ignored; later duplicates replace earlier ones.
func NewStatic(resources ...Resource) *Static {
	s := &Static{items: make(map[Kind]map[string]Resource)}
	for _, r := range resources {
		s.Add(r)
	}
	return s
}

// Add inserts or replaces r.
func (s *Static) Add(r Resource) {
	if strings.TrimSpace(r.ID) == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.items[r.Kind] == nil {
		s.items[r.Kind] = make(map[string]Resource)
	}
	s.items[r.Kind][r.ID] = r
}

// Lookup implements Catalog.
func (s *Static) Lookup(kind Kind, id string) (Resource, bool) {
	if s == nil {
		return Resource{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.items[kind][id]
	return r, ok
}

// List returns the resources of kind sorted by ID.
func (s *Static) List(kind Kind) []Resource {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Resource, 0, len(s.items[kind]))
	for _, r := range s.items[kind] {
		out = append(out, r)
	}
	slices.SortFunc(out, func(a, b Resource) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the total number of resources.
func (s *Static) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, m := range s.items {
		n += len(m)
	}
	return n
}

// File is the YAML shape of a resource listing, either standalone or as the
// resources section of flowcanvas.yaml.
type File struct {
	Models   []Resource `yaml:"models,omitempty"`
	Datasets []Resource `yaml:"datasets,omitempty"`
	Tools    []Resource `yaml:"tools,omitempty"`
	Skills   []Resource `yaml:"skills,omitempty"`
	Agents   []Resource `yaml:"agents,omitempty"`
}

// Catalog builds a Static catalog from the listing.
func (f File) Catalog() *Static {
	s := NewStatic()
	add := func(kind Kind, rs []Resource) {
		for _, r := range rs {
			r.Kind = kind
			s.Add(r)
		}
	}
	add(KindModel, f.Models)
	add(KindDataset, f.Datasets)
	add(KindTool, f.Tools)
	add(KindSkill, f.Skills)
	add(KindAgent, f.Agents)
	return s
}

// Parse decodes a YAML resource listing.
func Parse(data []byte) (*Static, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing resource file: %w", err)
	}
	return f.Catalog(), nil
}

// LoadFile reads and decodes a YAML resource listing.
func LoadFile(path string) (*Static, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return nil, fmt.Errorf("reading resource file %s: %w", path, err)
	}
	return Parse(data)
}
