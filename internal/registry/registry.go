// Package registry holds the disaster taxonomy: the canonical disaster
// types the extraction stage may emit, their aliases, and the default
// search keywords per type. The taxonomy ships embedded so a binary is
// self-contained; an external file can override it.
package registry

import (
	_ "embed"
	"os"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed taxonomy.yaml
var embeddedTaxonomy []byte

// DisasterType is one entry in the taxonomy.
type DisasterType struct {
	Name     string   `yaml:"name"`
	Aliases  []string `yaml:"aliases"`
	Keywords []string `yaml:"keywords"`
}

// Registry is the loaded taxonomy with alias lookup.
type Registry struct {
	types   []DisasterType
	byAlias map[string]string // lowercase alias -> canonical name
}

type taxonomyFile struct {
	Types []DisasterType `yaml:"types"`
}

// Load parses the embedded taxonomy.
func Load() (*Registry, error) {
	return parse(embeddedTaxonomy)
}

// LoadFile parses a taxonomy override from disk.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "registry: read taxonomy file")
	}
	return parse(data)
}

func parse(data []byte) (*Registry, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "registry: parse taxonomy")
	}
	if len(file.Types) == 0 {
		return nil, eris.New("registry: taxonomy has no types")
	}

	r := &Registry{
		types:   file.Types,
		byAlias: make(map[string]string),
	}
	for _, t := range file.Types {
		r.byAlias[strings.ToLower(t.Name)] = t.Name
		for _, a := range t.Aliases {
			r.byAlias[strings.ToLower(a)] = t.Name
		}
	}
	return r, nil
}

// Canonical maps a raw disaster type string onto its canonical name.
// Unknown types come back as "other".
func (r *Registry) Canonical(raw string) string {
	if name, ok := r.byAlias[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return name
	}
	return "other"
}

// Known reports whether the raw type maps to a taxonomy entry.
func (r *Registry) Known(raw string) bool {
	_, ok := r.byAlias[strings.ToLower(strings.TrimSpace(raw))]
	return ok
}

// TypeNames returns the canonical names, sorted.
func (r *Registry) TypeNames() []string {
	names := make([]string, 0, len(r.types))
	for _, t := range r.types {
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names
}

// DefaultKeywords builds a search query covering every taxonomy type.
func (r *Registry) DefaultKeywords() string {
	var terms []string
	seen := make(map[string]bool)
	for _, t := range r.types {
		for _, k := range t.Keywords {
			if seen[k] {
				continue
			}
			seen[k] = true
			terms = append(terms, k)
		}
	}
	return strings.Join(terms, " OR ")
}
