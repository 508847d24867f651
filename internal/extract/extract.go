// Package extract implements the polyglot POI extractor that feeds
// file-analysis jobs: a deterministic, non-LLM fast pass over each file's
// source producing candidate POIs and unresolved relationship tuples
// `(from, to, type, reason, evidence_items)` in the exact shape the
// confidence scorer (§4.3.1) consumes. Resolution of `from`/`to` names to
// concrete POI ids happens downstream in directory/relationship resolution,
// once sibling files in the same run are known.
//
// Go is parsed with the standard library's go/parser + go/ast (no
// tree-sitter grammar is needed for a language already in the toolchain);
// every other language goes through smacker/go-tree-sitter, mirroring the
// teacher's per-language CodeParser split (go_parser.go vs
// python_parser.go/typescript_parser.go/rust_parser.go) but unified here
// behind one Extractor interface instead of one struct per language file.
package extract

import "github.com/ctp/cognitive-triangulation-pipeline/internal/model"

// RawPOI is a POI candidate before it is assigned a run/file id.
type RawPOI struct {
	Name      string
	Type      model.POIType
	StartLine int
	EndLine   int
}

// RawRelationship is an unresolved relationship tuple in the exact shape
// the confidence scorer's fast path consumes (spec §4.3.1).
type RawRelationship struct {
	From          string
	To            string
	Type          model.RelationshipType
	Reason        string
	EvidenceItems int
}

// Result is one file's extraction output.
type Result struct {
	POIs          []RawPOI
	Relationships []RawRelationship
}

// Extractor parses one file's content into POIs and relationship hints.
type Extractor interface {
	Extract(path string, content []byte) (Result, error)
	Extensions() []string
	Language() string
}

// Registry dispatches a file path to the Extractor registered for its
// extension.
type Registry struct {
	byExt map[string]Extractor
}

// NewRegistry builds a registry from a set of extractors, later entries
// winning on extension collision.
func NewRegistry(extractors ...Extractor) *Registry {
	r := &Registry{byExt: make(map[string]Extractor)}
	for _, e := range extractors {
		for _, ext := range e.Extensions() {
			r.byExt[ext] = e
		}
	}
	return r
}

// For returns the extractor registered for a file extension (e.g. ".go"),
// if any.
func (r *Registry) For(ext string) (Extractor, bool) {
	e, ok := r.byExt[ext]
	return e, ok
}

// DefaultRegistry wires every extractor this package ships.
func DefaultRegistry() *Registry {
	return NewRegistry(
		NewGoExtractor(),
		NewTreeSitterExtractor(pythonLang()),
		NewTreeSitterExtractor(javascriptLang()),
		NewTreeSitterExtractor(typescriptLang()),
	)
}
