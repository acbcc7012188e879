package graph

import "time"

// --- Enums ---

// RelationType classifies directed edges between concepts.
type RelationType string

const (
	RelationExtends    RelationType = "extends"
	RelationImplements RelationType = "implements"
	RelationUses       RelationType = "uses"
	RelationCalls      RelationType = "calls"
	RelationReferences RelationType = "references"
	RelationSimilarTo  RelationType = "similar_to"
	RelationCoChanges  RelationType = "co_changes"
)

// ChangeType classifies an evolution step in a concept's history.
type ChangeType string

const (
	ChangeRename    ChangeType = "rename"
	ChangeSignature ChangeType = "signature"
	ChangeRelation  ChangeType = "relation"
	ChangeMove      ChangeType = "move"
)

// --- Models ---

// Range is a zero-based source span: start line/column, end line/column.
type Range struct {
	StartLine int `json:"startLine"`
	StartCol  int `json:"startCol"`
	EndLine   int `json:"endLine"`
	EndCol    int `json:"endCol"`
}

// Valid reports whether all four range components are non-negative.
func (r Range) Valid() bool {
	return r.StartLine >= 0 && r.StartCol >= 0 && r.EndLine >= 0 && r.EndCol >= 0
}

// Location points at a source span inside a file identified by URI.
type Location struct {
	URI   string `json:"uri"`
	Range Range  `json:"range"`
}

// Representation is one textual occurrence-class of a concept: a name plus
// where it was seen. A representation with an empty URI or a negative range
// component is invalid and is never persisted; adapters drop such rows on
// load as well.
type Representation struct {
	Name        string    `json:"name"`
	Location    Location  `json:"location"`
	FirstSeen   time.Time `json:"firstSeen"`
	LastSeen    time.Time `json:"lastSeen"`
	Occurrences int       `json:"occurrences"`
	Context     string    `json:"context,omitempty"`
}

// Valid reports whether the representation may be persisted.
func (r Representation) Valid() bool {
	return r.Location.URI != "" && r.Location.Range.Valid()
}

// Relation is a typed, confidence-weighted directed edge to another concept.
type Relation struct {
	ID         string       `json:"id"`
	TargetID   string       `json:"targetId"`
	Type       RelationType `json:"type"`
	Confidence float64      `json:"confidence"`
	Evidence   []string     `json:"evidence,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// Parameter is a single named parameter in a concept's signature.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// Signature captures the callable shape of a concept.
type Signature struct {
	Parameters  []Parameter `json:"parameters,omitempty"`
	ReturnType  string      `json:"returnType,omitempty"`
	SideEffects []string    `json:"sideEffects,omitempty"`
	Complexity  int         `json:"complexity"`
	Fingerprint string      `json:"fingerprint"`
}

// EvolutionEntry records one state transition of a concept. Entries are
// append-only; slice order is chronological.
type EvolutionEntry struct {
	Timestamp  time.Time  `json:"timestamp"`
	Type       ChangeType `json:"type"`
	FromState  string     `json:"fromState"`
	ToState    string     `json:"toState"`
	Reason     string     `json:"reason"`
	Confidence float64    `json:"confidence"`
}

// Metadata carries optional classification for a concept.
type Metadata struct {
	Category      string   `json:"category,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	IsInterface   bool     `json:"isInterface,omitempty"`
	IsAbstract    bool     `json:"isAbstract,omitempty"`
	IsDeprecated  bool     `json:"isDeprecated,omitempty"`
	Documentation string   `json:"documentation,omitempty"`
}

// Concept is a canonical semantic identity unifying multiple textual
// representations of the same code symbol.
type Concept struct {
	ID              string                    `json:"id"`
	CanonicalName   string                    `json:"canonicalName"`
	Representations map[string]Representation `json:"representations"`
	Relations       map[string]Relation       `json:"relations"`
	Signature       Signature                 `json:"signature"`
	Evolution       []EvolutionEntry          `json:"evolution,omitempty"`
	Metadata        Metadata                  `json:"metadata"`
	Confidence      float64                   `json:"confidence"`
	CreatedAt       time.Time                 `json:"createdAt"`
	UpdatedAt       time.Time                 `json:"updatedAt"`
}

// Clone returns a deep copy of the concept. Stores and the engine hand out
// clones so callers can never alias internal state.
func (c *Concept) Clone() *Concept {
	if c == nil {
		return nil
	}
	out := *c
	out.Representations = make(map[string]Representation, len(c.Representations))
	for k, v := range c.Representations {
		out.Representations[k] = v
	}
	out.Relations = make(map[string]Relation, len(c.Relations))
	for k, v := range c.Relations {
		v.Evidence = append([]string(nil), v.Evidence...)
		out.Relations[k] = v
	}
	out.Evolution = append([]EvolutionEntry(nil), c.Evolution...)
	out.Metadata.Tags = append([]string(nil), c.Metadata.Tags...)
	out.Signature.Parameters = append([]Parameter(nil), c.Signature.Parameters...)
	out.Signature.SideEffects = append([]string(nil), c.Signature.SideEffects...)
	return &out
}

// dropInvalidRepresentations removes representations that must never be
// persisted. Returns the number of entries dropped.
func (c *Concept) dropInvalidRepresentations() int {
	dropped := 0
	for name, rep := range c.Representations {
		if !rep.Valid() {
			delete(c.Representations, name)
			dropped++
		}
	}
	return dropped
}

// RelatedConcept is one traversal result from RelatedConcepts: a reachable
// concept, the relation label it was reached through, the decayed confidence
// and the hop distance from the source.
type RelatedConcept struct {
	ConceptID     string  `json:"conceptId"`
	CanonicalName string  `json:"canonicalName"`
	RelationType  string  `json:"relationType"`
	Confidence    float64 `json:"confidence"`
	Distance      int     `json:"distance"`
}

// GraphStats summarizes the in-memory state of the engine.
type GraphStats struct {
	ConceptCount        int            `json:"conceptCount"`
	RelationCount       int            `json:"relationCount"`
	RepresentationCount int            `json:"representationCount"`
	AverageConfidence   float64        `json:"averageConfidence"`
	Categories          map[string]int `json:"categories,omitempty"`
	Storage             *StorageStats  `json:"storage,omitempty"`
}

// StorageStats summarizes persisted row counts, reported by adapters that
// implement the StatsReporter capability.
type StorageStats struct {
	Concepts        int `json:"concepts"`
	Representations int `json:"representations"`
	Relations       int `json:"relations"`
	EvolutionRows   int `json:"evolutionRows"`
}
