package export

import (
	"encoding/json"
	"io"
	"time"

	"github.com/sourcelens/conceptgraph/internal/graph"
)

// GraphExport is the top-level JSON export structure.
type GraphExport struct {
	ExportedAt    string           `json:"exportedAt"`
	ConceptCount  int              `json:"conceptCount"`
	RelationCount int              `json:"relationCount"`
	Concepts      []*graph.Concept `json:"concepts"`
}

// BuildExport wraps an exported concept set in the envelope.
func BuildExport(concepts []*graph.Concept) *GraphExport {
	relations := 0
	for _, c := range concepts {
		relations += len(c.Relations)
	}
	return &GraphExport{
		ExportedAt:    time.Now().UTC().Format(time.RFC3339),
		ConceptCount:  len(concepts),
		RelationCount: relations,
		Concepts:      concepts,
	}
}

// WriteJSON writes the export as indented JSON.
func WriteJSON(w io.Writer, concepts []*graph.Concept) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(BuildExport(concepts))
}
