package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chainEngine builds A -> B -> C with the given relation types.
func chainEngine(t *testing.T, ab, bc RelationType) *Engine {
	t.Helper()
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.AddConcept(ctx, testConcept("a", "Alpha", "src/a.go")))
	require.NoError(t, e.AddConcept(ctx, testConcept("b", "Beta", "src/b.go")))
	require.NoError(t, e.AddConcept(ctx, testConcept("c", "Gamma", "src/c.go")))
	require.NoError(t, e.AddRelation(ctx, "a", "b", ab, 0.9, nil))
	require.NoError(t, e.AddRelation(ctx, "b", "c", bc, 0.9, nil))
	return e
}

func findRelated(results []RelatedConcept, id string) (RelatedConcept, bool) {
	for _, r := range results {
		if r.ConceptID == id {
			return r, true
		}
	}
	return RelatedConcept{}, false
}

func TestRelatedConcepts_UnknownSource(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	var nfe *NotFoundError
	_, err := e.RelatedConcepts("ghost", 2)
	require.Error(t, err)
	assert.True(t, errors.As(err, &nfe))
}

func TestRelatedConcepts_ConfidenceDecaysWithDepth(t *testing.T) {
	e := chainEngine(t, RelationExtends, RelationExtends)

	results, err := e.RelatedConcepts("a", 3)
	require.NoError(t, err)

	b, ok := findRelated(results, "b")
	require.True(t, ok)
	c, ok := findRelated(results, "c")
	require.True(t, ok)

	// b: 0.9 × 0.95, c: 0.9 × 0.95 × 0.8 (one level of decay).
	assert.InDelta(t, 0.855, b.Confidence, 1e-9)
	assert.InDelta(t, 0.684, c.Confidence, 1e-9)
	assert.Equal(t, 1, b.Distance)
	assert.Equal(t, 2, c.Distance)
	assert.LessOrEqual(t, c.Confidence, b.Confidence)
}

func TestRelatedConcepts_TypeWeightOrdering(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.AddConcept(ctx, testConcept("a", "Alpha", "src/a.go")))
	require.NoError(t, e.AddConcept(ctx, testConcept("b", "Beta", "src/b.go")))
	require.NoError(t, e.AddConcept(ctx, testConcept("c", "Gamma", "src/c.go")))
	require.NoError(t, e.AddRelation(ctx, "a", "b", RelationCalls, 0.9, nil))
	require.NoError(t, e.AddRelation(ctx, "a", "c", RelationExtends, 0.9, nil))

	results, err := e.RelatedConcepts("a", 1)
	require.NoError(t, err)
	require.Len(t, results, 2)
	// extends (0.95) outranks calls (0.60) at equal raw confidence.
	assert.Equal(t, "c", results[0].ConceptID)
	assert.Equal(t, "b", results[1].ConceptID)
}

func TestRelatedConcepts_InverseEdges(t *testing.T) {
	e := chainEngine(t, RelationUses, RelationCalls)

	// From C, both neighbors are reached against the arrow direction.
	results, err := e.RelatedConcepts("c", 3)
	require.NoError(t, err)

	b, ok := findRelated(results, "b")
	require.True(t, ok)
	assert.Equal(t, "inverse_calls", b.RelationType)
	// 0.9 × 0.60 × 0.8 (inverse penalty), no depth decay at the first hop.
	assert.InDelta(t, 0.432, b.Confidence, 1e-9)

	a, ok := findRelated(results, "a")
	require.True(t, ok)
	assert.Equal(t, "inverse_uses", a.RelationType)
	assert.Equal(t, 2, a.Distance)
	// 0.9 × 0.70 × 0.8 (depth) × 0.8 (inverse).
	assert.InDelta(t, 0.4032, a.Confidence, 1e-9)
}

func TestRelatedConcepts_EvidenceBonus(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.AddConcept(ctx, testConcept("a", "Alpha", "src/a.go")))
	require.NoError(t, e.AddConcept(ctx, testConcept("b", "Beta", "src/b.go")))

	evidence := []string{"e1", "e2", "e3", "e4", "e5", "e6", "e7"}
	require.NoError(t, e.AddRelation(ctx, "a", "b", RelationUses, 0.9, evidence))

	results, err := e.RelatedConcepts("a", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	// 0.9 × 0.70 + min(0.1, 7 × 0.02) = 0.63 + 0.1 (bonus capped).
	assert.InDelta(t, 0.73, results[0].Confidence, 1e-9)
}

func TestRelatedConcepts_FiltersLowConfidence(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.AddConcept(ctx, testConcept("a", "Alpha", "src/a.go")))
	require.NoError(t, e.AddConcept(ctx, testConcept("b", "Beta", "src/b.go")))
	// 0.5 × 0.40 = 0.2, below the 0.3 report floor.
	require.NoError(t, e.AddRelation(ctx, "a", "b", RelationSimilarTo, 0.5, nil))

	results, err := e.RelatedConcepts("a", 2)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRelatedConcepts_CapsResults(t *testing.T) {
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	require.NoError(t, e.AddConcept(ctx, testConcept("hub", "Hub", "src/hub.go")))
	for i := 0; i < 25; i++ {
		id := fmt.Sprintf("n%02d", i)
		require.NoError(t, e.AddConcept(ctx, testConcept(id, "Spoke"+id, "src/spokes.go")))
		require.NoError(t, e.AddRelation(ctx, "hub", id, RelationExtends, 0.9, nil))
	}

	results, err := e.RelatedConcepts("hub", 1)
	require.NoError(t, err)
	assert.Len(t, results, 20)
}

func TestRelatedConcepts_VisitsEachConceptOnce(t *testing.T) {
	// Diamond: a -> b, a -> c, b -> d, c -> d. d must appear exactly once.
	e, _ := newTestEngine(t, nil)
	ctx := context.Background()
	for _, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, e.AddConcept(ctx, testConcept(id, "N"+id, "src/"+id+".go")))
	}
	require.NoError(t, e.AddRelation(ctx, "a", "b", RelationExtends, 0.9, nil))
	require.NoError(t, e.AddRelation(ctx, "a", "c", RelationExtends, 0.9, nil))
	require.NoError(t, e.AddRelation(ctx, "b", "d", RelationExtends, 0.9, nil))
	require.NoError(t, e.AddRelation(ctx, "c", "d", RelationExtends, 0.9, nil))

	results, err := e.RelatedConcepts("a", 3)
	require.NoError(t, err)
	seen := make(map[string]int)
	for _, r := range results {
		seen[r.ConceptID]++
	}
	assert.Equal(t, 1, seen["d"])
	assert.Zero(t, seen["a"], "the source never reports itself")
}

func TestRelatedConcepts_DepthLimit(t *testing.T) {
	e := chainEngine(t, RelationExtends, RelationExtends)

	results, err := e.RelatedConcepts("a", 1)
	require.NoError(t, err)
	_, hasB := findRelated(results, "b")
	_, hasC := findRelated(results, "c")
	assert.True(t, hasB)
	assert.False(t, hasC, "depth 1 stops before the second hop")
}

func TestRelatedConcepts_ZeroDepthUsesDefault(t *testing.T) {
	e := chainEngine(t, RelationExtends, RelationExtends)

	results, err := e.RelatedConcepts("a", 0)
	require.NoError(t, err)
	_, hasC := findRelated(results, "c")
	assert.True(t, hasC, "default depth is 2")
}
