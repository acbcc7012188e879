package graph

import (
	"math"
	"sort"
)

const (
	depthDecay           = 0.8
	inverseEdgePenalty   = 0.8
	evidenceBonusPerItem = 0.02
	evidenceBonusCap     = 0.1
	minReportConfidence  = 0.3
	maxRelatedResults    = 20
	defaultMaxDepth      = 2
)

// relationTypeWeights attenuate confidence by edge semantics: structural
// relations carry more signal than co-occurrence ones.
var relationTypeWeights = map[RelationType]float64{
	RelationExtends:    0.95,
	RelationImplements: 0.90,
	RelationCoChanges:  0.80,
	RelationUses:       0.70,
	RelationCalls:      0.60,
	RelationReferences: 0.50,
	RelationSimilarTo:  0.40,
}

const defaultTypeWeight = 0.30

func typeWeight(t RelationType) float64 {
	if w, ok := relationTypeWeights[t]; ok {
		return w
	}
	return defaultTypeWeight
}

// RelatedConcepts walks outgoing and incoming edges from conceptID up to
// maxDepth hops (default 2 when maxDepth <= 0), scoring each discovered
// concept by decayed relation confidence. Each concept id is visited once
// globally for the whole call, not once per path: a concept first reached by
// a longer path will not be revisited through a shorter one found later.
// That loses some precision but bounds the walk to O(nodes + edges).
//
// Results are filtered to confidence > 0.3, sorted descending and capped to
// the top 20.
func (e *Engine) RelatedConcepts(conceptID string, maxDepth int) ([]RelatedConcept, error) {
	if maxDepth <= 0 {
		maxDepth = defaultMaxDepth
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if _, ok := e.concepts[conceptID]; !ok {
		return nil, &NotFoundError{Component: "engine", Op: "relatedConcepts", ConceptID: conceptID}
	}

	visited := map[string]bool{conceptID: true}
	var results []RelatedConcept
	e.walkLocked(conceptID, 0, maxDepth, visited, &results)

	filtered := results[:0]
	for _, r := range results {
		if r.Confidence > minReportConfidence {
			filtered = append(filtered, r)
		}
	}
	sort.Slice(filtered, func(i, j int) bool {
		if filtered[i].Confidence != filtered[j].Confidence {
			return filtered[i].Confidence > filtered[j].Confidence
		}
		return filtered[i].ConceptID < filtered[j].ConceptID
	})
	if len(filtered) > maxRelatedResults {
		filtered = filtered[:maxRelatedResults]
	}
	return filtered, nil
}

// walkLocked is the depth-first expansion step. depth is 0-indexed from the
// source, so first-hop confidences carry no depth decay. Caller holds e.mu.
func (e *Engine) walkLocked(id string, depth, maxDepth int, visited map[string]bool, results *[]RelatedConcept) {
	if depth >= maxDepth {
		return
	}
	node, ok := e.concepts[id]
	if !ok {
		return
	}

	// Outgoing edges.
	for targetID, rel := range node.Relations {
		if visited[targetID] {
			continue
		}
		target, ok := e.concepts[targetID]
		if !ok {
			continue
		}
		visited[targetID] = true
		*results = append(*results, RelatedConcept{
			ConceptID:     targetID,
			CanonicalName: target.CanonicalName,
			RelationType:  string(rel.Type),
			Confidence:    edgeConfidence(rel, depth, false),
			Distance:      depth + 1,
		})
		e.walkLocked(targetID, depth+1, maxDepth, visited, results)
	}

	// Incoming edges, reported as inverse relations.
	for fromID := range e.inbound[id] {
		if visited[fromID] {
			continue
		}
		from, ok := e.concepts[fromID]
		if !ok {
			continue
		}
		rel, ok := from.Relations[id]
		if !ok {
			continue
		}
		visited[fromID] = true
		*results = append(*results, RelatedConcept{
			ConceptID:     fromID,
			CanonicalName: from.CanonicalName,
			RelationType:  "inverse_" + string(rel.Type),
			Confidence:    edgeConfidence(rel, depth, true),
			Distance:      depth + 1,
		})
		e.walkLocked(fromID, depth+1, maxDepth, visited, results)
	}
}

// edgeConfidence scores a discovered relation at the given depth:
//
//	confidence = rel.confidence × typeWeight × 0.8^depth + evidence bonus
//
// with the bonus capped at 0.1 and reverse edges attenuated a further ×0.8.
func edgeConfidence(rel Relation, depth int, inverse bool) float64 {
	conf := rel.Confidence * typeWeight(rel.Type) * math.Pow(depthDecay, float64(depth))
	if inverse {
		conf *= inverseEdgePenalty
	}
	bonus := evidenceBonusPerItem * float64(len(rel.Evidence))
	if bonus > evidenceBonusCap {
		bonus = evidenceBonusCap
	}
	return conf + bonus
}
