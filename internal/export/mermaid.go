package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sourcelens/conceptgraph/internal/graph"
)

// GenerateMermaid produces a Mermaid graph LR diagram from a concept set.
// Concepts are grouped by metadata category; relations become labeled
// arrows carrying the relation type and confidence.
func GenerateMermaid(concepts []*graph.Concept) string {
	// Build node → ID mapping for Mermaid (alphanumeric only).
	nodeIDs := make(map[string]string)
	nextID := 0
	getID := func(conceptID string) string {
		if id, ok := nodeIDs[conceptID]; ok {
			return id
		}
		id := fmt.Sprintf("N%d", nextID)
		nextID++
		nodeIDs[conceptID] = id
		return id
	}

	// Group concepts by category; uncategorized concepts go to the top level.
	byCategory := make(map[string][]*graph.Concept)
	var uncategorized []*graph.Concept
	for _, c := range concepts {
		if cat := c.Metadata.Category; cat != "" {
			byCategory[cat] = append(byCategory[cat], c)
		} else {
			uncategorized = append(uncategorized, c)
		}
	}
	categories := make([]string, 0, len(byCategory))
	for cat := range byCategory {
		categories = append(categories, cat)
	}
	sort.Strings(categories)

	var sb strings.Builder
	sb.WriteString("graph LR\n")

	for _, cat := range categories {
		members := byCategory[cat]
		sort.Slice(members, func(i, j int) bool { return members[i].ID < members[j].ID })
		sb.WriteString(fmt.Sprintf("  subgraph %s[\"%.40s\"]\n", getID("category:"+cat), cat))
		for _, c := range members {
			sb.WriteString(fmt.Sprintf("    %s[\"%s\"]\n", getID(c.ID), c.CanonicalName))
		}
		sb.WriteString("  end\n")
	}
	for _, c := range uncategorized {
		sb.WriteString(fmt.Sprintf("  %s[\"%s\"]\n", getID(c.ID), c.CanonicalName))
	}

	// Emit relation edges. Concepts are already id-ordered from the engine;
	// order relation targets for stable output.
	for _, c := range concepts {
		targets := make([]string, 0, len(c.Relations))
		for target := range c.Relations {
			targets = append(targets, target)
		}
		sort.Strings(targets)
		for _, target := range targets {
			rel := c.Relations[target]
			sb.WriteString(fmt.Sprintf("  %s -->|%s %.2f| %s\n",
				getID(c.ID), rel.Type, rel.Confidence, getID(target)))
		}
	}

	return sb.String()
}
