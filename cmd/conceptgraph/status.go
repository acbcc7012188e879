package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/sourcelens/conceptgraph/internal/graph"
)

func runStatus(ctx context.Context, engine *graph.Engine) error {
	stats, err := engine.Statistics(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("Concepts:        %d\n", stats.ConceptCount)
	fmt.Printf("Representations: %d\n", stats.RepresentationCount)
	fmt.Printf("Relations:       %d\n", stats.RelationCount)
	fmt.Printf("Avg confidence:  %.2f\n", stats.AverageConfidence)

	if len(stats.Categories) > 0 {
		fmt.Println("\nCategories:")
		names := make([]string, 0, len(stats.Categories))
		for name := range stats.Categories {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %-20s %d\n", name, stats.Categories[name])
		}
	}

	if stats.Storage != nil {
		fmt.Printf("\nStored rows: %d concepts, %d representations, %d relations, %d evolution\n",
			stats.Storage.Concepts, stats.Storage.Representations,
			stats.Storage.Relations, stats.Storage.EvolutionRows)
	}
	return nil
}
