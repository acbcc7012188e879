package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/sourcelens/conceptgraph/internal/config"
	"github.com/sourcelens/conceptgraph/internal/graph"
)

func runResolve(ctx context.Context, engine *graph.Engine, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: conceptgraph resolve <identifier>")
	}
	identifier := args[0]

	concept, err := engine.ResolveStrict(ctx, identifier)
	if err != nil {
		return fmt.Errorf("resolve failed: %w", err)
	}
	if concept == nil {
		return fmt.Errorf("no concept found for %q", identifier)
	}

	out, err := json.MarshalIndent(concept, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	_, err = os.Stdout.Write(append(out, '\n'))
	return err
}

func runRelated(engine *graph.Engine, cfg *config.Config, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: conceptgraph related <concept-id>")
	}

	results, err := engine.RelatedConcepts(args[0], cfg.MaxTraversalDepth)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No related concepts above the confidence floor.")
		return nil
	}
	for _, r := range results {
		fmt.Printf("  %-30s %-20s conf %.2f  dist %d\n",
			r.CanonicalName, r.RelationType, r.Confidence, r.Distance)
	}
	return nil
}
