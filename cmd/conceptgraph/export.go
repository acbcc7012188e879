package main

import (
	"fmt"
	"os"

	"github.com/sourcelens/conceptgraph/internal/export"
	"github.com/sourcelens/conceptgraph/internal/graph"
)

func runExport(engine *graph.Engine) error {
	if err := export.WriteJSON(os.Stdout, engine.ExportConcepts()); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return nil
}

func runDiagram(engine *graph.Engine) error {
	fmt.Print(export.GenerateMermaid(engine.ExportConcepts()))
	return nil
}
