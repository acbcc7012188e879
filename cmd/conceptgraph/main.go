package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/sourcelens/conceptgraph/internal/config"
	"github.com/sourcelens/conceptgraph/internal/graph"
)

// CLI flags parsed from command line.
type cliFlags struct {
	ProjectRoot string
	Version     bool
}

// version is set by goreleaser at build time.
var version = "dev"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	var flags cliFlags

	fs := flag.NewFlagSet("conceptgraph", flag.ContinueOnError)
	fs.StringVar(&flags.ProjectRoot, "project-root", ".", "path to the target project")
	fs.BoolVar(&flags.Version, "version", false, "print version and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if flags.Version {
		fmt.Println(version)
		return nil
	}

	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: conceptgraph [flags] <export|diagram|status|resolve|related> [args]")
	}

	cfg, err := config.Load(flags.ProjectRoot)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := openStore(cfg, flags.ProjectRoot)
	if err != nil {
		return err
	}
	if cfg.Instrument {
		store = graph.NewInstrumentedStore(store)
	}

	ctx := context.Background()
	engine, err := graph.NewEngine(ctx, graph.Options{Store: store})
	if err != nil {
		store.Close()
		return fmt.Errorf("open graph: %w", err)
	}
	defer engine.Dispose()

	switch cmd, cmdArgs := rest[0], rest[1:]; cmd {
	case "export":
		return runExport(engine)
	case "diagram":
		return runDiagram(engine)
	case "status":
		return runStatus(ctx, engine)
	case "resolve":
		return runResolve(ctx, engine, cmdArgs)
	case "related":
		return runRelated(engine, cfg, cmdArgs)
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}
