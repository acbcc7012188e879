package main

import (
	"fmt"

	"github.com/sourcelens/conceptgraph/internal/config"
	"github.com/sourcelens/conceptgraph/internal/graph"
)

// openStore selects the storage adapter from configuration. The kuzu backend
// is only available in cgo builds.
func openStore(cfg *config.Config, projectRoot string) (graph.Store, error) {
	switch backend := cfg.BackendOrDefault(); backend {
	case "sqlite":
		return graph.NewSQLiteStore(cfg.DatabasePathOrDefault(projectRoot))
	case "kuzu":
		return openKuzuStore(cfg.DatabasePathOrDefault(projectRoot))
	case "memory":
		return graph.NewMemStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", backend)
	}
}
