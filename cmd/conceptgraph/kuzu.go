//go:build cgo

package main

import "github.com/sourcelens/conceptgraph/internal/graph"

func openKuzuStore(dbPath string) (graph.Store, error) {
	return graph.NewKuzuFileStore(dbPath)
}
