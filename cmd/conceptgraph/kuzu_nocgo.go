//go:build !cgo

package main

import (
	"fmt"

	"github.com/sourcelens/conceptgraph/internal/graph"
)

func openKuzuStore(string) (graph.Store, error) {
	return nil, fmt.Errorf("the kuzu backend requires a cgo build")
}
