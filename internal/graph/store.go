package graph

import (
	"context"
	"io"
)

// Store is the persistence port for concept snapshots. Implementations:
// SQLiteStore (reference, durable), KuzuStore (alternative, cgo), MemStore
// (testing). The engine is the sole owner of concept identity and lifetime;
// a Store owns nothing but serialized snapshots.
//
// Contract:
//   - SaveConcept is a full-replace upsert: all child rows (representations,
//     relations, evolution) are deleted and rewritten on every save, so
//     saving the same state twice is idempotent.
//   - Invalid representations (empty URI or malformed range) are never
//     written and are dropped when encountered on load.
//   - LoadAllConcepts never fails because one row is corrupt: the offending
//     concept is logged and skipped.
//   - DeleteConcept cascades through all child rows.
type Store interface {
	io.Closer

	// Initialize prepares the schema and scrubs malformed rows left behind
	// by out-of-band writes. Called once before any other operation.
	Initialize(ctx context.Context) error

	SaveConcept(ctx context.Context, c *Concept) error
	// UpdateConcept is identical to SaveConcept under full-replace semantics;
	// it exists so call sites read as intent.
	UpdateConcept(ctx context.Context, c *Concept) error
	LoadConcept(ctx context.Context, id string) (*Concept, error)
	LoadAllConcepts(ctx context.Context) ([]*Concept, error)
	DeleteConcept(ctx context.Context, id string) error
}

// Optional capabilities. Callers type-assert; a missing capability is a
// no-op returning a default, never an error.

// NameFinder locates concepts owning a representation with the given name.
type NameFinder interface {
	FindConceptsByName(ctx context.Context, name string) ([]*Concept, error)
}

// Maintainer exposes blocking storage maintenance. Schedule off the request
// path.
type Maintainer interface {
	Vacuum(ctx context.Context) error
	Analyze(ctx context.Context) error
}

// BackupCapable writes a consistent copy of the database to destPath.
type BackupCapable interface {
	Backup(ctx context.Context, destPath string) error
}

// StatsReporter reports persisted row counts.
type StatsReporter interface {
	ConceptStatistics(ctx context.Context) (*StorageStats, error)
}
