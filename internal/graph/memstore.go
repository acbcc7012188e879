package graph

import (
	"context"
	"sync"
)

// Compile-time assertions: *MemStore satisfies Store plus the capabilities
// it advertises. It deliberately does not implement Maintainer or
// BackupCapable so the capability-absence path stays exercised in tests.
var (
	_ Store         = (*MemStore)(nil)
	_ NameFinder    = (*MemStore)(nil)
	_ StatsReporter = (*MemStore)(nil)
)

// MemStore implements Store using Go maps. Thread-safe via sync.RWMutex.
// Concepts are stored as deep copies to mimic serialization: mutating a
// concept after saving it never changes the stored snapshot.
type MemStore struct {
	mu       sync.RWMutex
	concepts map[string]*Concept
}

// NewMemStore returns an initialized MemStore ready for use.
func NewMemStore() *MemStore {
	return &MemStore{concepts: make(map[string]*Concept)}
}

// Initialize is a no-op for the in-memory store.
func (m *MemStore) Initialize(_ context.Context) error { return nil }

// SaveConcept stores a deep copy of the concept with invalid
// representations dropped, matching the durable adapters' write semantics.
func (m *MemStore) SaveConcept(_ context.Context, c *Concept) error {
	snapshot := c.Clone()
	snapshot.dropInvalidRepresentations()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.concepts[snapshot.ID] = snapshot
	return nil
}

// UpdateConcept is identical to SaveConcept (full-replace semantics).
func (m *MemStore) UpdateConcept(ctx context.Context, c *Concept) error {
	return m.SaveConcept(ctx, c)
}

// LoadConcept returns a copy of the stored concept, or nil if not found.
func (m *MemStore) LoadConcept(_ context.Context, id string) (*Concept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.concepts[id].Clone(), nil
}

// LoadAllConcepts returns copies of every stored concept.
func (m *MemStore) LoadAllConcepts(_ context.Context) ([]*Concept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Concept, 0, len(m.concepts))
	for _, c := range m.concepts {
		out = append(out, c.Clone())
	}
	return out, nil
}

// DeleteConcept removes the concept and, with it, all child data (a single
// map entry here; the durable adapters cascade through tables).
func (m *MemStore) DeleteConcept(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.concepts, id)
	return nil
}

// FindConceptsByName returns concepts owning a representation with the given
// name or whose canonical name matches it.
func (m *MemStore) FindConceptsByName(_ context.Context, name string) ([]*Concept, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Concept
	for _, c := range m.concepts {
		if c.CanonicalName == name {
			out = append(out, c.Clone())
			continue
		}
		if _, ok := c.Representations[name]; ok {
			out = append(out, c.Clone())
		}
	}
	return out, nil
}

// ConceptStatistics counts stored concepts and their child entries.
func (m *MemStore) ConceptStatistics(_ context.Context) (*StorageStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &StorageStats{Concepts: len(m.concepts)}
	for _, c := range m.concepts {
		stats.Representations += len(c.Representations)
		stats.Relations += len(c.Relations)
		stats.EvolutionRows += len(c.Evolution)
	}
	return stats, nil
}

// Close is a no-op for the in-memory store.
func (m *MemStore) Close() error { return nil }
