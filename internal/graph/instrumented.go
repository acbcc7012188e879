package graph

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"
)

// reservoirCapacity bounds the per-operation latency sample buffer.
const reservoirCapacity = 256

// Compile-time assertions: the decorator presents every capability; whether
// a call does real work depends on the wrapped store.
var (
	_ Store         = (*InstrumentedStore)(nil)
	_ NameFinder    = (*InstrumentedStore)(nil)
	_ Maintainer    = (*InstrumentedStore)(nil)
	_ BackupCapable = (*InstrumentedStore)(nil)
	_ StatsReporter = (*InstrumentedStore)(nil)
)

// OpStats is a snapshot of the recorded statistics for one operation.
type OpStats struct {
	Count  int64         `json:"count"`
	Errors int64         `json:"errors"`
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Total  time.Duration `json:"total"`
	P50    time.Duration `json:"p50"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
}

// opRecord accumulates statistics for one operation name. The sample buffer
// is a fixed-capacity reservoir: once full, a new sample replaces a
// uniformly random existing slot, keeping memory bounded over any stream.
type opRecord struct {
	count   int64
	errors  int64
	min     time.Duration
	max     time.Duration
	total   time.Duration
	samples []time.Duration
	seen    int64 // total samples offered to the reservoir
}

func (r *opRecord) observe(d time.Duration, rng *rand.Rand, err error) {
	r.count++
	if err != nil {
		r.errors++
	}
	r.total += d
	if r.count == 1 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
	r.seen++
	if len(r.samples) < reservoirCapacity {
		r.samples = append(r.samples, d)
		return
	}
	if slot := rng.Int63n(r.seen); slot < reservoirCapacity {
		r.samples[slot] = d
	}
}

// InstrumentedStore wraps any Store, recording per-operation latency and
// error statistics without altering semantics. Optional capabilities pass
// through only when the wrapped store provides them; otherwise the call is a
// no-op returning a default.
type InstrumentedStore struct {
	inner Store

	mu  sync.Mutex
	ops map[string]*opRecord
	rng *rand.Rand
}

// NewInstrumentedStore wraps inner with instrumentation.
func NewInstrumentedStore(inner Store) *InstrumentedStore {
	return &InstrumentedStore{
		inner: inner,
		ops:   make(map[string]*opRecord),
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// record times fn under the given operation name.
func (s *InstrumentedStore) record(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)

	s.mu.Lock()
	rec, ok := s.ops[op]
	if !ok {
		rec = &opRecord{}
		s.ops[op] = rec
	}
	rec.observe(elapsed, s.rng, err)
	s.mu.Unlock()
	return err
}

// Stats returns a snapshot of per-operation statistics. Percentiles are
// derived by sorting a copy of the reservoir.
func (s *InstrumentedStore) Stats() map[string]OpStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]OpStats, len(s.ops))
	for op, rec := range s.ops {
		st := OpStats{
			Count:  rec.count,
			Errors: rec.errors,
			Min:    rec.min,
			Max:    rec.max,
			Total:  rec.total,
		}
		if len(rec.samples) > 0 {
			sorted := make([]time.Duration, len(rec.samples))
			copy(sorted, rec.samples)
			sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
			st.P50 = percentile(sorted, 50)
			st.P95 = percentile(sorted, 95)
			st.P99 = percentile(sorted, 99)
		}
		out[op] = st
	}
	return out
}

func percentile(sorted []time.Duration, p int) time.Duration {
	idx := p * len(sorted) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

// --- Store contract ---

func (s *InstrumentedStore) Initialize(ctx context.Context) error {
	return s.record("initialize", func() error { return s.inner.Initialize(ctx) })
}

func (s *InstrumentedStore) SaveConcept(ctx context.Context, c *Concept) error {
	return s.record("saveConcept", func() error { return s.inner.SaveConcept(ctx, c) })
}

func (s *InstrumentedStore) UpdateConcept(ctx context.Context, c *Concept) error {
	return s.record("updateConcept", func() error { return s.inner.UpdateConcept(ctx, c) })
}

func (s *InstrumentedStore) LoadConcept(ctx context.Context, id string) (*Concept, error) {
	var c *Concept
	err := s.record("loadConcept", func() error {
		var err error
		c, err = s.inner.LoadConcept(ctx, id)
		return err
	})
	return c, err
}

func (s *InstrumentedStore) LoadAllConcepts(ctx context.Context) ([]*Concept, error) {
	var cs []*Concept
	err := s.record("loadAllConcepts", func() error {
		var err error
		cs, err = s.inner.LoadAllConcepts(ctx)
		return err
	})
	return cs, err
}

func (s *InstrumentedStore) DeleteConcept(ctx context.Context, id string) error {
	return s.record("deleteConcept", func() error { return s.inner.DeleteConcept(ctx, id) })
}

func (s *InstrumentedStore) Close() error {
	return s.record("close", func() error { return s.inner.Close() })
}

// --- Optional capabilities, passed through when present ---

func (s *InstrumentedStore) FindConceptsByName(ctx context.Context, name string) ([]*Concept, error) {
	finder, ok := s.inner.(NameFinder)
	if !ok {
		return nil, nil
	}
	var cs []*Concept
	err := s.record("findConceptsByName", func() error {
		var err error
		cs, err = finder.FindConceptsByName(ctx, name)
		return err
	})
	return cs, err
}

func (s *InstrumentedStore) Vacuum(ctx context.Context) error {
	m, ok := s.inner.(Maintainer)
	if !ok {
		return nil
	}
	return s.record("vacuum", func() error { return m.Vacuum(ctx) })
}

func (s *InstrumentedStore) Analyze(ctx context.Context) error {
	m, ok := s.inner.(Maintainer)
	if !ok {
		return nil
	}
	return s.record("analyze", func() error { return m.Analyze(ctx) })
}

func (s *InstrumentedStore) Backup(ctx context.Context, destPath string) error {
	b, ok := s.inner.(BackupCapable)
	if !ok {
		return nil
	}
	return s.record("backup", func() error { return b.Backup(ctx, destPath) })
}

func (s *InstrumentedStore) ConceptStatistics(ctx context.Context) (*StorageStats, error) {
	r, ok := s.inner.(StatsReporter)
	if !ok {
		return &StorageStats{}, nil
	}
	var stats *StorageStats
	err := s.record("conceptStatistics", func() error {
		var err error
		stats, err = r.ConceptStatistics(ctx)
		return err
	})
	return stats, err
}
