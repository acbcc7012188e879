package graph

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failStore returns a fixed error from every operation.
type failStore struct {
	err error
}

func (f *failStore) Initialize(context.Context) error { return f.err }

func (f *failStore) SaveConcept(context.Context, *Concept) error { return f.err }

func (f *failStore) UpdateConcept(context.Context, *Concept) error { return f.err }

func (f *failStore) DeleteConcept(context.Context, string) error { return f.err }

func (f *failStore) Close() error { return f.err }

func (f *failStore) LoadConcept(context.Context, string) (*Concept, error) {
	return nil, f.err
}

func (f *failStore) LoadAllConcepts(context.Context) ([]*Concept, error) {
	return nil, f.err
}

func TestInstrumentedStore_RecordsCounts(t *testing.T) {
	s := NewInstrumentedStore(NewMemStore())
	ctx := context.Background()

	require.NoError(t, s.Initialize(ctx))
	require.NoError(t, s.SaveConcept(ctx, testConcept("c1", "Alpha", "src/a.go")))
	require.NoError(t, s.SaveConcept(ctx, testConcept("c2", "Beta", "src/b.go")))
	got, err := s.LoadConcept(ctx, "c1")
	require.NoError(t, err)
	require.NotNil(t, got)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats["initialize"].Count)
	assert.Equal(t, int64(2), stats["saveConcept"].Count)
	assert.Equal(t, int64(1), stats["loadConcept"].Count)
	assert.Zero(t, stats["saveConcept"].Errors)
	assert.GreaterOrEqual(t, stats["saveConcept"].Max, stats["saveConcept"].Min)
	assert.GreaterOrEqual(t, stats["saveConcept"].Total, stats["saveConcept"].Max)
}

func TestInstrumentedStore_RecordsErrors(t *testing.T) {
	boom := errors.New("disk on fire")
	s := NewInstrumentedStore(&failStore{err: boom})
	ctx := context.Background()

	assert.ErrorIs(t, s.SaveConcept(ctx, testConcept("c1", "Alpha", "src/a.go")), boom)
	_, err := s.LoadAllConcepts(ctx)
	assert.ErrorIs(t, err, boom)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats["saveConcept"].Errors)
	assert.Equal(t, int64(1), stats["loadAllConcepts"].Errors)
}

func TestInstrumentedStore_Percentiles(t *testing.T) {
	s := NewInstrumentedStore(NewMemStore())
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, s.SaveConcept(ctx, testConcept("c1", "Alpha", "src/a.go")))
	}

	st := s.Stats()["saveConcept"]
	assert.Equal(t, int64(50), st.Count)
	assert.LessOrEqual(t, st.P50, st.P95)
	assert.LessOrEqual(t, st.P95, st.P99)
	assert.LessOrEqual(t, st.P99, st.Max)
	assert.LessOrEqual(t, st.Min, st.P50)
}

func TestInstrumentedStore_ReservoirStaysBounded(t *testing.T) {
	rec := &opRecord{}
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 10_000; i++ {
		rec.observe(time.Duration(i), rng, nil)
	}
	assert.Len(t, rec.samples, reservoirCapacity)
	assert.Equal(t, int64(10_000), rec.count)
	assert.Equal(t, time.Duration(0), rec.min)
	assert.Equal(t, time.Duration(9_999), rec.max)
}

func TestInstrumentedStore_CapabilityAbsenceIsNoOp(t *testing.T) {
	// MemStore implements neither Maintainer nor BackupCapable.
	s := NewInstrumentedStore(NewMemStore())
	ctx := context.Background()

	require.NoError(t, s.Vacuum(ctx))
	require.NoError(t, s.Analyze(ctx))
	require.NoError(t, s.Backup(ctx, filepath.Join(t.TempDir(), "nowhere.db")))

	stats := s.Stats()
	assert.NotContains(t, stats, "vacuum", "a skipped capability records nothing")
	assert.NotContains(t, stats, "backup")
}

func TestInstrumentedStore_CapabilityPassthrough(t *testing.T) {
	inner, _ := newTestSQLiteStore(t)
	s := NewInstrumentedStore(inner)
	ctx := context.Background()

	require.NoError(t, s.SaveConcept(ctx, testConcept("c1", "Alpha", "src/a.go")))
	require.NoError(t, s.Vacuum(ctx))

	found, err := s.FindConceptsByName(ctx, "Alpha")
	require.NoError(t, err)
	require.Len(t, found, 1)

	reported, err := s.ConceptStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, reported.Concepts)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats["vacuum"].Count)
	assert.Equal(t, int64(1), stats["findConceptsByName"].Count)
	assert.Equal(t, int64(1), stats["conceptStatistics"].Count)
}

func TestInstrumentedStore_WrapsEngineTransparently(t *testing.T) {
	s := NewInstrumentedStore(NewMemStore())
	ctx := context.Background()

	e, err := NewEngine(ctx, Options{Store: s})
	require.NoError(t, err)
	defer e.Dispose()

	require.NoError(t, e.AddConcept(ctx, testConcept("c1", "Alpha", "src/a.go")))
	got, err := e.Resolve(ctx, "Alpha")
	require.NoError(t, err)
	require.NotNil(t, got)

	stats := s.Stats()
	assert.Equal(t, int64(1), stats["initialize"].Count)
	assert.Equal(t, int64(1), stats["loadAllConcepts"].Count)
	assert.Equal(t, int64(1), stats["saveConcept"].Count)
}
