package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// SimilarityFunc scores how alike two identifiers are, in [0,1]. Supplied by
// an external collaborator; the default only recognizes case-insensitive
// equality.
type SimilarityFunc func(a, b string) float64

const (
	defaultRelationConfidence = 0.9
	fuzzyCandidateThreshold   = 0.5
	fuzzyAcceptThreshold      = 0.8
	canonicalNameWeight       = 0.9
)

// Options configures an Engine. Store is required; everything else has a
// usable default.
type Options struct {
	Store           Store
	Similarity      SimilarityFunc
	ContextProvider ContextProvider
	Observers       []Observer
}

// Engine owns the in-memory concept graph: the concept table, the
// name index and the adjacency indices. Every mutation is written through
// the persistence port before the call returns.
//
// Reads take the engine-wide RWMutex. Mutations additionally serialize per
// concept id through a keyed mutex, so two renames of the same concept never
// interleave even across the persistence await; mutations of distinct
// concepts still run concurrently.
type Engine struct {
	store      Store
	similarity SimilarityFunc
	provider   ContextProvider
	builder    *Builder
	observers  []Observer

	mu       sync.RWMutex
	concepts map[string]*Concept
	names    map[string][]string        // name -> concept ids, insertion order
	inbound  map[string]map[string]bool // target id -> set of source ids

	locks      keyedMutex
	inferGroup singleflight.Group
	now        func() time.Time
}

// NewEngine initializes the store, loads all persisted concepts (corrupt
// rows were already skipped by the adapter) and builds the in-memory
// indices.
func NewEngine(ctx context.Context, opts Options) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("engine: Options.Store is required")
	}
	e := &Engine{
		store:      opts.Store,
		similarity: opts.Similarity,
		provider:   opts.ContextProvider,
		builder:    NewBuilder(),
		observers:  opts.Observers,
		concepts:   make(map[string]*Concept),
		names:      make(map[string][]string),
		inbound:    make(map[string]map[string]bool),
		now:        time.Now,
	}
	if e.similarity == nil {
		e.similarity = defaultSimilarity
	}
	if err := e.store.Initialize(ctx); err != nil {
		return nil, err
	}
	loaded, err := e.store.LoadAllConcepts(ctx)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	for _, c := range loaded {
		e.indexLocked(c)
	}
	e.mu.Unlock()
	return e, nil
}

func defaultSimilarity(a, b string) float64 {
	if strings.EqualFold(a, b) {
		return 1.0
	}
	return 0.0
}

// --- indexing (callers hold e.mu) ---

func (e *Engine) indexLocked(c *Concept) {
	if c.Representations == nil {
		c.Representations = make(map[string]Representation)
	}
	if c.Relations == nil {
		c.Relations = make(map[string]Relation)
	}
	e.concepts[c.ID] = c
	e.addNameLocked(c.CanonicalName, c.ID)
	for name := range c.Representations {
		e.addNameLocked(name, c.ID)
	}
	for target := range c.Relations {
		e.addInboundLocked(target, c.ID)
	}
}

func (e *Engine) addNameLocked(name, id string) {
	for _, existing := range e.names[name] {
		if existing == id {
			return
		}
	}
	e.names[name] = append(e.names[name], id)
}

func (e *Engine) removeNameLocked(name, id string) {
	ids := e.names[name]
	for i, existing := range ids {
		if existing == id {
			e.names[name] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(e.names[name]) == 0 {
		delete(e.names, name)
	}
}

// removeAllNamesLocked drops every name-index entry owned by the concept.
func (e *Engine) removeAllNamesLocked(c *Concept) {
	e.removeNameLocked(c.CanonicalName, c.ID)
	for name := range c.Representations {
		e.removeNameLocked(name, c.ID)
	}
}

func (e *Engine) addInboundLocked(target, from string) {
	set, ok := e.inbound[target]
	if !ok {
		set = make(map[string]bool)
		e.inbound[target] = set
	}
	set[from] = true
}

func (e *Engine) removeInboundLocked(target, from string) {
	if set, ok := e.inbound[target]; ok {
		delete(set, from)
		if len(set) == 0 {
			delete(e.inbound, target)
		}
	}
}

// --- resolution ---

// Resolve finds the concept for an identifier: exact name-index hit first,
// then fuzzy similarity, then inference from external context. A nil result
// with a nil error means not-found.
func (e *Engine) Resolve(ctx context.Context, identifier string) (*Concept, error) {
	return e.resolve(ctx, identifier, true)
}

// ResolveStrict is Resolve without the inference fallback.
func (e *Engine) ResolveStrict(ctx context.Context, identifier string) (*Concept, error) {
	return e.resolve(ctx, identifier, false)
}

func (e *Engine) resolve(ctx context.Context, identifier string, inferIfMissing bool) (*Concept, error) {
	e.mu.RLock()
	if c := e.exactLookupLocked(identifier); c != nil {
		out := c.Clone()
		e.mu.RUnlock()
		return out, nil
	}
	if c := e.fuzzyLookupLocked(identifier); c != nil {
		out := c.Clone()
		e.mu.RUnlock()
		return out, nil
	}
	e.mu.RUnlock()

	if !inferIfMissing {
		return nil, nil
	}
	return e.infer(ctx, identifier)
}

// exactLookupLocked picks, among concepts sharing the name, the one whose
// representation under that name has the most occurrences; ties go to the
// first concept encountered.
func (e *Engine) exactLookupLocked(identifier string) *Concept {
	ids := e.names[identifier]
	if len(ids) == 0 {
		return nil
	}
	var best *Concept
	bestOcc := -1
	for _, id := range ids {
		c, ok := e.concepts[id]
		if !ok {
			continue
		}
		occ := 0
		if rep, ok := c.Representations[identifier]; ok {
			occ = rep.Occurrences
		}
		if occ > bestOcc {
			best = c
			bestOcc = occ
		}
	}
	return best
}

// fuzzyLookupLocked scores every concept against the identifier using the
// injected similarity function. Representation names score at full weight,
// the canonical name at 0.9. Only a best candidate above 0.8 resolves.
func (e *Engine) fuzzyLookupLocked(identifier string) *Concept {
	type candidate struct {
		concept *Concept
		score   float64
	}
	var candidates []candidate
	for _, c := range e.concepts {
		score := e.similarity(identifier, c.CanonicalName) * canonicalNameWeight
		for name := range c.Representations {
			if s := e.similarity(identifier, name); s > score {
				score = s
			}
		}
		if score > fuzzyCandidateThreshold {
			candidates = append(candidates, candidate{concept: c, score: score})
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].concept.ID < candidates[j].concept.ID
	})
	if candidates[0].score > fuzzyAcceptThreshold {
		return candidates[0].concept
	}
	return nil
}

// infer gathers external context and synthesizes a new concept. Without a
// context provider there is no evidence to build from, so inference reports
// not-found. Concurrent inferences of the same identifier are collapsed
// into one.
func (e *Engine) infer(ctx context.Context, identifier string) (*Concept, error) {
	if e.provider == nil {
		return nil, nil
	}
	v, err, _ := e.inferGroup.Do(identifier, func() (any, error) {
		// Another inference may have completed while we queued.
		e.mu.RLock()
		existing := e.exactLookupLocked(identifier)
		e.mu.RUnlock()
		if existing != nil {
			return existing.Clone(), nil
		}

		sctx, err := e.provider.GatherContext(identifier)
		if err != nil {
			log.Printf("engine: context gathering failed for %q: %v", identifier, err)
			return nil, nil
		}
		c := e.builder.Build(identifier, sctx)
		if err := e.AddConcept(ctx, c); err != nil {
			return nil, err
		}
		return c.Clone(), nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Concept), nil
}

// --- mutations ---

// AddConcept validates, indexes and persists a new concept, then signals
// conceptAdded. Invalid representations are dropped up front so memory and
// storage never disagree after a restart.
func (e *Engine) AddConcept(ctx context.Context, c *Concept) error {
	if c == nil || c.ID == "" {
		return &ValidationError{Component: "engine", Op: "addConcept", Reason: "missing concept id"}
	}
	if c.CanonicalName == "" {
		return &ValidationError{Component: "engine", Op: "addConcept", ConceptID: c.ID, Reason: "missing canonical name"}
	}

	own := c.Clone()
	if dropped := own.dropInvalidRepresentations(); dropped > 0 {
		log.Printf("engine: dropped %d invalid representation(s) from concept %s", dropped, own.ID)
	}
	if own.CreatedAt.IsZero() {
		own.CreatedAt = e.now()
	}
	own.UpdatedAt = e.now()

	unlock := e.locks.lock(own.ID)
	defer unlock()

	e.mu.Lock()
	// Relation targets must exist up front: the adapters disagree on what a
	// dangling edge does to a write (FK rejection vs silent no-op), so it is
	// rejected here before any state changes.
	for target := range own.Relations {
		if target == own.ID {
			continue
		}
		if _, ok := e.concepts[target]; !ok {
			e.mu.Unlock()
			return &NotFoundError{Component: "engine", Op: "addConcept", ConceptID: target}
		}
	}
	if prev, ok := e.concepts[own.ID]; ok {
		// Re-adding an existing id replaces it wholesale.
		e.removeAllNamesLocked(prev)
		for target := range prev.Relations {
			e.removeInboundLocked(target, prev.ID)
		}
	}
	e.indexLocked(own)
	snapshot := own.Clone()
	e.mu.Unlock()

	if err := e.store.SaveConcept(ctx, snapshot); err != nil {
		return err
	}
	e.notify(Event{Kind: EventConceptAdded, ConceptID: own.ID})
	return nil
}

// AddRelation creates or overwrites the directed edge fromID -> toID and
// persists the from-side concept. A zero confidence selects the default 0.9.
func (e *Engine) AddRelation(ctx context.Context, fromID, toID string, typ RelationType, confidence float64, evidence []string) error {
	unlock := e.locks.lock(fromID)
	defer unlock()
	if err := e.insertRelation(fromID, toID, typ, confidence, evidence); err != nil {
		return err
	}
	return e.persist(ctx, fromID)
}

// insertRelation performs the in-memory edge update. The caller holds the
// per-id lock for fromID; e.mu is taken here.
func (e *Engine) insertRelation(fromID, toID string, typ RelationType, confidence float64, evidence []string) error {
	if confidence == 0 {
		confidence = defaultRelationConfidence
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	from, ok := e.concepts[fromID]
	if !ok {
		return &NotFoundError{Component: "engine", Op: "addRelation", ConceptID: fromID}
	}
	if _, ok := e.concepts[toID]; !ok {
		return &NotFoundError{Component: "engine", Op: "addRelation", ConceptID: toID}
	}
	from.Relations[toID] = Relation{
		ID:         uuid.NewString(),
		TargetID:   toID,
		Type:       typ,
		Confidence: confidence,
		Evidence:   append([]string(nil), evidence...),
		CreatedAt:  e.now(),
	}
	from.UpdatedAt = e.now()
	e.addInboundLocked(toID, fromID)
	return nil
}

// Change describes one evolution step applied through Evolve.
type Change struct {
	ConceptID    string
	Type         ChangeType
	NewName      string         // rename
	NewSignature *Signature     // signature
	Relation     *RelationSpec  // relation
	NewLocation  string         // move: target uri for every representation
	Reason       string
}

// RelationSpec is the relation payload of a relation-type Change.
type RelationSpec struct {
	TargetID   string
	Type       RelationType
	Confidence float64
	Evidence   []string
}

// Evolve applies a state transition to a concept, appends an evolution
// history entry and persists. The rename path never fabricates a
// representation for a concept that has none; the move path rejects an
// empty target, leaving existing locations untouched.
func (e *Engine) Evolve(ctx context.Context, change Change) error {
	unlock := e.locks.lock(change.ConceptID)
	defer unlock()

	e.mu.Lock()
	c, ok := e.concepts[change.ConceptID]
	if !ok {
		e.mu.Unlock()
		return &NotFoundError{Component: "engine", Op: "evolve", ConceptID: change.ConceptID}
	}

	var entry EvolutionEntry
	switch change.Type {
	case ChangeRename:
		if change.NewName == "" {
			e.mu.Unlock()
			return &ValidationError{Component: "engine", Op: "evolve", ConceptID: c.ID, Reason: "rename requires a new name"}
		}
		entry = e.applyRenameLocked(c, change)
	case ChangeSignature:
		if change.NewSignature == nil {
			e.mu.Unlock()
			return &ValidationError{Component: "engine", Op: "evolve", ConceptID: c.ID, Reason: "signature change requires a signature"}
		}
		entry = EvolutionEntry{
			Type:      ChangeSignature,
			FromState: c.Signature.Fingerprint,
			ToState:   change.NewSignature.Fingerprint,
			Reason:    change.Reason,
		}
		c.Signature = *change.NewSignature
	case ChangeRelation:
		if change.Relation == nil {
			e.mu.Unlock()
			return &ValidationError{Component: "engine", Op: "evolve", ConceptID: c.ID, Reason: "relation change requires a relation"}
		}
		e.mu.Unlock()
		spec := change.Relation
		if err := e.insertRelation(c.ID, spec.TargetID, spec.Type, spec.Confidence, spec.Evidence); err != nil {
			return err
		}
		e.mu.Lock()
		entry = EvolutionEntry{
			Type:      ChangeRelation,
			FromState: c.CanonicalName,
			ToState:   spec.TargetID,
			Reason:    change.Reason,
		}
	case ChangeMove:
		// Guard: an empty target must leave existing locations untouched.
		if change.NewLocation == "" {
			e.mu.Unlock()
			return &ValidationError{Component: "engine", Op: "evolve", ConceptID: c.ID, Reason: "move requires a target location"}
		}
		entry = e.applyMoveLocked(c, change)
	default:
		e.mu.Unlock()
		return &ValidationError{Component: "engine", Op: "evolve", ConceptID: c.ID,
			Reason: fmt.Sprintf("unknown change type %q", change.Type)}
	}

	entry.Timestamp = e.now()
	entry.Confidence = defaultRelationConfidence
	if entry.Reason == "" {
		entry.Reason = fmt.Sprintf("%s: %s -> %s", change.Type, entry.FromState, entry.ToState)
	}
	c.Evolution = append(c.Evolution, entry)
	c.UpdatedAt = e.now()
	e.mu.Unlock()

	if err := e.persist(ctx, change.ConceptID); err != nil {
		return err
	}
	e.notify(Event{Kind: EventConceptEvolved, ConceptID: change.ConceptID, Change: change.Type})
	return nil
}

// applyRenameLocked drops every current name-index entry, sets the new
// canonical name and, when the concept has at least one representation,
// clones an existing location onto a representation for the new name. Stale
// representations are dropped, not just unindexed: a restarted engine
// rebuilds the name index from persisted representations, so any old name
// kept here would resolve again after a reload.
func (e *Engine) applyRenameLocked(c *Concept, change Change) EvolutionEntry {
	oldName := c.CanonicalName
	e.removeAllNamesLocked(c)
	c.CanonicalName = change.NewName

	if len(c.Representations) > 0 {
		var donor Representation
		for _, rep := range c.Representations {
			donor = rep
			break
		}
		now := e.now()
		c.Representations = map[string]Representation{
			change.NewName: {
				Name:        change.NewName,
				Location:    donor.Location,
				FirstSeen:   now,
				LastSeen:    now,
				Occurrences: 1,
			},
		}
	}
	e.addNameLocked(change.NewName, c.ID)

	return EvolutionEntry{
		Type:      ChangeRename,
		FromState: oldName,
		ToState:   change.NewName,
		Reason:    change.Reason,
	}
}

// applyMoveLocked points every representation at the new URI. Ranges are
// preserved; only the file changed.
func (e *Engine) applyMoveLocked(c *Concept, change Change) EvolutionEntry {
	fromURI := ""
	for name, rep := range c.Representations {
		if fromURI == "" {
			fromURI = rep.Location.URI
		}
		rep.Location.URI = change.NewLocation
		c.Representations[name] = rep
	}
	return EvolutionEntry{
		Type:      ChangeMove,
		FromState: fromURI,
		ToState:   change.NewLocation,
		Reason:    change.Reason,
	}
}

// Merge absorbs every non-primary concept into the primary. The primary
// wins ties: a representation name or relation target it already has is
// kept as-is. Evolution histories concatenate. Merged concepts are then
// fully removed, with cascading deletes in storage.
func (e *Engine) Merge(ctx context.Context, conceptIDs []string, primaryID string) error {
	ids := append([]string(nil), conceptIDs...)
	found := false
	for _, id := range ids {
		if id == primaryID {
			found = true
			break
		}
	}
	if !found {
		ids = append(ids, primaryID)
	}
	unlock := e.locks.lockAll(ids)
	defer unlock()

	e.mu.Lock()
	primary, ok := e.concepts[primaryID]
	if !ok {
		e.mu.Unlock()
		return &NotFoundError{Component: "engine", Op: "merge", ConceptID: primaryID}
	}
	var merged []*Concept
	for _, id := range conceptIDs {
		if id == primaryID {
			continue
		}
		c, ok := e.concepts[id]
		if !ok {
			e.mu.Unlock()
			return &NotFoundError{Component: "engine", Op: "merge", ConceptID: id}
		}
		merged = append(merged, c)
	}

	removing := make(map[string]bool, len(merged))
	for _, c := range merged {
		removing[c.ID] = true
	}

	for _, c := range merged {
		for name, rep := range c.Representations {
			if _, exists := primary.Representations[name]; exists {
				continue
			}
			primary.Representations[name] = rep
			e.addNameLocked(name, primaryID)
		}
		for target, rel := range c.Relations {
			// Edges into the merged set would dangle after removal.
			if target == primaryID || removing[target] {
				continue
			}
			if _, exists := primary.Relations[target]; exists {
				continue
			}
			primary.Relations[target] = rel
			e.addInboundLocked(target, primaryID)
		}
		primary.Evolution = append(primary.Evolution, c.Evolution...)
	}
	for _, c := range merged {
		e.removeLocked(c)
	}
	primary.UpdatedAt = e.now()
	e.mu.Unlock()

	for _, c := range merged {
		if err := e.store.DeleteConcept(ctx, c.ID); err != nil {
			return err
		}
	}
	if err := e.persist(ctx, primaryID); err != nil {
		return err
	}
	mergedIDs := make([]string, 0, len(merged))
	for _, c := range merged {
		mergedIDs = append(mergedIDs, c.ID)
	}
	e.notify(Event{Kind: EventConceptsMerged, ConceptID: primaryID, MergedIDs: mergedIDs})
	return nil
}

// Remove deletes a concept from every index, from memory and from storage
// (cascading). Edges pointing at the removed concept are dropped from their
// source concepts in memory; their persisted rows die with the cascade.
func (e *Engine) Remove(ctx context.Context, conceptID string) error {
	unlock := e.locks.lock(conceptID)
	defer unlock()

	e.mu.Lock()
	c, ok := e.concepts[conceptID]
	if !ok {
		e.mu.Unlock()
		return &NotFoundError{Component: "engine", Op: "remove", ConceptID: conceptID}
	}
	e.removeLocked(c)
	e.mu.Unlock()

	if err := e.store.DeleteConcept(ctx, conceptID); err != nil {
		return err
	}
	e.notify(Event{Kind: EventConceptRemoved, ConceptID: conceptID})
	return nil
}

// removeLocked unindexes and forgets a concept. Caller holds e.mu.
func (e *Engine) removeLocked(c *Concept) {
	e.removeAllNamesLocked(c)
	// Outgoing edges: forget the reverse index entries.
	for target := range c.Relations {
		e.removeInboundLocked(target, c.ID)
	}
	// Incoming edges: drop the dangling forward references of other concepts.
	for fromID := range e.inbound[c.ID] {
		if from, ok := e.concepts[fromID]; ok {
			delete(from.Relations, c.ID)
		}
	}
	delete(e.inbound, c.ID)
	delete(e.concepts, c.ID)
}

// persist writes the current snapshot of a concept through the port.
func (e *Engine) persist(ctx context.Context, id string) error {
	e.mu.RLock()
	c, ok := e.concepts[id]
	var snapshot *Concept
	if ok {
		snapshot = c.Clone()
	}
	e.mu.RUnlock()
	if snapshot == nil {
		return nil
	}
	return e.store.UpdateConcept(ctx, snapshot)
}

// --- queries ---

// Concept returns a copy of the concept with the given id, or nil.
func (e *Engine) Concept(id string) *Concept {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.concepts[id].Clone()
}

// Statistics aggregates in-memory graph counts, plus persisted row counts
// when the store reports them.
func (e *Engine) Statistics(ctx context.Context) (*GraphStats, error) {
	e.mu.RLock()
	stats := &GraphStats{
		ConceptCount: len(e.concepts),
		Categories:   make(map[string]int),
	}
	var confSum float64
	for _, c := range e.concepts {
		stats.RelationCount += len(c.Relations)
		stats.RepresentationCount += len(c.Representations)
		confSum += c.Confidence
		if c.Metadata.Category != "" {
			stats.Categories[c.Metadata.Category]++
		}
	}
	if stats.ConceptCount > 0 {
		stats.AverageConfidence = confSum / float64(stats.ConceptCount)
	}
	e.mu.RUnlock()

	if reporter, ok := e.store.(StatsReporter); ok {
		storage, err := reporter.ConceptStatistics(ctx)
		if err != nil {
			return nil, err
		}
		stats.Storage = storage
	}
	return stats, nil
}

// ImportConcept adds a concept from its JSON encoding. Invalid
// representations in the payload are dropped, not imported.
func (e *Engine) ImportConcept(ctx context.Context, raw []byte) (*Concept, error) {
	var c Concept
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, &ValidationError{Component: "engine", Op: "importConcept", Reason: err.Error()}
	}
	if err := e.AddConcept(ctx, &c); err != nil {
		return nil, err
	}
	return e.Concept(c.ID), nil
}

// ImportGraph adds every concept from a JSON-encoded concept list, the
// encoding ExportConcepts produces. Nodes go in before edges so relations may
// reference concepts that appear later in the list; relation ids and
// timestamps are re-minted on the way in.
func (e *Engine) ImportGraph(ctx context.Context, raw []byte) error {
	var concepts []*Concept
	if err := json.Unmarshal(raw, &concepts); err != nil {
		return &ValidationError{Component: "engine", Op: "importGraph", Reason: err.Error()}
	}
	for _, c := range concepts {
		node := c.Clone()
		node.Relations = nil
		if err := e.AddConcept(ctx, node); err != nil {
			return err
		}
	}
	for _, c := range concepts {
		for _, rel := range c.Relations {
			if err := e.AddRelation(ctx, c.ID, rel.TargetID, rel.Type, rel.Confidence, rel.Evidence); err != nil {
				return err
			}
		}
	}
	return nil
}

// ExportConcepts returns deep copies of every concept, ordered by id for
// deterministic output.
func (e *Engine) ExportConcepts() []*Concept {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Concept, 0, len(e.concepts))
	for _, c := range e.concepts {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Dispose releases the underlying store. The engine must not be used after.
func (e *Engine) Dispose() error {
	return e.store.Close()
}

// --- per-concept mutation serialization ---

// keyedMutex hands out one mutex per concept id, created on demand and
// garbage-collected when the last holder releases it.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// lockAll acquires the per-id locks for a set of keys in sorted order so
// concurrent multi-key operations cannot deadlock.
func (k *keyedMutex) lockAll(keys []string) (unlock func()) {
	uniq := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			uniq = append(uniq, key)
		}
	}
	sort.Strings(uniq)
	unlocks := make([]func(), 0, len(uniq))
	for _, key := range uniq {
		unlocks = append(unlocks, k.lock(key))
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}
