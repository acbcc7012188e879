package graph

// Mutation events are pushed to observers registered at engine construction.
// There is no implicit emitter inheritance; an observer is a plain callback
// and must not block, since it runs on the mutating goroutine.

// EventKind identifies the mutation that produced an event.
type EventKind string

const (
	EventConceptAdded   EventKind = "conceptAdded"
	EventConceptEvolved EventKind = "conceptEvolved"
	EventConceptsMerged EventKind = "conceptsMerged"
	EventConceptRemoved EventKind = "conceptRemoved"
)

// Event describes one committed mutation. ConceptID is the subject; for
// merges it is the primary and MergedIDs lists the absorbed concepts.
type Event struct {
	Kind      EventKind
	ConceptID string
	Change    ChangeType // set for conceptEvolved
	MergedIDs []string   // set for conceptsMerged
}

// Observer receives mutation events in commit order.
type Observer func(Event)

func (e *Engine) notify(ev Event) {
	for _, obs := range e.observers {
		obs(ev)
	}
}
