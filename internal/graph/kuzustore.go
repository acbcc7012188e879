//go:build cgo

package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	kuzu "github.com/kuzudb/go-kuzu"
)

// Compile-time assertions: *KuzuStore satisfies Store and NameFinder. It
// intentionally does not implement Maintainer, BackupCapable or
// StatsReporter; Kuzu manages its own storage maintenance, and callers get
// the no-op defaults through the capability checks.
var (
	_ Store      = (*KuzuStore)(nil)
	_ NameFinder = (*KuzuStore)(nil)
)

// KuzuStore is an alternative durable adapter backed by the embedded KuzuDB
// graph database. It requires CGO because the go-kuzu driver wraps KuzuDB's
// C library.
type KuzuStore struct {
	db   *kuzu.Database
	conn *kuzu.Connection
}

// NewKuzuStore creates a KuzuStore backed by an in-memory KuzuDB instance.
func NewKuzuStore() (*KuzuStore, error) {
	return openKuzu(":memory:")
}

// NewKuzuFileStore creates a KuzuStore at the given directory path, so the
// concept graph survives across sessions. KuzuDB creates the leaf directory
// itself for new databases.
func NewKuzuFileStore(dbPath string) (*KuzuStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("kuzu: create parent directory: %w", err)
	}
	return openKuzu(dbPath)
}

func openKuzu(path string) (*KuzuStore, error) {
	cfg := kuzu.DefaultSystemConfig()
	db, err := kuzu.OpenDatabase(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("kuzu: open database: %w", err)
	}
	conn, err := kuzu.OpenConnection(db)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("kuzu: open connection: %w", err)
	}
	return &KuzuStore{db: db, conn: conn}, nil
}

// Close releases the KuzuDB connection and database.
func (s *KuzuStore) Close() error {
	if s.conn != nil {
		s.conn.Close()
	}
	if s.db != nil {
		s.db.Close()
	}
	return nil
}

// kuzuDDL defines the persisted layout. Node tables must precede
// relationship tables. Concept metadata and signature travel as JSON string
// properties on the Concept node; representations and evolution entries are
// child nodes linked by rel tables so cascades stay explicit.
var kuzuDDL = []string{
	`CREATE NODE TABLE IF NOT EXISTS Concept(
		id STRING,
		canonical_name STRING,
		confidence DOUBLE,
		doc STRING,
		created_at STRING,
		updated_at STRING,
		PRIMARY KEY(id)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Representation(
		key STRING,
		name STRING,
		uri STRING,
		range_json STRING,
		first_seen STRING,
		last_seen STRING,
		occurrences INT64,
		context STRING,
		PRIMARY KEY(key)
	)`,
	`CREATE NODE TABLE IF NOT EXISTS Evolution(
		key STRING,
		seq INT64,
		ts STRING,
		change_type STRING,
		from_state STRING,
		to_state STRING,
		reason STRING,
		confidence DOUBLE,
		PRIMARY KEY(key)
	)`,
	`CREATE REL TABLE IF NOT EXISTS HAS_REPRESENTATION(FROM Concept TO Representation)`,
	`CREATE REL TABLE IF NOT EXISTS EVOLVED(FROM Concept TO Evolution)`,
	`CREATE REL TABLE IF NOT EXISTS RELATES(FROM Concept TO Concept,
		id STRING, rel_type STRING, confidence DOUBLE, evidence STRING, created_at STRING)`,
}

// kuzuDoc is the JSON document stored in the Concept.doc property.
type kuzuDoc struct {
	Signature Signature `json:"signature"`
	Metadata  Metadata  `json:"metadata"`
}

// Initialize creates the schema and scrubs representation nodes violating
// the location invariant.
func (s *KuzuStore) Initialize(ctx context.Context) error {
	for _, stmt := range kuzuDDL {
		res, err := s.conn.Query(stmt)
		if err != nil {
			return &StorageError{Op: "initialize", Err: fmt.Errorf("kuzu: init schema: %w", err)}
		}
		res.Close()
	}
	if err := s.scrubRepresentations(); err != nil {
		return &StorageError{Op: "initialize", Err: err}
	}
	return nil
}

func (s *KuzuStore) scrubRepresentations() error {
	rows, err := s.query(`MATCH (r:Representation) RETURN r.key, r.uri, r.range_json`, nil)
	if err != nil {
		return err
	}
	var bad []string
	for _, r := range rows {
		uri := asString(r[1])
		if uri == "" || !parseRange(asString(r[2])).Valid() {
			bad = append(bad, asString(r[0]))
		}
	}
	for _, key := range bad {
		if err := s.exec(
			`MATCH (r:Representation {key: $key}) DETACH DELETE r`,
			map[string]any{"key": key}); err != nil {
			return err
		}
	}
	if len(bad) > 0 {
		log.Printf("kuzu: scrubbed %d malformed representation node(s)", len(bad))
	}
	return nil
}

// SaveConcept is a full-replace write: child nodes and outgoing RELATES
// edges are deleted and rewritten; the Concept node itself is upserted in
// place so incoming edges from other concepts survive.
func (s *KuzuStore) SaveConcept(_ context.Context, c *Concept) error {
	if err := s.saveConcept(c); err != nil {
		return &StorageError{Op: "saveConcept", ConceptID: c.ID, Err: err}
	}
	return nil
}

// UpdateConcept is identical to SaveConcept (full-replace semantics).
func (s *KuzuStore) UpdateConcept(ctx context.Context, c *Concept) error {
	return s.SaveConcept(ctx, c)
}

func (s *KuzuStore) saveConcept(c *Concept) error {
	doc, err := json.Marshal(kuzuDoc{Signature: c.Signature, Metadata: c.Metadata})
	if err != nil {
		return fmt.Errorf("kuzu: encode concept doc: %w", err)
	}

	if err := s.exec(`
		MERGE (c:Concept {id: $id})
		SET c.canonical_name = $name,
		    c.confidence = $conf,
		    c.doc = $doc,
		    c.created_at = $created,
		    c.updated_at = $updated`,
		map[string]any{
			"id":      c.ID,
			"name":    c.CanonicalName,
			"conf":    c.Confidence,
			"doc":     string(doc),
			"created": encodeTime(c.CreatedAt),
			"updated": encodeTime(c.UpdatedAt),
		}); err != nil {
		return err
	}

	// Clear child state before rewriting.
	for _, cypher := range []string{
		`MATCH (c:Concept {id: $id})-[:HAS_REPRESENTATION]->(r) DETACH DELETE r`,
		`MATCH (c:Concept {id: $id})-[:EVOLVED]->(ev) DETACH DELETE ev`,
		`MATCH (c:Concept {id: $id})-[rel:RELATES]->() DELETE rel`,
	} {
		if err := s.exec(cypher, map[string]any{"id": c.ID}); err != nil {
			return err
		}
	}

	for _, rep := range c.Representations {
		if !rep.Valid() {
			continue
		}
		if err := s.exec(`
			MATCH (c:Concept {id: $id})
			CREATE (c)-[:HAS_REPRESENTATION]->(r:Representation {
				key: $key, name: $name, uri: $uri, range_json: $range,
				first_seen: $first, last_seen: $last,
				occurrences: $occ, context: $context
			})`,
			map[string]any{
				"id":      c.ID,
				"key":     c.ID + "::" + rep.Name,
				"name":    rep.Name,
				"uri":     rep.Location.URI,
				"range":   encodeRange(rep.Location.Range),
				"first":   encodeTime(rep.FirstSeen),
				"last":    encodeTime(rep.LastSeen),
				"occ":     int64(rep.Occurrences),
				"context": rep.Context,
			}); err != nil {
			return err
		}
	}

	for _, rel := range c.Relations {
		evidence, err := json.Marshal(rel.Evidence)
		if err != nil {
			return fmt.Errorf("kuzu: encode evidence: %w", err)
		}
		if err := s.exec(`
			MATCH (a:Concept {id: $from}), (b:Concept {id: $to})
			CREATE (a)-[:RELATES {
				id: $relID, rel_type: $type, confidence: $conf,
				evidence: $evidence, created_at: $created
			}]->(b)`,
			map[string]any{
				"from":     c.ID,
				"to":       rel.TargetID,
				"relID":    rel.ID,
				"type":     string(rel.Type),
				"conf":     rel.Confidence,
				"evidence": string(evidence),
				"created":  encodeTime(rel.CreatedAt),
			}); err != nil {
			return err
		}
	}

	for i, entry := range c.Evolution {
		if err := s.exec(`
			MATCH (c:Concept {id: $id})
			CREATE (c)-[:EVOLVED]->(ev:Evolution {
				key: $key, seq: $seq, ts: $ts, change_type: $type,
				from_state: $from, to_state: $to, reason: $reason, confidence: $conf
			})`,
			map[string]any{
				"id":     c.ID,
				"key":    uuid.NewString(),
				"seq":    int64(i),
				"ts":     encodeTime(entry.Timestamp),
				"type":   string(entry.Type),
				"from":   entry.FromState,
				"to":     entry.ToState,
				"reason": entry.Reason,
				"conf":   entry.Confidence,
			}); err != nil {
			return err
		}
	}
	return nil
}

// LoadConcept reads one concept with all child nodes, or nil if absent.
func (s *KuzuStore) LoadConcept(_ context.Context, id string) (*Concept, error) {
	c, err := s.loadConcept(id)
	if err != nil {
		return nil, &StorageError{Op: "loadConcept", ConceptID: id, Err: err}
	}
	return c, nil
}

// LoadAllConcepts reads every concept, skipping (with a log line) any whose
// stored state fails to deserialize.
func (s *KuzuStore) LoadAllConcepts(_ context.Context) ([]*Concept, error) {
	rows, err := s.query(`MATCH (c:Concept) RETURN c.id`, nil)
	if err != nil {
		return nil, &StorageError{Op: "loadAllConcepts", Err: err}
	}
	out := make([]*Concept, 0, len(rows))
	for _, r := range rows {
		id := asString(r[0])
		c, err := s.loadConcept(id)
		if err != nil {
			log.Printf("kuzu: skipping corrupt concept %s: %v", id, err)
			continue
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *KuzuStore) loadConcept(id string) (*Concept, error) {
	rows, err := s.query(`
		MATCH (c:Concept {id: $id})
		RETURN c.canonical_name, c.confidence, c.doc, c.created_at, c.updated_at`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	r := rows[0]
	c := &Concept{
		ID:              id,
		CanonicalName:   asString(r[0]),
		Confidence:      asFloat(r[1]),
		CreatedAt:       decodeTime(asString(r[3])),
		UpdatedAt:       decodeTime(asString(r[4])),
		Representations: make(map[string]Representation),
		Relations:       make(map[string]Relation),
	}
	if docStr := asString(r[2]); docStr != "" {
		var doc kuzuDoc
		if err := json.Unmarshal([]byte(docStr), &doc); err != nil {
			return nil, fmt.Errorf("kuzu: decode concept doc: %w", err)
		}
		c.Signature = doc.Signature
		c.Metadata = doc.Metadata
	}

	repRows, err := s.query(`
		MATCH (c:Concept {id: $id})-[:HAS_REPRESENTATION]->(r)
		RETURN r.name, r.uri, r.range_json, r.first_seen, r.last_seen, r.occurrences, r.context`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	for _, row := range repRows {
		rep := Representation{
			Name: asString(row[0]),
			Location: Location{
				URI:   asString(row[1]),
				Range: parseRange(asString(row[2])),
			},
			FirstSeen:   decodeTime(asString(row[3])),
			LastSeen:    decodeTime(asString(row[4])),
			Occurrences: asInt(row[5]),
			Context:     asString(row[6]),
		}
		if !rep.Valid() {
			log.Printf("kuzu: dropping malformed representation %q of concept %s", rep.Name, id)
			continue
		}
		c.Representations[rep.Name] = rep
	}

	relRows, err := s.query(`
		MATCH (a:Concept {id: $id})-[rel:RELATES]->(b:Concept)
		RETURN rel.id, b.id, rel.rel_type, rel.confidence, rel.evidence, rel.created_at`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	for _, row := range relRows {
		rel := Relation{
			ID:         asString(row[0]),
			TargetID:   asString(row[1]),
			Type:       RelationType(asString(row[2])),
			Confidence: asFloat(row[3]),
			CreatedAt:  decodeTime(asString(row[5])),
		}
		if evidenceStr := asString(row[4]); evidenceStr != "" {
			if err := json.Unmarshal([]byte(evidenceStr), &rel.Evidence); err != nil {
				return nil, fmt.Errorf("kuzu: decode evidence: %w", err)
			}
		}
		c.Relations[rel.TargetID] = rel
	}

	evRows, err := s.query(`
		MATCH (c:Concept {id: $id})-[:EVOLVED]->(ev)
		RETURN ev.seq, ev.ts, ev.change_type, ev.from_state, ev.to_state, ev.reason, ev.confidence
		ORDER BY ev.seq`,
		map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	for _, row := range evRows {
		c.Evolution = append(c.Evolution, EvolutionEntry{
			Timestamp:  decodeTime(asString(row[1])),
			Type:       ChangeType(asString(row[2])),
			FromState:  asString(row[3]),
			ToState:    asString(row[4]),
			Reason:     asString(row[5]),
			Confidence: asFloat(row[6]),
		})
	}
	return c, nil
}

// DeleteConcept removes the concept node and everything hanging off it:
// representations, evolution entries and RELATES edges in both directions.
func (s *KuzuStore) DeleteConcept(_ context.Context, id string) error {
	for _, cypher := range []string{
		`MATCH (c:Concept {id: $id})-[:HAS_REPRESENTATION]->(r) DETACH DELETE r`,
		`MATCH (c:Concept {id: $id})-[:EVOLVED]->(ev) DETACH DELETE ev`,
		`MATCH (c:Concept {id: $id}) DETACH DELETE c`,
	} {
		if err := s.exec(cypher, map[string]any{"id": id}); err != nil {
			return &StorageError{Op: "deleteConcept", ConceptID: id, Err: err}
		}
	}
	return nil
}

// FindConceptsByName loads concepts whose canonical name matches or that
// own a representation with the given name.
func (s *KuzuStore) FindConceptsByName(_ context.Context, name string) ([]*Concept, error) {
	ids := make(map[string]bool)
	rows, err := s.query(
		`MATCH (c:Concept {canonical_name: $name}) RETURN c.id`,
		map[string]any{"name": name})
	if err != nil {
		return nil, &StorageError{Op: "findConceptsByName", Err: err}
	}
	for _, r := range rows {
		ids[asString(r[0])] = true
	}
	rows, err = s.query(
		`MATCH (c:Concept)-[:HAS_REPRESENTATION]->(r:Representation {name: $name}) RETURN c.id`,
		map[string]any{"name": name})
	if err != nil {
		return nil, &StorageError{Op: "findConceptsByName", Err: err}
	}
	for _, r := range rows {
		ids[asString(r[0])] = true
	}

	out := make([]*Concept, 0, len(ids))
	for id := range ids {
		c, err := s.loadConcept(id)
		if err != nil {
			log.Printf("kuzu: skipping corrupt concept %s: %v", id, err)
			continue
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// ---------- Internal helpers ----------

// query prepares and runs one Cypher statement, collecting every result row
// as a []any in column order. A nil params map is fine; statements without
// result rows go through exec for readability.
func (s *KuzuStore) query(cypher string, params map[string]any) ([][]any, error) {
	stmt, err := s.conn.Prepare(cypher)
	if err != nil {
		return nil, fmt.Errorf("kuzu: prepare: %w", err)
	}
	defer stmt.Close()
	if params == nil {
		params = map[string]any{}
	}
	res, err := s.conn.Execute(stmt, params)
	if err != nil {
		return nil, fmt.Errorf("kuzu: execute: %w", err)
	}
	defer res.Close()

	var rows [][]any
	for res.HasNext() {
		tuple, err := res.Next()
		if err != nil {
			return nil, fmt.Errorf("kuzu: next: %w", err)
		}
		vals, err := tuple.GetAsSlice()
		if err != nil {
			return nil, fmt.Errorf("kuzu: row values: %w", err)
		}
		rows = append(rows, vals)
	}
	return rows, nil
}

func (s *KuzuStore) exec(cypher string, params map[string]any) error {
	_, err := s.query(cypher, params)
	return err
}

// Columns in this schema are STRING, INT64 or DOUBLE; the coercions stay
// narrow and map NULL to the zero value.

func asString(v any) string {
	str, _ := v.(string)
	return str
}

func asInt(v any) int {
	n, _ := v.(int64)
	return int(n)
}

func asFloat(v any) float64 {
	f, _ := v.(float64)
	return f
}
