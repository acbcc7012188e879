package graph

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Compile-time assertions: *SQLiteStore satisfies Store and every optional
// capability.
var (
	_ Store         = (*SQLiteStore)(nil)
	_ NameFinder    = (*SQLiteStore)(nil)
	_ Maintainer    = (*SQLiteStore)(nil)
	_ BackupCapable = (*SQLiteStore)(nil)
	_ StatsReporter = (*SQLiteStore)(nil)
)

// SQLiteStore is the reference durable adapter: five tables with cascading
// foreign keys, WAL journaling for crash-safety under concurrent readers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) a concept database at dbPath.
// The parent directory is created if it does not exist.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open database: %w", err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

// ddl defines the persisted layout. Order matters: child tables reference
// concepts(id) and rely on ON DELETE CASCADE for cleanup.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS concepts (
		id             TEXT PRIMARY KEY,
		canonical_name TEXT NOT NULL,
		confidence     REAL NOT NULL DEFAULT 0,
		metadata       TEXT,
		created_at     TEXT NOT NULL,
		updated_at     TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS representations (
		concept_id     TEXT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
		name           TEXT NOT NULL,
		location_uri   TEXT NOT NULL,
		location_range TEXT NOT NULL,
		first_seen     TEXT NOT NULL,
		last_seen      TEXT NOT NULL,
		occurrences    INTEGER NOT NULL DEFAULT 1,
		context        TEXT,
		PRIMARY KEY (concept_id, name)
	)`,
	`CREATE TABLE IF NOT EXISTS relations (
		id              TEXT PRIMARY KEY,
		from_concept_id TEXT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
		to_concept_id   TEXT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
		relation_type   TEXT NOT NULL,
		confidence      REAL NOT NULL DEFAULT 0,
		evidence        TEXT,
		created_at      TEXT NOT NULL,
		UNIQUE (from_concept_id, to_concept_id)
	)`,
	`CREATE TABLE IF NOT EXISTS evolution_history (
		concept_id  TEXT NOT NULL REFERENCES concepts(id) ON DELETE CASCADE,
		timestamp   TEXT NOT NULL,
		change_type TEXT NOT NULL,
		from_state  TEXT,
		to_state    TEXT,
		reason      TEXT,
		confidence  REAL NOT NULL DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS concept_metadata (
		concept_id    TEXT PRIMARY KEY REFERENCES concepts(id) ON DELETE CASCADE,
		category      TEXT,
		tags          TEXT,
		is_interface  INTEGER NOT NULL DEFAULT 0,
		is_abstract   INTEGER NOT NULL DEFAULT 0,
		is_deprecated INTEGER NOT NULL DEFAULT 0,
		documentation TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_representations_name ON representations(name)`,
	`CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(to_concept_id)`,
}

// Initialize creates the schema and scrubs representation rows that violate
// the location invariant. Malformed data introduced by out-of-band writes is
// therefore self-healing on next start.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return &StorageError{Op: "initialize", Err: fmt.Errorf("sqlite: create schema: %w", err)}
		}
	}
	if err := s.scrubRepresentations(ctx); err != nil {
		return &StorageError{Op: "initialize", Err: err}
	}
	return nil
}

// scrubRepresentations deletes rows whose location URI is empty or whose
// range does not parse into four non-negative integers.
func (s *SQLiteStore) scrubRepresentations(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT rowid, location_uri, location_range FROM representations`)
	if err != nil {
		return fmt.Errorf("sqlite: scan representations: %w", err)
	}
	defer rows.Close()

	var bad []int64
	for rows.Next() {
		var rowid int64
		var uri, rangeJSON string
		if err := rows.Scan(&rowid, &uri, &rangeJSON); err != nil {
			return fmt.Errorf("sqlite: scan representation row: %w", err)
		}
		if uri == "" || !parseRange(rangeJSON).Valid() {
			bad = append(bad, rowid)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sqlite: iterate representations: %w", err)
	}
	for _, rowid := range bad {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM representations WHERE rowid = ?`, rowid); err != nil {
			return fmt.Errorf("sqlite: delete malformed representation: %w", err)
		}
	}
	if len(bad) > 0 {
		log.Printf("sqlite: scrubbed %d malformed representation row(s)", len(bad))
	}
	return nil
}

// parseRange decodes a four-integer JSON array. Any parse failure yields an
// invalid range so the caller drops the row.
func parseRange(rangeJSON string) Range {
	var parts []int
	if err := json.Unmarshal([]byte(rangeJSON), &parts); err != nil || len(parts) != 4 {
		return Range{StartLine: -1, StartCol: -1, EndLine: -1, EndCol: -1}
	}
	return Range{StartLine: parts[0], StartCol: parts[1], EndLine: parts[2], EndCol: parts[3]}
}

func encodeRange(r Range) string {
	b, _ := json.Marshal([]int{r.StartLine, r.StartCol, r.EndLine, r.EndCol})
	return string(b)
}

// conceptDoc is the JSON document stored in the concepts.metadata column.
// It carries the parts of a concept that have no dedicated table.
type conceptDoc struct {
	Signature Signature `json:"signature"`
}

// SaveConcept writes the full concept state in one transaction: the concept
// row is upserted, all child rows are deleted and rewritten, the metadata
// row is upserted. Invalid representations are silently excluded.
func (s *SQLiteStore) SaveConcept(ctx context.Context, c *Concept) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StorageError{Op: "saveConcept", ConceptID: c.ID, Err: fmt.Errorf("sqlite: begin: %w", err)}
	}
	if err := saveConceptTx(ctx, tx, c); err != nil {
		tx.Rollback()
		return &StorageError{Op: "saveConcept", ConceptID: c.ID, Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &StorageError{Op: "saveConcept", ConceptID: c.ID, Err: fmt.Errorf("sqlite: commit: %w", err)}
	}
	return nil
}

// UpdateConcept is identical to SaveConcept (full-replace semantics).
func (s *SQLiteStore) UpdateConcept(ctx context.Context, c *Concept) error {
	return s.SaveConcept(ctx, c)
}

func saveConceptTx(ctx context.Context, tx *sql.Tx, c *Concept) error {
	doc, err := json.Marshal(conceptDoc{Signature: c.Signature})
	if err != nil {
		return fmt.Errorf("sqlite: encode concept doc: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO concepts (id, canonical_name, confidence, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			canonical_name = excluded.canonical_name,
			confidence     = excluded.confidence,
			metadata       = excluded.metadata,
			updated_at     = excluded.updated_at`,
		c.ID, c.CanonicalName, c.Confidence, string(doc),
		encodeTime(c.CreatedAt), encodeTime(c.UpdatedAt)); err != nil {
		return fmt.Errorf("sqlite: upsert concept: %w", err)
	}

	for _, table := range []string{"representations", "evolution_history"} {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE concept_id = ?`, c.ID); err != nil {
			return fmt.Errorf("sqlite: clear %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM relations WHERE from_concept_id = ?`, c.ID); err != nil {
		return fmt.Errorf("sqlite: clear relations: %w", err)
	}

	for _, rep := range c.Representations {
		if !rep.Valid() {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO representations
				(concept_id, name, location_uri, location_range, first_seen, last_seen, occurrences, context)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, rep.Name, rep.Location.URI, encodeRange(rep.Location.Range),
			encodeTime(rep.FirstSeen), encodeTime(rep.LastSeen),
			rep.Occurrences, rep.Context); err != nil {
			return fmt.Errorf("sqlite: insert representation %q: %w", rep.Name, err)
		}
	}

	for _, rel := range c.Relations {
		evidence, err := json.Marshal(rel.Evidence)
		if err != nil {
			return fmt.Errorf("sqlite: encode evidence: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO relations
				(id, from_concept_id, to_concept_id, relation_type, confidence, evidence, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rel.ID, c.ID, rel.TargetID, string(rel.Type), rel.Confidence,
			string(evidence), encodeTime(rel.CreatedAt)); err != nil {
			return fmt.Errorf("sqlite: insert relation %s -> %s: %w", c.ID, rel.TargetID, err)
		}
	}

	for _, entry := range c.Evolution {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO evolution_history
				(concept_id, timestamp, change_type, from_state, to_state, reason, confidence)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, encodeTime(entry.Timestamp), string(entry.Type),
			entry.FromState, entry.ToState, entry.Reason, entry.Confidence); err != nil {
			return fmt.Errorf("sqlite: insert evolution entry: %w", err)
		}
	}

	tags, err := json.Marshal(c.Metadata.Tags)
	if err != nil {
		return fmt.Errorf("sqlite: encode tags: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO concept_metadata
			(concept_id, category, tags, is_interface, is_abstract, is_deprecated, documentation)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(concept_id) DO UPDATE SET
			category      = excluded.category,
			tags          = excluded.tags,
			is_interface  = excluded.is_interface,
			is_abstract   = excluded.is_abstract,
			is_deprecated = excluded.is_deprecated,
			documentation = excluded.documentation`,
		c.ID, c.Metadata.Category, string(tags),
		boolToInt(c.Metadata.IsInterface), boolToInt(c.Metadata.IsAbstract),
		boolToInt(c.Metadata.IsDeprecated), c.Metadata.Documentation); err != nil {
		return fmt.Errorf("sqlite: upsert metadata: %w", err)
	}
	return nil
}

// LoadConcept reads one concept with all child rows, or nil if absent.
func (s *SQLiteStore) LoadConcept(ctx context.Context, id string) (*Concept, error) {
	c, err := s.loadConcept(ctx, id)
	if err != nil {
		return nil, &StorageError{Op: "loadConcept", ConceptID: id, Err: err}
	}
	return c, nil
}

// LoadAllConcepts reads every concept. A concept whose rows fail to
// deserialize is logged and skipped so one corrupt row never aborts a bulk
// load.
func (s *SQLiteStore) LoadAllConcepts(ctx context.Context) ([]*Concept, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM concepts`)
	if err != nil {
		return nil, &StorageError{Op: "loadAllConcepts", Err: fmt.Errorf("sqlite: list concepts: %w", err)}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &StorageError{Op: "loadAllConcepts", Err: fmt.Errorf("sqlite: scan id: %w", err)}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &StorageError{Op: "loadAllConcepts", Err: fmt.Errorf("sqlite: iterate ids: %w", err)}
	}
	rows.Close()

	out := make([]*Concept, 0, len(ids))
	for _, id := range ids {
		c, err := s.loadConcept(ctx, id)
		if err != nil {
			log.Printf("sqlite: skipping corrupt concept %s: %v", id, err)
			continue
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *SQLiteStore) loadConcept(ctx context.Context, id string) (*Concept, error) {
	var (
		c         Concept
		doc       sql.NullString
		createdAt string
		updatedAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, canonical_name, confidence, metadata, created_at, updated_at
		FROM concepts WHERE id = ?`, id).
		Scan(&c.ID, &c.CanonicalName, &c.Confidence, &doc, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: read concept: %w", err)
	}
	if doc.Valid && doc.String != "" {
		var d conceptDoc
		if err := json.Unmarshal([]byte(doc.String), &d); err != nil {
			return nil, fmt.Errorf("sqlite: decode concept doc: %w", err)
		}
		c.Signature = d.Signature
	}
	c.CreatedAt = decodeTime(createdAt)
	c.UpdatedAt = decodeTime(updatedAt)
	c.Representations = make(map[string]Representation)
	c.Relations = make(map[string]Relation)

	if err := s.loadRepresentations(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.loadRelations(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.loadEvolution(ctx, &c); err != nil {
		return nil, err
	}
	if err := s.loadMetadata(ctx, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *SQLiteStore) loadRepresentations(ctx context.Context, c *Concept) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, location_uri, location_range, first_seen, last_seen, occurrences, context
		FROM representations WHERE concept_id = ?`, c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: read representations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rep        Representation
			rangeJSON  string
			firstSeen  string
			lastSeen   string
			contextStr sql.NullString
		)
		if err := rows.Scan(&rep.Name, &rep.Location.URI, &rangeJSON,
			&firstSeen, &lastSeen, &rep.Occurrences, &contextStr); err != nil {
			return fmt.Errorf("sqlite: scan representation: %w", err)
		}
		rep.Location.Range = parseRange(rangeJSON)
		rep.FirstSeen = decodeTime(firstSeen)
		rep.LastSeen = decodeTime(lastSeen)
		rep.Context = contextStr.String
		// Invalid rows are treated as absent, not as errors.
		if !rep.Valid() {
			log.Printf("sqlite: dropping malformed representation %q of concept %s", rep.Name, c.ID)
			continue
		}
		c.Representations[rep.Name] = rep
	}
	return rows.Err()
}

func (s *SQLiteStore) loadRelations(ctx context.Context, c *Concept) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, to_concept_id, relation_type, confidence, evidence, created_at
		FROM relations WHERE from_concept_id = ?`, c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: read relations: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			rel          Relation
			evidenceJSON sql.NullString
			createdAt    string
		)
		if err := rows.Scan(&rel.ID, &rel.TargetID, &rel.Type, &rel.Confidence,
			&evidenceJSON, &createdAt); err != nil {
			return fmt.Errorf("sqlite: scan relation: %w", err)
		}
		if evidenceJSON.Valid && evidenceJSON.String != "" {
			if err := json.Unmarshal([]byte(evidenceJSON.String), &rel.Evidence); err != nil {
				return fmt.Errorf("sqlite: decode evidence: %w", err)
			}
		}
		rel.CreatedAt = decodeTime(createdAt)
		c.Relations[rel.TargetID] = rel
	}
	return rows.Err()
}

func (s *SQLiteStore) loadEvolution(ctx context.Context, c *Concept) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, change_type, from_state, to_state, reason, confidence
		FROM evolution_history WHERE concept_id = ? ORDER BY rowid`, c.ID)
	if err != nil {
		return fmt.Errorf("sqlite: read evolution: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			entry     EvolutionEntry
			timestamp string
			from, to  sql.NullString
			reason    sql.NullString
		)
		if err := rows.Scan(&timestamp, &entry.Type, &from, &to, &reason, &entry.Confidence); err != nil {
			return fmt.Errorf("sqlite: scan evolution entry: %w", err)
		}
		entry.Timestamp = decodeTime(timestamp)
		entry.FromState = from.String
		entry.ToState = to.String
		entry.Reason = reason.String
		c.Evolution = append(c.Evolution, entry)
	}
	return rows.Err()
}

func (s *SQLiteStore) loadMetadata(ctx context.Context, c *Concept) error {
	var (
		category, tagsJSON, documentation sql.NullString
		isInterface, isAbstract, isDeprec int
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT category, tags, is_interface, is_abstract, is_deprecated, documentation
		FROM concept_metadata WHERE concept_id = ?`, c.ID).
		Scan(&category, &tagsJSON, &isInterface, &isAbstract, &isDeprec, &documentation)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("sqlite: read metadata: %w", err)
	}
	c.Metadata.Category = category.String
	c.Metadata.Documentation = documentation.String
	c.Metadata.IsInterface = isInterface != 0
	c.Metadata.IsAbstract = isAbstract != 0
	c.Metadata.IsDeprecated = isDeprec != 0
	if tagsJSON.Valid && tagsJSON.String != "" {
		if err := json.Unmarshal([]byte(tagsJSON.String), &c.Metadata.Tags); err != nil {
			return fmt.Errorf("sqlite: decode tags: %w", err)
		}
	}
	return nil
}

// DeleteConcept removes the concept row; representations, relations (both
// directions), evolution history and metadata follow through ON DELETE
// CASCADE.
func (s *SQLiteStore) DeleteConcept(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM concepts WHERE id = ?`, id); err != nil {
		return &StorageError{Op: "deleteConcept", ConceptID: id, Err: fmt.Errorf("sqlite: delete concept: %w", err)}
	}
	return nil
}

// FindConceptsByName loads concepts owning a representation with the given
// name or whose canonical name matches it.
func (s *SQLiteStore) FindConceptsByName(ctx context.Context, name string) ([]*Concept, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM concepts WHERE canonical_name = ?
		UNION
		SELECT concept_id FROM representations WHERE name = ?`, name, name)
	if err != nil {
		return nil, &StorageError{Op: "findConceptsByName", Err: fmt.Errorf("sqlite: query by name: %w", err)}
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, &StorageError{Op: "findConceptsByName", Err: fmt.Errorf("sqlite: scan id: %w", err)}
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, &StorageError{Op: "findConceptsByName", Err: err}
	}
	rows.Close()

	out := make([]*Concept, 0, len(ids))
	for _, id := range ids {
		c, err := s.loadConcept(ctx, id)
		if err != nil {
			log.Printf("sqlite: skipping corrupt concept %s: %v", id, err)
			continue
		}
		if c != nil {
			out = append(out, c)
		}
	}
	return out, nil
}

// ConceptStatistics reports persisted row counts per table.
func (s *SQLiteStore) ConceptStatistics(ctx context.Context) (*StorageStats, error) {
	stats := &StorageStats{}
	counts := []struct {
		table string
		dst   *int
	}{
		{"concepts", &stats.Concepts},
		{"representations", &stats.Representations},
		{"relations", &stats.Relations},
		{"evolution_history", &stats.EvolutionRows},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+c.table).Scan(c.dst); err != nil {
			return nil, &StorageError{Op: "conceptStatistics", Err: fmt.Errorf("sqlite: count %s: %w", c.table, err)}
		}
	}
	return stats, nil
}

// Vacuum rebuilds the database file. Blocking; schedule off the request path.
func (s *SQLiteStore) Vacuum(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM`); err != nil {
		return &StorageError{Op: "vacuum", Err: fmt.Errorf("sqlite: vacuum: %w", err)}
	}
	return nil
}

// Analyze refreshes the query planner statistics.
func (s *SQLiteStore) Analyze(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `ANALYZE`); err != nil {
		return &StorageError{Op: "analyze", Err: fmt.Errorf("sqlite: analyze: %w", err)}
	}
	return nil
}

// Backup writes a consistent copy of the database to destPath via VACUUM INTO.
func (s *SQLiteStore) Backup(ctx context.Context, destPath string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, destPath); err != nil {
		return &StorageError{Op: "backup", Err: fmt.Errorf("sqlite: vacuum into: %w", err)}
	}
	return nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- encoding helpers ---

func encodeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
