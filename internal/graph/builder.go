package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/google/uuid"
)

// SymbolContext is the external evidence available when inferring a new
// concept: an optional source location, an optional AST summary and any
// usage snippets the search layers produced. All fields may be zero.
type SymbolContext struct {
	Location   *Location
	NodeKind   string      // AST node kind, e.g. "function_declaration"
	Parameters []Parameter // parsed from the AST, if available
	ReturnType string
	Usages     []string // surrounding-code snippets where the identifier occurs
	Doc        string
}

// ContextProvider gathers SymbolContext for an identifier. Implemented by
// the text/AST search collaborators, which are outside this module.
type ContextProvider interface {
	GatherContext(identifier string) (*SymbolContext, error)
}

// Builder constructs a Concept from partial evidence when resolution fails.
type Builder struct {
	now func() time.Time
}

// NewBuilder returns a Builder using the real clock.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

// Build synthesizes a new concept for identifier from whatever evidence is
// available. sctx may be nil. The result always has a fresh id and the
// identifier as canonical name; a representation is added only when the
// supplied location is valid.
func (b *Builder) Build(identifier string, sctx *SymbolContext) *Concept {
	now := b.now()
	c := &Concept{
		ID:              uuid.NewString(),
		CanonicalName:   identifier,
		Representations: make(map[string]Representation),
		Relations:       make(map[string]Relation),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if sctx == nil {
		sctx = &SymbolContext{}
	}

	if sctx.Location != nil {
		rep := Representation{
			Name:        identifier,
			Location:    *sctx.Location,
			FirstSeen:   now,
			LastSeen:    now,
			Occurrences: 1,
		}
		if len(sctx.Usages) > 0 {
			rep.Context = sctx.Usages[0]
		}
		if rep.Valid() {
			c.Representations[identifier] = rep
		}
	}

	c.Signature = b.buildSignature(identifier, sctx)
	c.Metadata = buildMetadata(identifier, sctx)
	c.Confidence = initialConfidence(sctx)
	return c
}

// buildSignature derives a best-effort signature from the AST summary and
// usage snippets.
func (b *Builder) buildSignature(identifier string, sctx *SymbolContext) Signature {
	sig := Signature{
		Parameters: append([]Parameter(nil), sctx.Parameters...),
		ReturnType: sctx.ReturnType,
		Complexity: estimateComplexity(sctx.Usages),
	}
	sig.SideEffects = detectSideEffects(sctx.Usages)
	sig.Fingerprint = fingerprint(identifier, sig)
	return sig
}

// sideEffectMarkers maps snippet keywords to a side-effect label.
var sideEffectMarkers = []struct {
	keyword string
	label   string
}{
	{"write", "io"},
	{"save", "io"},
	{"delete", "io"},
	{"insert", "io"},
	{"update", "io"},
	{"http", "network"},
	{"fetch", "network"},
	{"request", "network"},
	{"global", "state"},
	{"env", "state"},
}

// detectSideEffects scans usage snippets for side-effect markers.
func detectSideEffects(usages []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, u := range usages {
		lower := strings.ToLower(u)
		for _, m := range sideEffectMarkers {
			if !seen[m.label] && strings.Contains(lower, m.keyword) {
				seen[m.label] = true
				out = append(out, m.label)
			}
		}
	}
	return out
}

// branchKeywords contribute to the cyclomatic estimate: one plus one per
// decision point observed in the usage evidence.
var branchKeywords = []string{"if ", "for ", "while ", "case ", "switch ", "&&", "||", "catch"}

func estimateComplexity(usages []string) int {
	complexity := 1
	for _, u := range usages {
		for _, kw := range branchKeywords {
			complexity += strings.Count(u, kw)
		}
	}
	return complexity
}

// fingerprint is a stable short hash of the identifier and signature shape.
func fingerprint(identifier string, sig Signature) string {
	h := sha256.New()
	h.Write([]byte(identifier))
	for _, p := range sig.Parameters {
		h.Write([]byte("|" + p.Name + ":" + p.Type))
	}
	h.Write([]byte("->" + sig.ReturnType))
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// categorySuffixes maps naming conventions to a category.
var categorySuffixes = []struct {
	suffix   string
	category string
}{
	{"Handler", "handler"},
	{"Controller", "handler"},
	{"Service", "service"},
	{"Manager", "service"},
	{"Repository", "storage"},
	{"Store", "storage"},
	{"Dao", "storage"},
	{"Error", "error"},
	{"Exception", "error"},
	{"Test", "test"},
	{"Util", "utility"},
	{"Helper", "utility"},
}

// buildMetadata classifies the identifier by naming convention and AST kind.
func buildMetadata(identifier string, sctx *SymbolContext) Metadata {
	md := Metadata{Documentation: sctx.Doc}
	for _, cs := range categorySuffixes {
		if strings.HasSuffix(identifier, cs.suffix) {
			md.Category = cs.category
			break
		}
	}
	switch {
	case strings.Contains(sctx.NodeKind, "interface"):
		md.IsInterface = true
		if md.Category == "" {
			md.Category = "interface"
		}
	case md.Category == "" && strings.Contains(sctx.NodeKind, "class"):
		md.Category = "type"
	case md.Category == "" && strings.Contains(sctx.NodeKind, "function"):
		md.Category = "function"
	}
	md.Tags = tagsFromName(identifier)
	return md
}

// tagsFromName splits a camelCase or snake_case identifier into lowercase
// word tags, skipping single-character fragments.
func tagsFromName(identifier string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 1 {
			words = append(words, strings.ToLower(cur.String()))
		}
		cur.Reset()
	}
	for _, r := range identifier {
		switch {
		case r == '_' || r == '-' || r == '.':
			flush()
		case r >= 'A' && r <= 'Z':
			flush()
			cur.WriteRune(r)
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	if len(words) == 0 {
		return nil
	}
	return words
}

// initialConfidence scores the synthesized concept by evidence strength:
// 0.5 base, +0.2 for a usable location, +0.2 for AST information, up to
// +0.1 for observed usages, capped at 0.95.
func initialConfidence(sctx *SymbolContext) float64 {
	conf := 0.5
	if sctx.Location != nil && sctx.Location.URI != "" {
		conf += 0.2
	}
	if sctx.NodeKind != "" {
		conf += 0.2
	}
	usageBonus := 0.02 * float64(len(sctx.Usages))
	if usageBonus > 0.1 {
		usageBonus = 0.1
	}
	conf += usageBonus
	if conf > 0.95 {
		conf = 0.95
	}
	return conf
}
