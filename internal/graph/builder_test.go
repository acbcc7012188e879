package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder_BuildWithFullContext(t *testing.T) {
	b := NewBuilder()
	sctx := &SymbolContext{
		Location:   &Location{URI: "src/orders.go", Range: Range{StartLine: 10, EndLine: 42, EndCol: 1}},
		NodeKind:   "function_declaration",
		Parameters: []Parameter{{Name: "id", Type: "string"}},
		ReturnType: "Order",
		Usages:     []string{"order := loadOrder(id)"},
		Doc:        "Loads an order by id.",
	}

	c := b.Build("loadOrder", sctx)
	require.NotNil(t, c)
	assert.NotEmpty(t, c.ID)
	assert.Equal(t, "loadOrder", c.CanonicalName)

	rep, ok := c.Representations["loadOrder"]
	require.True(t, ok)
	assert.Equal(t, "src/orders.go", rep.Location.URI)
	assert.Equal(t, 1, rep.Occurrences)
	assert.Equal(t, "order := loadOrder(id)", rep.Context)

	assert.Equal(t, sctx.Parameters, c.Signature.Parameters)
	assert.Equal(t, "Order", c.Signature.ReturnType)
	assert.NotEmpty(t, c.Signature.Fingerprint)
	assert.Equal(t, "function", c.Metadata.Category)
	assert.Equal(t, "Loads an order by id.", c.Metadata.Documentation)
}

func TestBuilder_NilContext(t *testing.T) {
	c := NewBuilder().Build("mystery", nil)
	require.NotNil(t, c)
	assert.Equal(t, "mystery", c.CanonicalName)
	assert.Empty(t, c.Representations, "no location means no representation")
	assert.Equal(t, 0.5, c.Confidence, "base confidence with zero evidence")
}

func TestBuilder_InvalidLocationDropsRepresentation(t *testing.T) {
	c := NewBuilder().Build("thing", &SymbolContext{
		Location: &Location{URI: "src/x.go", Range: Range{StartLine: -1}},
	})
	assert.Empty(t, c.Representations)
}

func TestBuilder_Confidence(t *testing.T) {
	tests := []struct {
		name string
		sctx *SymbolContext
		want float64
	}{
		{"location only", &SymbolContext{
			Location: &Location{URI: "src/a.go"},
		}, 0.7},
		{"ast only", &SymbolContext{NodeKind: "class_declaration"}, 0.7},
		{"location and ast", &SymbolContext{
			Location: &Location{URI: "src/a.go"},
			NodeKind: "class_declaration",
		}, 0.9},
		{"three usages", &SymbolContext{
			Usages: []string{"u1", "u2", "u3"},
		}, 0.56},
		{"usage bonus capped", &SymbolContext{
			Location: &Location{URI: "src/a.go"},
			NodeKind: "class_declaration",
			Usages:   make([]string, 10),
		}, 0.95},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewBuilder().Build("x", tt.sctx)
			assert.InDelta(t, tt.want, c.Confidence, 1e-9)
		})
	}
}

func TestBuilder_CategoryFromSuffix(t *testing.T) {
	tests := []struct {
		identifier string
		want       string
	}{
		{"PaymentHandler", "handler"},
		{"OrderController", "handler"},
		{"UserService", "service"},
		{"SessionManager", "service"},
		{"AccountRepository", "storage"},
		{"ConceptStore", "storage"},
		{"ParseError", "error"},
		{"StringUtil", "utility"},
		{"plainName", ""},
	}
	for _, tt := range tests {
		md := buildMetadata(tt.identifier, &SymbolContext{})
		assert.Equal(t, tt.want, md.Category, "identifier %q", tt.identifier)
	}
}

func TestBuilder_InterfaceNodeKind(t *testing.T) {
	md := buildMetadata("Reader", &SymbolContext{NodeKind: "interface_declaration"})
	assert.True(t, md.IsInterface)
	assert.Equal(t, "interface", md.Category)

	// A suffix category wins over the node-kind fallback but the flag stays.
	md = buildMetadata("ReaderService", &SymbolContext{NodeKind: "interface_declaration"})
	assert.True(t, md.IsInterface)
	assert.Equal(t, "service", md.Category)
}

func TestTagsFromName(t *testing.T) {
	tests := []struct {
		identifier string
		want       []string
	}{
		{"parseConfigFile", []string{"parse", "config", "file"}},
		{"snake_case_name", []string{"snake", "case", "name"}},
		{"HTTPServer", []string{"server"}}, // single-letter fragments dropped
		{"x", nil},
		{"", nil},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tagsFromName(tt.identifier), "identifier %q", tt.identifier)
	}
}

func TestDetectSideEffects(t *testing.T) {
	effects := detectSideEffects([]string{
		"db.Save(order)",
		"http.Get(url)",
		"writeLog(msg)",
	})
	assert.ElementsMatch(t, []string{"io", "network"}, effects)

	assert.Empty(t, detectSideEffects([]string{"x := y + 1"}))
}

func TestEstimateComplexity(t *testing.T) {
	assert.Equal(t, 1, estimateComplexity(nil))
	assert.Equal(t, 4, estimateComplexity([]string{
		"if ok { for i := range xs {",
		"a && b",
	}))
}

func TestFingerprint_StableAndShapeSensitive(t *testing.T) {
	sig := Signature{Parameters: []Parameter{{Name: "a", Type: "int"}}, ReturnType: "bool"}
	fp1 := fingerprint("check", sig)
	fp2 := fingerprint("check", sig)
	assert.Equal(t, fp1, fp2)
	assert.Len(t, fp1, 16)

	sig.ReturnType = "error"
	assert.NotEqual(t, fp1, fingerprint("check", sig))
}
