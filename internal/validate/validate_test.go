package validate_test

import (
	"strings"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/genbatch/internal/document"
	"github.com/temirov/genbatch/internal/validate"
)

func outlineHTML(headings int) string {
	var builder strings.Builder
	builder.WriteString("<h1>Title</h1>\n")
	for index := 1; index < headings; index++ {
		builder.WriteString("<h2>Section ")
		builder.WriteString(strings.Repeat("x", index))
		builder.WriteString("</h2>\n")
	}
	return builder.String()
}

func outlineSchema() validate.Schema {
	return validate.Schema{
		Sections: []validate.Section{
			{Name: "outline", Kind: "scalar", Structural: true},
			{Name: "notes", Kind: "list", Required: true},
		},
		Markers: []validate.MarkerRange{{Path: "outline", Min: 25, Max: 30}},
		Unique:  []validate.UniqueRule{{Path: "outline", Selector: "h2"}},
	}
}

func outlineDocument(html string) document.Document {
	doc := document.New()
	doc.Set("outline", document.Scalar{V: html})
	doc.Set("notes", document.List{document.Scalar{V: "keep it short"}})
	return doc
}

func TestValidate_MarkerRange(t *testing.T) {
	testCases := []struct {
		name       string
		headings   int
		hardReject bool
	}{
		{name: "too few", headings: 24, hardReject: true},
		{name: "lower bound", headings: 25},
		{name: "upper bound", headings: 30},
		{name: "too many", headings: 31, hardReject: true},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			report := validate.Validate(outlineDocument(outlineHTML(testCase.headings)), outlineSchema())

			assert.Equal(t, testCase.hardReject, report.HardReject, report.Issues)
			if testCase.hardReject {
				assert.True(t, errors.Is(report.Err(), validate.ErrHardReject))
				assert.False(t, report.Valid)
			} else {
				assert.NoError(t, report.Err())
				assert.True(t, report.Valid, report.Issues)
				assert.InDelta(t, 1.0, report.QualityScore, 1e-9)
			}
		})
	}
}

func TestValidate_MissingSections(t *testing.T) {
	doc := document.New()
	doc.Set("notes", document.List{})

	report := validate.Validate(doc, validate.Schema{Sections: []validate.Section{
		{Name: "outline", Structural: true},
		{Name: "notes", Required: true},
		{Name: "faq", Required: true},
	}})

	assert.True(t, report.HardReject)
	assert.Contains(t, report.Issues, `missing structural section "outline"`)
	assert.Contains(t, report.Issues, `missing required section "faq"`)
	assert.InDelta(t, 0, report.QualityScore, 1e-9)
}

func TestValidate_SoftIssuesDoNotReject(t *testing.T) {
	doc := document.New()
	nodes := document.List{}
	for index := 0; index < 14; index++ {
		nodes = append(nodes, document.Scalar{V: "node"})
	}
	graph := document.NewMap()
	graph.Set("nodes", nodes)
	doc.Set("knowledge_graph", graph)
	doc.Set("entities", document.Scalar{V: "not a list"})

	report := validate.Validate(doc, validate.Schema{
		Sections: []validate.Section{
			{Name: "knowledge_graph", Kind: "map", Required: true},
			{Name: "entities", Kind: "list", Required: true},
		},
		Limits: []validate.Limit{{Path: "knowledge_graph.nodes", Max: 12}},
		Unique: []validate.UniqueRule{{Path: "knowledge_graph.nodes"}},
	})

	assert.False(t, report.HardReject)
	assert.False(t, report.Valid)
	assert.NoError(t, report.Err())
	assert.Contains(t, report.Issues, "knowledge_graph.nodes has 14 entries, more than 12")
	assert.Contains(t, report.Issues, `section "entities" is a scalar, expected list`)
	assert.Contains(t, report.Issues, `duplicate entry "node" in knowledge_graph.nodes`)
}

func TestValidate_DuplicateHeadingsCaseInsensitive(t *testing.T) {
	doc := outlineDocument("<h1>T</h1><h2>Pricing</h2><h2>pricing </h2><h2>FAQ</h2>")
	schema := outlineSchema()
	schema.Markers = nil

	report := validate.Validate(doc, schema)

	require.Len(t, report.Issues, 1)
	assert.Equal(t, `duplicate entry "pricing" in outline`, report.Issues[0])
}

func TestValidate_QualityScore(t *testing.T) {
	schema := validate.Schema{
		Sections: []validate.Section{
			{Name: "meta", Required: true},
			{Name: "intent", Required: true},
			{Name: "entities", Required: true},
			{Name: "gaps", Required: true},
			{Name: "extras"},
		},
		Bonuses: []validate.Bonus{
			{Path: "entities", Weight: 0.5, MinCount: 2},
			{Path: "extras", Weight: 0.5},
		},
	}

	testCases := []struct {
		name     string
		build    func() document.Document
		expected float64
	}{
		{
			name: "half present",
			build: func() document.Document {
				doc := document.New()
				doc.Set("meta", document.Scalar{V: "m"})
				doc.Set("intent", document.Scalar{V: "i"})
				return doc
			},
			expected: 0.5,
		},
		{
			name: "raw section counts half",
			build: func() document.Document {
				doc := document.New()
				doc.Set("meta", document.Scalar{V: "m"})
				doc.Set("intent", document.Raw{Text: "broken: ["})
				return doc
			},
			expected: 0.375,
		},
		{
			name: "bonuses are capped",
			build: func() document.Document {
				doc := document.New()
				doc.Set("meta", document.Scalar{V: "m"})
				doc.Set("intent", document.Scalar{V: "i"})
				doc.Set("entities", document.List{document.Scalar{V: "a"}, document.Scalar{V: "b"}})
				doc.Set("gaps", document.Scalar{V: "g"})
				doc.Set("extras", document.Scalar{V: "x"})
				return doc
			},
			expected: 1,
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			report := validate.Validate(testCase.build(), schema)
			assert.InDelta(t, testCase.expected, report.QualityScore, 1e-9)
		})
	}
}
