package refine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/genbatch/internal/document"
	"github.com/temirov/genbatch/internal/refine"
)

const analysisYAML = "```yaml\n" + `- text: Running Shoes
  decision: remove
- text: Best picks
  decision: modify
  final_decision: "Best picks: 2025 edition"
- text: Sizing
  decision: not_change
- text: Prices
  decision: remove
` + "```"

func TestParseDecisions(t *testing.T) {
	decisions, err := refine.ParseDecisions(analysisYAML)
	require.NoError(t, err)
	require.Len(t, decisions, 4)
	assert.Equal(t, refine.Decision{Text: "Best picks", Action: refine.ActionModify, Final: "Best picks: 2025 edition"}, decisions[1])

	wrapped, err := refine.ParseDecisions("decisions:\n  - text: A\n    decision: remove\n")
	require.NoError(t, err)
	assert.Equal(t, refine.ActionRemove, wrapped[0].Action)

	_, err = refine.ParseDecisions("just prose")
	assert.ErrorIs(t, err, refine.ErrNoDecisions)
}

func TestApply_HTMLHeadingsKeepH1(t *testing.T) {
	decisions, err := refine.ParseDecisions(analysisYAML)
	require.NoError(t, err)

	doc := document.New()
	doc.Set("outline", document.Scalar{V: "<h1>Running shoes</h1>\n<h2>Best Picks</h2>\n<h2>Sizing</h2>\n<h3 class=\"x\">Prices</h3>\n<p>text</p>"})

	refined, summary, err := refine.Apply(doc, refine.Target{Path: "outline", Mode: refine.ModeHTML}, decisions)
	require.NoError(t, err)

	assert.Equal(t, "<h1>Running shoes</h1>\n<h2>Best picks: 2025 edition</h2>\n<h2>Sizing</h2>\n<p>text</p>",
		document.Text(refined.Section("outline"), ""))
	assert.Equal(t, refine.Summary{Removed: 1, Modified: 1, Kept: 2}, summary)
	assert.Contains(t, document.Text(doc.Section("outline"), ""), "Prices", "original must stay untouched")
}

func TestApply_NestedList(t *testing.T) {
	decisions := []refine.Decision{
		{Text: "shoe", Action: refine.ActionModify, Final: "running shoe"},
		{Text: "sock", Action: refine.ActionRemove},
	}
	nodes := document.List{}
	for _, name := range []string{"Shoe", "sock", "lace"} {
		node := document.NewMap()
		node.Set("name", document.Scalar{V: name})
		nodes = append(nodes, node)
	}
	graph := document.NewMap()
	graph.Set("nodes", nodes)
	doc := document.New()
	doc.Set("knowledge_graph", graph)

	refined, summary, err := refine.Apply(doc, refine.Target{Path: "knowledge_graph.nodes", Mode: refine.ModeList, Field: "name"}, decisions)
	require.NoError(t, err)

	list := refined.Lookup("knowledge_graph.nodes").(document.List)
	require.Len(t, list, 2)
	assert.Equal(t, "running shoe", document.Text(list[0], "name"))
	assert.Equal(t, "lace", document.Text(list[1], "name"))
	assert.Equal(t, refine.Summary{Removed: 1, Modified: 1, Kept: 1}, summary)
	assert.Equal(t, 3, document.Count(doc.Lookup("knowledge_graph.nodes")))
}

func TestApply_WrongKind(t *testing.T) {
	doc := document.New()
	doc.Set("outline", document.List{})

	_, _, err := refine.Apply(doc, refine.Target{Path: "outline", Mode: refine.ModeHTML}, nil)
	assert.Error(t, err)
}
