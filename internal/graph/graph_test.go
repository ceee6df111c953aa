package graph

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kg/tessera/internal/store"
	"github.com/tessera-kg/tessera/internal/wiki"
)

// fakeSource serves canned articles and links.
type fakeSource struct {
	metas      map[int64]store.ArticleMeta
	links      []store.Link
	mutationTS int64
}

func (f *fakeSource) AllArticleMetas(context.Context) ([]store.ArticleMeta, error) {
	out := make([]store.ArticleMeta, 0, len(f.metas))
	for id := int64(1); id <= int64(len(f.metas)); id++ {
		if m, ok := f.metas[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeSource) ArticleMetaByID(_ context.Context, id int64) (*store.ArticleMeta, error) {
	if m, ok := f.metas[id]; ok {
		return &m, nil
	}
	return nil, nil
}

func (f *fakeSource) AllLinks(_ context.Context, min float64) ([]store.Link, error) {
	var out []store.Link
	for _, l := range f.links {
		if l.Score >= min {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) OutboundLinks(_ context.Context, id int64, min float64) ([]store.Link, error) {
	var out []store.Link
	for _, l := range f.links {
		if l.FromID == id && l.Score >= min {
			out = append(out, l)
		}
	}
	return out, nil
}

func (f *fakeSource) MutationTS() int64 { return f.mutationTS }

func newFakeSource() *fakeSource {
	meta := func(id int64, title string, cats ...string) store.ArticleMeta {
		return store.ArticleMeta{
			ID: id, Title: title,
			URL:        "https://en.wikipedia.org/wiki/" + title,
			Categories: cats,
		}
	}
	return &fakeSource{
		metas: map[int64]store.ArticleMeta{
			1: meta(1, "Ada Lovelace", "1815 births", "English mathematicians"),
			2: meta(2, "Analytical Engine", "Mechanical computers", "English inventions"),
			3: meta(3, "London", "Capitals in Europe", "Cities in England"),
			4: meta(4, "Isolated Page", "Loose ends"),
		},
		links: []store.Link{
			{FromID: 1, ToID: 2, Score: 0.9, Anchor: "engine"},
			{FromID: 1, ToID: 3, Score: 0.4, Anchor: "london"},
			{FromID: 2, ToID: 3, Score: 0.2, Anchor: "low"},
		},
		mutationTS: 100,
	}
}

func TestCompleteBuild(t *testing.T) {
	b := NewBuilder(newFakeSource(), nil, nil)

	g, err := b.Complete(context.Background(), 0.3)
	require.NoError(t, err)

	assert.Len(t, g.Nodes, 4)
	assert.Len(t, g.Edges, 2, "the 0.2 edge falls below min_relevance")
	for _, e := range g.Edges {
		assert.Contains(t, g.Nodes, e.From)
		assert.Contains(t, g.Nodes, e.To)
	}

	// Node 1: out 2, in 0 -> 2/30. Node 3: in 1 -> 2/30. Node 2: in 1 out 0.
	assert.InDelta(t, 2.0/30, g.Nodes[1].Importance, 1e-9)
	assert.InDelta(t, 2.0/30, g.Nodes[2].Importance, 1e-9)
}

func TestCompleteMetrics(t *testing.T) {
	b := NewBuilder(newFakeSource(), nil, nil)

	g, err := b.Complete(context.Background(), 0)
	require.NoError(t, err)
	m := g.Metrics

	assert.Equal(t, 4, m.Nodes)
	assert.Equal(t, 3, m.Edges)
	assert.InDelta(t, 3.0/12, m.Density, 1e-9)
	assert.GreaterOrEqual(t, m.Density, 0.0)
	assert.LessOrEqual(t, m.Density, 1.0)
	assert.Equal(t, 2, m.Components, "isolated page forms its own component")
	assert.InDelta(t, (0.9+0.4+0.2)/3, m.AvgEdgeWeight, 1e-9)
	assert.Equal(t, 2, m.MaxInDegree)  // London
	assert.Equal(t, 2, m.MaxOutDegree) // Ada
	assert.Equal(t, 4, sumHistogram(m.TypeHistogram))
}

func sumHistogram(h map[string]int) int {
	total := 0
	for _, v := range h {
		total += v
	}
	return total
}

func TestDensityZeroForSingleNode(t *testing.T) {
	src := newFakeSource()
	src.metas = map[int64]store.ArticleMeta{1: src.metas[1]}
	src.links = nil
	b := NewBuilder(src, nil, nil)

	g, err := b.Complete(context.Background(), 0)
	require.NoError(t, err)
	assert.Zero(t, g.Metrics.Density)
	assert.Equal(t, 1, g.Metrics.Components)
}

func TestCenteredBuild(t *testing.T) {
	b := NewBuilder(newFakeSource(), nil, nil)

	g, err := b.Centered(context.Background(), 1, 1, 0.3)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 3)
	assert.Equal(t, 0, g.Nodes[1].Depth)
	assert.Equal(t, 1, g.Nodes[2].Depth)
	assert.Equal(t, 1, g.Nodes[3].Depth)
	assert.NotContains(t, g.Nodes, int64(4))
	assert.Len(t, g.Edges, 2)
}

func TestCenteredDepthBound(t *testing.T) {
	src := newFakeSource()
	// Chain 1 -> 2 -> 3 only.
	src.links = []store.Link{
		{FromID: 1, ToID: 2, Score: 0.9},
		{FromID: 2, ToID: 3, Score: 0.9},
	}
	b := NewBuilder(src, nil, nil)

	g, err := b.Centered(context.Background(), 1, 1, 0)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 2, "depth 1 stops before node 3")
	assert.Len(t, g.Edges, 1)
}

func TestCenteredMissingCenter(t *testing.T) {
	b := NewBuilder(newFakeSource(), nil, nil)
	_, err := b.Centered(context.Background(), 999, 2, 0)
	assert.Error(t, err)
}

func TestClassifyPrecedence(t *testing.T) {
	coords := &wiki.Coordinates{Lat: 51.5, Lon: -0.1}
	tests := []struct {
		name   string
		title  string
		cats   []string
		coords *wiki.Coordinates
		want   string
	}{
		{"person", "Ada Lovelace", []string{"1815 births"}, nil, TypePerson},
		{"person with coordinates stays person", "Someone", []string{"English people"}, coords, TypePerson},
		{"place by category", "London", []string{"Cities in England"}, nil, TypePlace},
		{"place by coordinates", "Somewhere", []string{"Unclassifiable"}, coords, TypePlace},
		{"concept", "Set theory", []string{"Mathematics"}, nil, TypeConcept},
		{"organization", "MIT", []string{"Universities in Massachusetts"}, nil, TypeOrganization},
		{"event", "Battle of Hastings", []string{"Battles involving England"}, nil, TypeEvent},
		{"technology", "Go", []string{"Programming languages"}, nil, TypeTechnology},
		{"general", "Blue", []string{"Shades"}, nil, TypeGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.title, tt.cats, tt.coords))
		})
	}
}

func TestShortestPath(t *testing.T) {
	b := NewBuilder(newFakeSource(), nil, nil)
	g, err := b.Complete(context.Background(), 0)
	require.NoError(t, err)

	assert.Equal(t, []int64{1, 3}, g.ShortestPath(1, 3), "direct edge beats the 1-2-3 route")
	assert.Equal(t, []int64{1, 2}, g.ShortestPath(1, 2))
	assert.Nil(t, g.ShortestPath(3, 1), "edges are directed")
	assert.Nil(t, g.ShortestPath(1, 4))
	assert.Equal(t, []int64{2}, g.ShortestPath(2, 2))
}

func TestNeighborhood(t *testing.T) {
	b := NewBuilder(newFakeSource(), nil, nil)
	g, err := b.Complete(context.Background(), 0)
	require.NoError(t, err)

	// Undirected: from London one hop reaches Ada and the Engine.
	dist := g.Neighborhood(3, 1)
	require.NotNil(t, dist)
	assert.Equal(t, map[int64]int{3: 0, 1: 1, 2: 1}, dist)

	assert.Nil(t, g.Neighborhood(999, 1))
}

func TestExportJSONRoundTrip(t *testing.T) {
	b := NewBuilder(newFakeSource(), nil, nil)
	g, err := b.Complete(context.Background(), 0)
	require.NoError(t, err)

	data, err := g.Export(FormatJSON)
	require.NoError(t, err)

	var back Graph
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Len(t, back.Nodes, len(g.Nodes))
	assert.Len(t, back.Edges, len(g.Edges))
	assert.Equal(t, g.Nodes[1].Title, back.Nodes[1].Title)
}

func TestExportGraphMLEscapes(t *testing.T) {
	g := &Graph{Nodes: map[int64]*Node{
		1: {ID: 1, Title: `AT&T "Labs" <plc>`, Type: TypeOrganization},
	}}
	data, err := g.Export(FormatGraphML)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, "AT&amp;T")
	assert.Contains(t, s, "&lt;plc&gt;")
	assert.NotContains(t, s, "<plc>")
}

func TestExportDOTEscapes(t *testing.T) {
	g := &Graph{
		Nodes: map[int64]*Node{
			1: {ID: 1, Title: `Say "hi"`, Type: TypeGeneral},
			2: {ID: 2, Title: "Plain", Type: TypeGeneral},
		},
		Edges: []Edge{{From: 1, To: 2, Weight: 0.5}},
	}
	data, err := g.Export(FormatDOT)
	require.NoError(t, err)

	s := string(data)
	assert.Contains(t, s, `label="Say \"hi\""`)
	assert.Contains(t, s, "n1 -> n2")
	assert.Contains(t, s, "digraph")
}

func TestExportUnknownFormat(t *testing.T) {
	g := &Graph{Nodes: map[int64]*Node{}}
	_, err := g.Export("yaml")
	assert.Error(t, err)
}

