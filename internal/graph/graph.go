// Package graph materializes in-memory views of the knowledge store:
// complete or centered node/edge sets with metrics, memoized under a
// content fingerprint and invalidated by debounced write notifications.
package graph

import (
	"strings"
	"time"

	"github.com/tessera-kg/tessera/internal/store"
	"github.com/tessera-kg/tessera/internal/wiki"
)

// Node types in classification precedence order.
const (
	TypePerson       = "person"
	TypePlace        = "place"
	TypeConcept      = "concept"
	TypeOrganization = "organization"
	TypeEvent        = "event"
	TypeTechnology   = "technology"
	TypeGeneral      = "general"
)

// Node is one article in a materialized view.
type Node struct {
	ID          int64             `json:"id"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	Depth       int               `json:"depth"`
	Categories  []string          `json:"categories,omitempty"`
	Coordinates *wiki.Coordinates `json:"coordinates,omitempty"`
	Type        string            `json:"node_type"`
	Importance  float64           `json:"importance"`
}

// Edge is one weighted directed link; both endpoints are node keys.
type Edge struct {
	From   int64   `json:"from"`
	To     int64   `json:"to"`
	Weight float64 `json:"weight"`
	Anchor string  `json:"anchor,omitempty"`
}

// Metrics summarizes a view.
type Metrics struct {
	Nodes         int            `json:"nodes"`
	Edges         int            `json:"edges"`
	Density       float64        `json:"density"`
	AvgInDegree   float64        `json:"avg_in_degree"`
	MaxInDegree   int            `json:"max_in_degree"`
	AvgOutDegree  float64        `json:"avg_out_degree"`
	MaxOutDegree  int            `json:"max_out_degree"`
	TypeHistogram map[string]int `json:"type_histogram"`
	Components    int            `json:"components"`
	AvgEdgeWeight float64        `json:"avg_edge_weight"`
}

// Params identify a view; together with the store mutation timestamp
// they form the cache key.
type Params struct {
	MinRelevance float64 `json:"min_relevance"`
	MaxDepth     int     `json:"max_depth"`
	// Center is "all" for complete builds, else the center article id.
	Center   string `json:"center"`
	Enhanced bool   `json:"enhanced"`
}

// Graph is a materialized, immutable view. Callers must not mutate a
// cached instance.
type Graph struct {
	Nodes     map[int64]*Node `json:"nodes"`
	Edges     []Edge          `json:"edges"`
	Metrics   Metrics         `json:"metrics"`
	Params    Params          `json:"params"`
	CreatedAt int64           `json:"created_at"`
}

// finalize computes importance, node types, and metrics once the node
// and edge sets are fixed.
func (g *Graph) finalize() {
	in := make(map[int64]int, len(g.Nodes))
	out := make(map[int64]int, len(g.Nodes))
	weightSum := 0.0
	for _, e := range g.Edges {
		in[e.To]++
		out[e.From]++
		weightSum += e.Weight
	}

	hist := make(map[string]int)
	maxIn, maxOut := 0, 0
	for id, n := range g.Nodes {
		n.Importance = importance(in[id], out[id])
		n.Type = classify(n.Title, n.Categories, n.Coordinates)
		hist[n.Type]++
		if in[id] > maxIn {
			maxIn = in[id]
		}
		if out[id] > maxOut {
			maxOut = out[id]
		}
	}

	m := Metrics{
		Nodes:         len(g.Nodes),
		Edges:         len(g.Edges),
		TypeHistogram: hist,
		MaxInDegree:   maxIn,
		MaxOutDegree:  maxOut,
		Components:    g.componentCount(),
	}
	if v := len(g.Nodes); v > 1 {
		m.Density = float64(len(g.Edges)) / float64(v*(v-1))
	}
	if v := len(g.Nodes); v > 0 {
		m.AvgInDegree = float64(len(g.Edges)) / float64(v)
		m.AvgOutDegree = float64(len(g.Edges)) / float64(v)
	}
	if len(g.Edges) > 0 {
		m.AvgEdgeWeight = weightSum / float64(len(g.Edges))
	}
	g.Metrics = m
	g.CreatedAt = time.Now().Unix()
}

// importance folds a node's degree into [0,1].
func importance(inbound, outbound int) float64 {
	v := float64(2*inbound+outbound) / 30
	if v > 1 {
		return 1
	}
	return v
}

// componentCount counts connected components over the undirected edges.
func (g *Graph) componentCount() int {
	if len(g.Nodes) == 0 {
		return 0
	}
	adj := make(map[int64][]int64, len(g.Nodes))
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
	}

	visited := make(map[int64]bool, len(g.Nodes))
	components := 0
	for id := range g.Nodes {
		if visited[id] {
			continue
		}
		components++
		queue := []int64{id}
		visited[id] = true
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, next := range adj[cur] {
				if !visited[next] {
					visited[next] = true
					queue = append(queue, next)
				}
			}
		}
	}
	return components
}

// typeRules map category/title keywords to node types, checked in
// precedence order; person wins over place even when coordinates exist.
var typeRules = []struct {
	typ      string
	keywords []string
}{
	{TypePerson, []string{"births", "deaths", "people", "biograph",
		"scientists", "writers", "politicians", "mathematicians",
		"musicians", "artists", "philosophers", "engineers"}},
	{TypePlace, []string{"cities", "towns", "countries", "capitals",
		"geography", "regions", "provinces", "states of", "rivers",
		"mountains", "islands", "populated places"}},
	{TypeConcept, []string{"concepts", "theories", "theory", "philosophy",
		"mathematics", "physics", "logic", "principles", "paradigms"}},
	{TypeOrganization, []string{"companies", "organizations",
		"organisations", "universities", "institutions", "agencies",
		"corporations", "associations"}},
	{TypeEvent, []string{"wars", "battles", "events", "elections",
		"festivals", "revolutions", "disasters", "conflicts",
		"competitions"}},
	{TypeTechnology, []string{"software", "technology", "technologies",
		"programming language", "computing", "electronics", "inventions",
		"protocols", "algorithms", "file formats"}},
}

// classify picks a node type from title and category keywords;
// coordinates alone make something a place unless a person rule fired.
func classify(title string, categories []string, coords *wiki.Coordinates) string {
	hay := strings.ToLower(title + " " + strings.Join(categories, " "))
	for _, rule := range typeRules {
		for _, kw := range rule.keywords {
			if strings.Contains(hay, kw) {
				return rule.typ
			}
		}
		if rule.typ == TypePerson && coords != nil {
			return TypePlace
		}
	}
	return TypeGeneral
}

// ShortestPath runs BFS over the directed, unweighted edges and returns
// the node id sequence from one node to another, or nil when absent.
func (g *Graph) ShortestPath(from, to int64) []int64 {
	if _, ok := g.Nodes[from]; !ok {
		return nil
	}
	if _, ok := g.Nodes[to]; !ok {
		return nil
	}
	if from == to {
		return []int64{from}
	}

	adj := make(map[int64][]int64)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
	}

	prev := map[int64]int64{from: from}
	queue := []int64{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adj[cur] {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				var path []int64
				for at := to; at != from; at = prev[at] {
					path = append(path, at)
				}
				path = append(path, from)
				for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
					path[i], path[j] = path[j], path[i]
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// Neighborhood returns the ids within n undirected hops of start,
// including start itself. Returns nil when start is not in the view.
func (g *Graph) Neighborhood(start int64, hops int) map[int64]int {
	if _, ok := g.Nodes[start]; !ok {
		return nil
	}
	adj := make(map[int64][]int64)
	for _, e := range g.Edges {
		adj[e.From] = append(adj[e.From], e.To)
		adj[e.To] = append(adj[e.To], e.From)
	}

	dist := map[int64]int{start: 0}
	queue := []int64{start}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if dist[cur] == hops {
			continue
		}
		for _, next := range adj[cur] {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return dist
}

// nodeFromMeta converts stored metadata into a view node.
func nodeFromMeta(m *store.ArticleMeta, depth int) *Node {
	return &Node{
		ID:          m.ID,
		Title:       m.Title,
		URL:         m.URL,
		Depth:       depth,
		Categories:  m.Categories,
		Coordinates: m.Coordinates,
	}
}
