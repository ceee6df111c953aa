package analyze

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kg/tessera/internal/profile"
	"github.com/tessera-kg/tessera/internal/wiki"
)

func TestInterestMatchTiers(t *testing.T) {
	terms := []string{"programming languages", "compiler"}

	tests := []struct {
		name string
		text string
		want float64
	}{
		{"exact equality", "Programming Languages", 1.0},
		{"whole word", "History of programming languages", 0.9},
		{"whole word single term", "Compiler design", 0.9},
		{"substring", "Multicompiler toolchains", 0.8},
		{"reverse word inside term", "languages", 0.6},
		{"reverse only", "programming", 0.6},
		{"no match", "Ornithology", 0.0},
		{"empty text", "", 0.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, InterestMatch(tt.text, terms), 1e-9)
		})
	}
}

func TestInterestMatchReverseTier(t *testing.T) {
	// "types" appears as a word inside the interest term but the term
	// does not appear in the text.
	got := InterestMatch("Types", []string{"dependent types theory"})
	assert.InDelta(t, 0.6, got, 1e-9)

	// Short texts never match in reverse.
	assert.Zero(t, InterestMatch("ty", []string{"dependent types theory"}))
}

func TestScoreBaselineOnly(t *testing.T) {
	a := New(profile.New())
	got := a.Score("Anything", "anything", nil)
	assert.InDelta(t, 0.15, got, 1e-9)
}

func TestScoreClampedToOne(t *testing.T) {
	p := profile.New("go")
	p.SetBoosts([]string{"go"})
	a := New(p)

	src := &wiki.Article{
		Title:      "Go (programming language)",
		Content:    "go go go go go go",
		Categories: []string{"Go (programming language)"},
	}
	got := a.Score("Go", "go", src)
	assert.LessOrEqual(t, got, 1.0)
	assert.Greater(t, got, 0.9)
}

func TestScoreComposition(t *testing.T) {
	p := profile.New("quantum computing")
	a := New(p)

	// Whole-word title hit (0.4·0.9) plus baseline, no anchor or boost hit.
	got := a.Score("Introduction to quantum computing", "intro", nil)
	assert.InDelta(t, 0.4*0.9+0.15, got, 1e-9)
}

func TestFollowThreshold(t *testing.T) {
	p := profile.New()
	p.SetThreshold(0.3)
	a := New(p)

	assert.True(t, a.Follow(0.3))
	assert.True(t, a.Follow(0.9))
	assert.False(t, a.Follow(0.29))
}

func TestBoostMatch(t *testing.T) {
	boosts := []string{"rust", "compiler"}

	// One whole-word hit over two terms.
	assert.InDelta(t, 0.5, boostMatch("The Rust book", boosts), 1e-9)
	// One whole-word and one substring hit: (1.0+0.5)/2.
	assert.InDelta(t, 0.75, boostMatch("rust decompilers", boosts), 1e-9)
	assert.Zero(t, boostMatch("knitting", boosts))
}

func TestContextScoreMentions(t *testing.T) {
	src := &wiki.Article{
		Title:   "Compilers",
		Content: "LLVM appears here. LLVM again. LLVM, LLVM, LLVM, LLVM, LLVM.",
	}
	// Seven mentions cap at five: 5/10.
	got := contextScore("LLVM", src, nil)
	assert.InDelta(t, 0.5, got, 1e-9)
}

func TestContextScoreTitleOverlap(t *testing.T) {
	src := &wiki.Article{Title: "History of functional programming"}
	got := contextScore("Functional programming", src, nil)
	assert.InDelta(t, 0.2, got, 1e-9)
}

func TestContextScoreCategories(t *testing.T) {
	src := &wiki.Article{
		Title:      "Some page",
		Categories: []string{"Theoretical computer science"},
	}
	got := contextScore("Unrelated", src, []string{"computer science"})
	assert.InDelta(t, 0.3*0.9, got, 1e-9)
}

func TestAdaptiveTerms(t *testing.T) {
	p := profile.New("lovelace")
	a := New(p)

	art := &wiki.Article{
		Title:      "Ada Lovelace",
		Categories: []string{"English mathematicians", "Women in computing", "1815 births"},
	}
	terms := a.AdaptiveTerms(art)

	require.NotEmpty(t, terms)
	assert.LessOrEqual(t, len(terms), 5)
	assert.NotContains(t, terms, "lovelace", "known terms are excluded")
	assert.NotContains(t, terms, "ada", "short tokens are excluded")
	assert.Contains(t, terms, "english")
	assert.Contains(t, terms, "mathematicians")
}

func TestAdaptiveTermsCap(t *testing.T) {
	a := New(profile.New())
	art := &wiki.Article{
		Title:      "Alpha bravo charlie delta echoes foxtrot golfs",
		Categories: []string{"hotel indigo juliette kilos"},
	}
	terms := a.AdaptiveTerms(art)
	assert.Len(t, terms, 5)
	assert.Equal(t, []string{"alpha", "bravo", "charlie", "delta", "echoes"}, terms)
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("go programming language", "go"))
	assert.False(t, containsWord("golang rocks", "go"))
	assert.True(t, containsWord("state-of-the-art", "art"))
	assert.True(t, containsWord("art", "art"))
	assert.False(t, containsWord("cart", "art"))
}
