// Package analyze scores candidate links against the interest profile.
// The score decides whether the crawler follows a link and becomes the
// weight of the stored edge.
package analyze

import (
	"strings"
	"unicode"

	"github.com/tessera-kg/tessera/internal/profile"
	"github.com/tessera-kg/tessera/internal/wiki"
)

// Score composition weights.
const (
	titleWeight      = 0.4
	anchorWeight     = 0.2
	boostWeight      = 0.3
	contextWeight    = 0.1
	explorationBonus = 0.15
)

// Interest match tiers.
const (
	matchExact     = 1.0
	matchWholeWord = 0.9
	matchSubstring = 0.8
	matchReverse   = 0.6
)

// maxAdaptiveTerms bounds how many interest terms one article may add.
const maxAdaptiveTerms = 5

// Analyzer scores links for one profile. Safe for concurrent use; all
// state lives in the profile.
type Analyzer struct {
	profile *profile.Profile
}

// New creates an Analyzer over the given profile.
func New(p *profile.Profile) *Analyzer {
	return &Analyzer{profile: p}
}

// Score computes the relevance of a candidate link in [0,1]. The source
// article is optional; when present it contributes the context component.
func (a *Analyzer) Score(title, anchor string, source *wiki.Article) float64 {
	interests := a.profile.Interests()
	boosts := a.profile.Boosts()

	score := titleWeight*InterestMatch(title, interests) +
		anchorWeight*InterestMatch(anchor, interests) +
		boostWeight*max(boostMatch(title, boosts), boostMatch(anchor, boosts)) +
		explorationBonus
	if source != nil {
		score += contextWeight * contextScore(title, source, interests)
	}

	return clamp01(score)
}

// Follow reports whether a score clears the profile's follow threshold.
func (a *Analyzer) Follow(score float64) bool {
	return score >= a.profile.Threshold()
}

// InterestMatch returns the best match tier of text against the interest
// terms: exact equality, whole-word hit, substring containment, or the
// text appearing as a word inside a term.
func InterestMatch(text string, terms []string) float64 {
	text = strings.TrimSpace(text)
	if text == "" || len(terms) == 0 {
		return 0
	}
	lower := strings.ToLower(text)

	best := 0.0
	for _, term := range terms {
		t := strings.ToLower(strings.TrimSpace(term))
		if t == "" {
			continue
		}
		switch {
		case lower == t:
			return matchExact
		case containsWord(lower, t):
			best = max(best, matchWholeWord)
		case strings.Contains(lower, t):
			best = max(best, matchSubstring)
		case len(text) > 3 && containsWord(t, lower):
			best = max(best, matchReverse)
		}
	}
	return best
}

// boostMatch awards 1.0 per whole-word boost hit and 0.5 per substring
// hit, normalized by the boost-term count and capped at 1.0.
func boostMatch(text string, boosts []string) float64 {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" || len(boosts) == 0 {
		return 0
	}
	total := 0.0
	for _, b := range boosts {
		t := strings.ToLower(strings.TrimSpace(b))
		if t == "" {
			continue
		}
		switch {
		case containsWord(text, t):
			total += 1.0
		case strings.Contains(text, t):
			total += 0.5
		}
	}
	return min(total/float64(len(boosts)), 1.0)
}

// contextScore measures how anchored the link is in its source article:
// mention frequency, category affinity, and title token overlap.
func contextScore(title string, source *wiki.Article, interests []string) float64 {
	score := 0.0

	if mentions := countMentions(source.Content, title); mentions > 0 {
		score += float64(min(mentions, 5)) / 10
	}

	if len(source.Categories) > 0 {
		cats := strings.Join(source.Categories, " ")
		score += 0.3 * InterestMatch(cats, interests)
	}

	if tokenOverlap(title, source.Title) >= 0.25 {
		score += 0.2
	}

	return min(score, 1.0)
}

func countMentions(content, title string) int {
	title = strings.ToLower(strings.TrimSpace(title))
	if title == "" || content == "" {
		return 0
	}
	return strings.Count(strings.ToLower(content), title)
}

// tokenOverlap is the share of one title's non-stopword tokens found in
// the other, measured against the smaller token set.
func tokenOverlap(a, b string) float64 {
	ta := contentTokens(a, 2)
	tb := contentTokens(b, 2)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	set := make(map[string]bool, len(tb))
	for _, t := range tb {
		set[t] = true
	}
	shared := 0
	for _, t := range ta {
		if set[t] {
			shared++
		}
	}
	denom := len(ta)
	if len(tb) < denom {
		denom = len(tb)
	}
	return float64(shared) / float64(denom)
}

// AdaptiveTerms extracts up to five new interest terms from an article's
// title and categories: lowercased tokens longer than three characters,
// split on punctuation, stopwords and already-known terms excluded.
func (a *Analyzer) AdaptiveTerms(art *wiki.Article) []string {
	known := make(map[string]bool)
	for _, t := range a.profile.Interests() {
		known[strings.ToLower(t)] = true
	}

	var fresh []string
	seen := make(map[string]bool)
	source := append([]string{art.Title}, art.Categories...)
	for _, s := range source {
		for _, tok := range contentTokens(s, 3) {
			if known[tok] || seen[tok] {
				continue
			}
			seen[tok] = true
			fresh = append(fresh, tok)
			if len(fresh) == maxAdaptiveTerms {
				return fresh
			}
		}
	}
	return fresh
}

// contentTokens lowercases, splits on non-alphanumeric runs, and keeps
// tokens longer than minLen that are not stopwords.
func contentTokens(s string, minLen int) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if len(f) > minLen && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}

// containsWord reports whether needle occurs in haystack bounded by
// non-word characters. Both arguments must already be lowercased.
func containsWord(haystack, needle string) bool {
	for i := 0; i <= len(haystack)-len(needle); {
		j := strings.Index(haystack[i:], needle)
		if j < 0 {
			return false
		}
		j += i
		end := j + len(needle)
		beforeOK := j == 0 || !isWordByte(haystack[j-1])
		afterOK := end == len(haystack) || !isWordByte(haystack[end])
		if beforeOK && afterOK {
			return true
		}
		i = j + 1
	}
	return false
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') ||
		b >= 0x80 // multi-byte runes count as word characters
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "from": true,
	"that": true, "this": true, "are": true, "was": true, "were": true,
	"been": true, "have": true, "has": true, "had": true, "not": true,
	"but": true, "his": true, "her": true, "its": true, "their": true,
	"they": true, "them": true, "also": true, "into": true, "about": true,
	"which": true, "who": true, "whom": true, "when": true, "where": true,
	"what": true, "while": true, "than": true, "then": true, "there": true,
	"these": true, "those": true, "such": true, "other": true, "some": true,
	"more": true, "most": true, "many": true, "much": true, "over": true,
	"under": true, "between": true, "during": true, "after": true,
	"before": true, "within": true, "without": true, "being": true,
	"all": true, "any": true, "each": true, "both": true, "can": true,
	"may": true, "will": true, "would": true, "should": true, "could": true,
	"born": true, "list": true, "article": true, "articles": true,
	"category": true, "categories": true, "wikipedia": true,
}
