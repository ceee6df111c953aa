// Package chunk derives size-bounded semantic chunks from parsed articles.
// Chunks are the unit of embedding and retrieval.
package chunk

import (
	"fmt"
	"strings"

	"github.com/tessera-kg/tessera/internal/fingerprint"
	"github.com/tessera-kg/tessera/internal/wiki"
)

// Chunk type tags.
const (
	TypeSummary     = "summary"
	TypeSection     = "section"
	TypeSectionPart = "section_part"
	TypeParagraph   = "paragraph"
)

// Size thresholds, in characters.
const (
	minSummaryLen   = 100 // summary shorter than this is not worth embedding
	minSectionLen   = 50
	splitTriggerLen = 800 // sections at or above this are split into parts
	maxPartLen      = 600
	minParagraphLen = 30
)

// Chunk is one embeddable span of an article, in narrative order.
type Chunk struct {
	Type        string `json:"type"`
	Name        string `json:"name"`
	Text        string `json:"text"`
	ContentHash string `json:"content_hash"`
	TokenCount  int    `json:"token_count"`
	Position    int    `json:"position"`
}

// Split derives the ordered chunk list for an article.
func Split(art *wiki.Article) []Chunk {
	var chunks []Chunk

	if len(art.Summary) >= minSummaryLen {
		chunks = append(chunks, newChunk(TypeSummary, "Summary", art.Summary))
	}

	sectionChunks := 0
	for _, sec := range art.Sections {
		text := strings.TrimSpace(sec.Text)
		if len(text) < minSectionLen {
			continue
		}
		if len(text) >= splitTriggerLen {
			for i, part := range packParagraphs(splitParagraphs(text), 0) {
				name := fmt.Sprintf("%s (Part %d)", sec.Title, i+1)
				chunks = append(chunks, newChunk(TypeSectionPart, name, part))
				sectionChunks++
			}
			continue
		}
		chunks = append(chunks, newChunk(TypeSection, sec.Title, text))
		sectionChunks++
	}

	// Articles without usable sections fall back to paragraph packing
	// over the full content.
	if sectionChunks == 0 {
		for _, part := range packParagraphs(splitParagraphs(art.Content), minParagraphLen) {
			chunks = append(chunks, newChunk(TypeParagraph, "", part))
		}
	}

	for i := range chunks {
		chunks[i].Position = i
	}
	return chunks
}

func newChunk(typ, name, text string) Chunk {
	return Chunk{
		Type:        typ,
		Name:        name,
		Text:        text,
		ContentHash: fingerprint.HashContent(text),
		TokenCount:  len(text) / 4,
	}
}

// splitParagraphs splits on blank lines.
func splitParagraphs(text string) []string {
	var paras []string
	for _, p := range strings.Split(text, "\n\n") {
		p = strings.TrimSpace(p)
		if p != "" {
			paras = append(paras, p)
		}
	}
	return paras
}

// packParagraphs greedily packs paragraphs into spans of at most
// maxPartLen characters. A paragraph is added unless it would push the
// current span over the cap and the span is non-empty; oversized single
// paragraphs therefore form a span of their own. Paragraphs shorter than
// minLen are dropped.
func packParagraphs(paras []string, minLen int) []string {
	var parts []string
	var cur strings.Builder
	for _, p := range paras {
		if len(p) < minLen {
			continue
		}
		need := len(p)
		if cur.Len() > 0 {
			need += 2 // blank-line separator
		}
		if cur.Len() > 0 && cur.Len()+need > maxPartLen {
			parts = append(parts, cur.String())
			cur.Reset()
		}
		if cur.Len() > 0 {
			cur.WriteString("\n\n")
		}
		cur.WriteString(p)
	}
	if cur.Len() > 0 {
		parts = append(parts, cur.String())
	}
	return parts
}
