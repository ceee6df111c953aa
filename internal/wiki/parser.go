// Package wiki parses Wikipedia article HTML into a structured Article.
package wiki

import (
	"bytes"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/tessera-kg/tessera/internal/terrors"
)

// Section is a document heading. Text holds the body under the heading up
// to the next heading of equal or higher rank; it feeds the chunker and is
// not persisted.
type Section struct {
	Level int    `json:"level"`
	Title string `json:"title"`
	Text  string `json:"-"`
}

// Coordinates is a geographic point parsed from a .geo element.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Link is an outbound article reference in first-occurrence order.
type Link struct {
	Title  string
	URL    string
	Anchor string
}

// Article is the parsed form of one Wikipedia page.
type Article struct {
	URL         string
	Title       string
	Summary     string
	Content     string
	Categories  []string
	Sections    []Section
	Infobox     map[string]string
	Images      []string
	Coordinates *Coordinates
	Links       []Link
	FetchedAt   int64
}

var (
	editMarkerRe = regexp.MustCompile(`\[\s*edit\s*\]\s*$`)
	geoRe        = regexp.MustCompile(`^\s*(-?\d+(?:\.\d+)?)[;,\s]+(-?\d+(?:\.\d+)?)`)
	nonKeyCharRe = regexp.MustCompile(`[^\w\s]`)
	spaceRunRe   = regexp.MustCompile(`\s+`)
	categoryRe   = regexp.MustCompile(`^/wiki/Category:(.+)$`)
	wikiLinkRe   = regexp.MustCompile(`^/wiki/([^:]+)$`)
)

// prunedSelectors are subtrees removed before text, summary, section, and
// link extraction. Infobox and image extraction run before pruning.
const prunedSelectors = ".navbox, .vertical-navbox, .infobox, .thumb, " +
	"figure, .reflist, ol.references, .mw-editsection"

// Parse builds an Article from raw HTML fetched at sourceURL.
// Individual extractions that find nothing yield empty fields; the parse
// fails only when the HTML tree itself cannot be built.
func Parse(html []byte, sourceURL string) (*Article, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, terrors.Parse(fmt.Sprintf("build HTML tree for %s", sourceURL), err)
	}

	base, _ := url.Parse(sourceURL)

	art := &Article{
		URL:       sourceURL,
		FetchedAt: time.Now().Unix(),
	}

	art.Title = extractTitle(doc)
	art.Categories = extractCategories(doc)
	art.Coordinates = extractCoordinates(doc)

	content := findContentRoot(doc)

	// These read subtrees the pruning pass removes.
	art.Infobox = extractInfobox(content)
	art.Images = extractImages(content, base)

	content.Find(prunedSelectors).Remove()

	blocks := collectBlocks(content)
	art.Content = joinBlocks(blocks)
	art.Summary = extractSummary(blocks)
	art.Sections = extractSections(blocks)
	art.Links = extractLinks(content, base)

	return art, nil
}

// block is one flow element of the content in document order.
type block struct {
	level int  // 0 for non-headings
	para  bool // true for p elements, false for headings and list items
	text  string
}

func findContentRoot(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"#mw-content-text", ".mw-parser-output", "#bodyContent"} {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			return s
		}
	}
	return doc.Find("body").First()
}

func extractTitle(doc *goquery.Document) string {
	if t := strings.TrimSpace(doc.Find("h1.firstHeading").First().Text()); t != "" {
		return t
	}
	t := strings.TrimSpace(doc.Find("title").First().Text())
	return strings.TrimSpace(strings.TrimSuffix(t, " - Wikipedia"))
}

func extractCategories(doc *goquery.Document) []string {
	var cats []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := categoryRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		name := m[1]
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
		name = strings.ReplaceAll(name, "_", " ")
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		cats = append(cats, name)
	})
	return cats
}

func extractCoordinates(doc *goquery.Document) *Coordinates {
	geo := strings.TrimSpace(doc.Find(".geo").First().Text())
	m := geoRe.FindStringSubmatch(geo)
	if m == nil {
		return nil
	}
	lat, err1 := strconv.ParseFloat(m[1], 64)
	lon, err2 := strconv.ParseFloat(m[2], 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	return &Coordinates{Lat: lat, Lon: lon}
}

func extractInfobox(content *goquery.Selection) map[string]string {
	box := content.Find("table.infobox").First()
	if box.Length() == 0 {
		return nil
	}
	out := make(map[string]string)
	box.Find("tr").Each(func(_ int, row *goquery.Selection) {
		th := row.Find("th").First()
		td := row.Find("td").First()
		if th.Length() == 0 || td.Length() == 0 {
			return
		}
		key := normalizeInfoboxKey(th.Text())
		val := collapseSpace(td.Text())
		if key == "" || val == "" {
			return
		}
		out[key] = val
	})
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeInfoboxKey lowercases, strips non-word characters, and joins
// whitespace runs with underscores.
func normalizeInfoboxKey(s string) string {
	s = strings.ToLower(collapseSpace(s))
	s = nonKeyCharRe.ReplaceAllString(s, "")
	s = spaceRunRe.ReplaceAllString(strings.TrimSpace(s), "_")
	return s
}

func extractImages(content *goquery.Selection, base *url.URL) []string {
	var imgs []string
	seen := make(map[string]bool)
	content.Find("img").Each(func(_ int, img *goquery.Selection) {
		src, ok := img.Attr("src")
		if !ok || src == "" {
			return
		}
		if tooSmall(img, "width") || tooSmall(img, "height") {
			return
		}
		src = resolveURL(base, src)
		if seen[src] {
			return
		}
		seen[src] = true
		imgs = append(imgs, src)
	})
	return imgs
}

// tooSmall reports whether the given dimension attribute is present and
// under 50 pixels. Missing or unparseable attributes do not disqualify.
func tooSmall(img *goquery.Selection, attr string) bool {
	v, ok := img.Attr(attr)
	if !ok {
		return false
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return false
	}
	return n < 50
}

var headingLevels = map[string]int{
	"h1": 1, "h2": 2, "h3": 3, "h4": 4, "h5": 5, "h6": 6,
}

// collectBlocks walks the pruned content and returns its flow elements,
// paragraphs and headings and list items, in document order.
func collectBlocks(content *goquery.Selection) []block {
	var blocks []block
	content.Find("p, h1, h2, h3, h4, h5, h6, li").Each(func(_ int, s *goquery.Selection) {
		text := collapseSpace(s.Text())
		if text == "" {
			return
		}
		tag := goquery.NodeName(s)
		if lvl, ok := headingLevels[tag]; ok {
			text = strings.TrimSpace(editMarkerRe.ReplaceAllString(text, ""))
			if text == "" {
				return
			}
			blocks = append(blocks, block{level: lvl, text: text})
			return
		}
		// Nested list items repeat their parent's text; keep the leaf only.
		if tag == "li" && s.Find("li").Length() > 0 {
			return
		}
		blocks = append(blocks, block{para: tag == "p", text: text})
	})
	return blocks
}

func joinBlocks(blocks []block) string {
	parts := make([]string, 0, len(blocks))
	for _, b := range blocks {
		parts = append(parts, b.text)
	}
	return strings.Join(parts, "\n\n")
}

// extractSummary returns the first substantial paragraph. List items
// are content but never the summary; pages often open with hatnote or
// sidebar lists.
func extractSummary(blocks []block) string {
	for _, b := range blocks {
		if b.para && len(b.text) >= 50 {
			return b.text
		}
	}
	return ""
}

// extractSections pairs each heading with the text that follows it, up to
// the next heading of equal or higher rank.
func extractSections(blocks []block) []Section {
	var secs []Section
	for i, b := range blocks {
		if b.level == 0 {
			continue
		}
		var body []string
		for _, nb := range blocks[i+1:] {
			if nb.level != 0 && nb.level <= b.level {
				break
			}
			if nb.level == 0 {
				body = append(body, nb.text)
			}
		}
		secs = append(secs, Section{
			Level: b.level,
			Title: b.text,
			Text:  strings.Join(body, "\n\n"),
		})
	}
	return secs
}

func extractLinks(content *goquery.Selection, base *url.URL) []Link {
	var links []Link
	seen := make(map[string]bool)
	content.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		m := wikiLinkRe.FindStringSubmatch(href)
		if m == nil {
			return
		}
		title := m[1]
		if decoded, err := url.PathUnescape(title); err == nil {
			title = decoded
		}
		title = strings.ReplaceAll(title, "_", " ")
		if title == "" || excludedTitle(title) || seen[title] {
			return
		}
		seen[title] = true
		links = append(links, Link{
			Title:  title,
			URL:    resolveURL(base, href),
			Anchor: collapseSpace(a.Text()),
		})
	})
	return links
}

// excludedTitle filters namespace pages. The href pattern already rejects
// literal colons, but percent-encoded ones survive until after decoding.
func excludedTitle(title string) bool {
	return strings.ContainsRune(title, ':')
}

func resolveURL(base *url.URL, ref string) string {
	if base == nil {
		return ref
	}
	u, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return base.ResolveReference(u).String()
}

func collapseSpace(s string) string {
	// Wikipedia markup leans on non-breaking spaces, which Go's \s
	// class does not cover.
	s = strings.ReplaceAll(s, "\u00a0", " ")
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(s, " "))
}
