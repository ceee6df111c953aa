package wiki

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Ada Lovelace - Wikipedia</title></head>
<body>
<h1 class="firstHeading">Ada Lovelace</h1>
<div id="mw-content-text"><div class="mw-parser-output">
  <div class="hatnote">For other uses, see <a href="/wiki/Ada">Ada</a>.</div>
  <table class="infobox">
    <tr><th>Born</th><td>10 December 1815<br>London, England</td></tr>
    <tr><th>Known&nbsp;for</th><td>Mathematics, computing</td></tr>
    <tr><td colspan="2">portrait</td></tr>
  </table>
  <p>Short.</p>
  <p>Augusta Ada King, Countess of Lovelace, was an English mathematician and
     writer, chiefly known for her work on <a href="/wiki/Analytical_engine">Charles
     Babbage's proposed mechanical computer</a>, the Analytical Engine.</p>
  <div class="thumb">
    <img src="//upload.wikimedia.org/ada_portrait.jpg" width="220" height="300">
    <img src="//upload.wikimedia.org/icon.png" width="16" height="16">
  </div>
  <h2>Early life<span class="mw-editsection">[edit]</span></h2>
  <p>Lovelace was the only legitimate child of the poet
     <a href="/wiki/Lord_Byron">Lord Byron</a> and his wife
     <a href="/wiki/Anne_Isabella_Byron">Anne Isabella Milbanke</a>.
     See also <a href="/wiki/File:Ada.jpg">a picture</a> and
     <a href="/wiki/Template:Infobox">a template</a>.</p>
  <h3>Childhood</h3>
  <p>Her childhood involved rigorous study of mathematics, arranged by her
     mother to ward off what she saw as dangerous poetic tendencies.</p>
  <h2>Work</h2>
  <p>Her notes on the <a href="/wiki/Analytical_engine">Analytical Engine</a>
     include what is regarded as the first computer program.</p>
  <table class="navbox"><tr><td><a href="/wiki/Computer_science">Computer science</a></td></tr></table>
  <span class="geo">51.5236; -0.1538</span>
</div></div>
<div id="catlinks">
  <a href="/wiki/Category:1815_births">1815 births</a>
  <a href="/wiki/Category:English_mathematicians">English mathematicians</a>
  <a href="/wiki/Category:English_mathematicians">English mathematicians</a>
</div>
</body>
</html>`

func mustParse(t *testing.T) *Article {
	t.Helper()
	art, err := Parse([]byte(articleHTML), "https://en.wikipedia.org/wiki/Ada_Lovelace")
	require.NoError(t, err)
	return art
}

func TestParseTitle(t *testing.T) {
	art := mustParse(t)
	assert.Equal(t, "Ada Lovelace", art.Title)
}

func TestParseTitleFallback(t *testing.T) {
	html := `<html><head><title>Perl - Wikipedia</title></head><body><p>x</p></body></html>`
	art, err := Parse([]byte(html), "https://en.wikipedia.org/wiki/Perl")
	require.NoError(t, err)
	assert.Equal(t, "Perl", art.Title)
}

func TestParseSummarySkipsShortParagraphs(t *testing.T) {
	art := mustParse(t)
	assert.Contains(t, art.Summary, "Augusta Ada King")
	assert.NotEqual(t, "Short.", art.Summary)
}

func TestParseSummaryIgnoresLeadingListItems(t *testing.T) {
	html := `<html><head><title>Timeline of computing - Wikipedia</title></head><body>
<div id="mw-content-text">
  <ul>
    <li>1837: Charles Babbage describes the Analytical Engine, a general-purpose mechanical computer.</li>
  </ul>
  <p>This timeline lists notable events in the history of computing machinery and software.</p>
</div>
</body></html>`
	art, err := Parse([]byte(html), "https://en.wikipedia.org/wiki/Timeline_of_computing")
	require.NoError(t, err)
	assert.Equal(t, "This timeline lists notable events in the history of computing machinery and software.", art.Summary)
	// The list item is still article content, just never the summary.
	assert.Contains(t, art.Content, "Charles Babbage describes")
}

func TestParseInfobox(t *testing.T) {
	art := mustParse(t)
	require.NotNil(t, art.Infobox)
	assert.Contains(t, art.Infobox["born"], "10 December 1815")
	assert.Contains(t, art.Infobox, "known_for")
	// Rows without a header cell are skipped.
	assert.Len(t, art.Infobox, 2)
}

func TestParseCategories(t *testing.T) {
	art := mustParse(t)
	assert.Equal(t, []string{"1815 births", "English mathematicians"}, art.Categories)
}

func TestParseLinks(t *testing.T) {
	art := mustParse(t)

	titles := make([]string, 0, len(art.Links))
	for _, l := range art.Links {
		titles = append(titles, l.Title)
	}

	// First-occurrence order, deduplicated, namespaces excluded,
	// navbox links pruned.
	assert.Equal(t, []string{
		"Ada", "Analytical engine", "Lord Byron", "Anne Isabella Byron",
	}, titles)

	assert.Equal(t, "https://en.wikipedia.org/wiki/Lord_Byron", art.Links[2].URL)
	assert.Equal(t, "Lord Byron", art.Links[2].Anchor)
}

func TestParseSections(t *testing.T) {
	art := mustParse(t)

	require.Len(t, art.Sections, 3) // the firstHeading h1 sits outside content
	assert.Equal(t, "Early life", art.Sections[0].Title)
	assert.Equal(t, 2, art.Sections[0].Level)
	assert.Equal(t, "Childhood", art.Sections[1].Title)
	assert.Equal(t, 3, art.Sections[1].Level)
	assert.Equal(t, "Work", art.Sections[2].Title)

	// An h2 body spans its h3 subsections; the h3 body stops at the next h2.
	assert.Contains(t, art.Sections[0].Text, "only legitimate child")
	assert.Contains(t, art.Sections[0].Text, "rigorous study")
	assert.NotContains(t, art.Sections[1].Text, "first computer program")
}

func TestParseImages(t *testing.T) {
	art := mustParse(t)
	require.Len(t, art.Images, 1)
	assert.Equal(t, "https://upload.wikimedia.org/ada_portrait.jpg", art.Images[0])
}

func TestParseCoordinates(t *testing.T) {
	art := mustParse(t)
	require.NotNil(t, art.Coordinates)
	assert.InDelta(t, 51.5236, art.Coordinates.Lat, 1e-9)
	assert.InDelta(t, -0.1538, art.Coordinates.Lon, 1e-9)
}

func TestParseContentPrunesChrome(t *testing.T) {
	art := mustParse(t)
	assert.NotContains(t, art.Content, "For other uses")
	assert.NotContains(t, art.Content, "[edit]")
	assert.Contains(t, art.Content, "Early life")
	assert.Contains(t, art.Content, "first computer program")
}

func TestParseEmptyDocument(t *testing.T) {
	art, err := Parse([]byte("<html><body></body></html>"), "https://en.wikipedia.org/wiki/Empty")
	require.NoError(t, err)
	assert.Empty(t, art.Title)
	assert.Empty(t, art.Summary)
	assert.Empty(t, art.Links)
	assert.Nil(t, art.Coordinates)
	assert.Nil(t, art.Infobox)
}
