package crawl

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tessera-kg/tessera/internal/fetch"
	"github.com/tessera-kg/tessera/internal/profile"
	"github.com/tessera-kg/tessera/internal/store"
)

func TestIsArticleURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"https://en.wikipedia.org/wiki/Perl", true},
		{"http://wikipedia.org/wiki/Perl", true},
		{"https://de.wikipedia.org/wiki/Go_(Programmiersprache)", true},
		{"https://en.wikipedia.org/wiki/File:Foo.jpg", false},
		{"https://en.wikipedia.org/wiki/Category:Languages", false},
		{"https://en.wikipedia.org/wiki/", false},
		{"https://en.wikipedia.org/w/index.php?title=Perl", false},
		{"https://example.com/wiki/Perl", false},
		{"https://notwikipedia.org/wiki/Perl", false},
		{"ftp://en.wikipedia.org/wiki/Perl", false},
		{"::bogus::", false},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, IsArticleURL(tt.url))
		})
	}
}

func TestFrontierOrdering(t *testing.T) {
	fr := newFrontier()
	fr.push(&frontierEntry{url: "d1-low", depth: 1, parentRel: 0.2})
	fr.push(&frontierEntry{url: "d0", depth: 0})
	fr.push(&frontierEntry{url: "d1-high", depth: 1, parentRel: 0.9})
	fr.push(&frontierEntry{url: "d1-high-later", depth: 1, parentRel: 0.9})
	fr.push(&frontierEntry{url: "d2", depth: 2, parentRel: 1.0})

	var order []string
	for fr.len() > 0 {
		order = append(order, fr.pop().url)
	}
	assert.Equal(t, []string{"d0", "d1-high", "d1-high-later", "d1-low", "d2"}, order)
}

// fixtureSite serves a tiny wiki: A links to B and C (and a File page),
// B links back to A, C links nowhere.
func fixtureSite(t *testing.T) *httptest.Server {
	t.Helper()
	page := func(title, body string) string {
		return fmt.Sprintf(`<html><head><title>%s - Wikipedia</title></head>
<body><h1 class="firstHeading">%s</h1>
<div id="mw-content-text">
<p>%s is a topic with a descriptive opening paragraph that is comfortably long enough.</p>
%s
</div></body></html>`, title, title, title, body)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/wiki/Compilers", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page("Compilers", `
<p>See <a href="/wiki/Parsing">parsing theory</a> and
<a href="/wiki/Knitting">knitting</a> and
<a href="/wiki/File:Diagram.svg">a diagram</a>.</p>`)))
	})
	mux.HandleFunc("/wiki/Parsing", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page("Parsing", `
<p>Back to <a href="/wiki/Compilers">compilers</a>.</p>`)))
	})
	mux.HandleFunc("/wiki/Knitting", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(page("Knitting", "")))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	return httptest.NewServer(mux)
}

type testRig struct {
	engine *Engine
	store  *store.Store
	prof   *profile.Profile
}

func newTestRig(t *testing.T, interests ...string) *testRig {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "t.db"),
		slog.New(slog.NewTextHandler(os.Stderr, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	f := fetch.New(fetch.Options{MinDelay: time.Millisecond, MaxPerMinute: 10000})
	prof := profile.New(interests...)
	eng := New(f, st, prof, nil, slog.New(slog.NewTextHandler(os.Stderr, nil)))
	// Fixture pages come from httptest, not wikipedia.org.
	eng.validateURL = func(u string) bool {
		return strings.Contains(u, "/wiki/") && !strings.Contains(u[strings.Index(u, "/wiki/")+6:], ":")
	}
	return &testRig{engine: eng, store: st, prof: prof}
}

func TestSeedOnlyCrawl(t *testing.T) {
	srv := fixtureSite(t)
	defer srv.Close()
	rig := newTestRig(t, "parsing")

	res, err := rig.engine.Crawl(context.Background(), srv.URL+"/wiki/Compilers",
		Options{MaxDepth: 0, MaxArticles: 5})
	require.NoError(t, err)

	assert.Equal(t, store.SessionCompleted, res.Status)
	assert.Equal(t, 1, res.ArticlesCrawled)

	stats, err := rig.store.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Articles)
	assert.Zero(t, stats.Links)

	sess, err := rig.store.GetSession(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, sess.Status)
	assert.Equal(t, 1, sess.ArticlesCrawled)
}

func TestTwoHopCrawlFollowsInterestingLinks(t *testing.T) {
	srv := fixtureSite(t)
	defer srv.Close()
	rig := newTestRig(t, "parsing")

	res, err := rig.engine.Crawl(context.Background(), srv.URL+"/wiki/Compilers",
		Options{MaxDepth: 1, MaxArticles: 10})
	require.NoError(t, err)
	assert.Equal(t, store.SessionCompleted, res.Status)

	ctx := context.Background()
	a, err := rig.store.GetArticleByTitle(ctx, "Compilers")
	require.NoError(t, err)
	require.NotNil(t, a)
	b, err := rig.store.GetArticleByTitle(ctx, "Parsing")
	require.NoError(t, err)
	require.NotNil(t, b, "in-interest link must be followed")

	// The File: page is never fetched and the boring page is skipped.
	k, err := rig.store.GetArticleByTitle(ctx, "Knitting")
	require.NoError(t, err)
	assert.Nil(t, k)

	out, err := rig.store.OutboundLinks(ctx, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, b.ID, out[0].ToID)
	assert.GreaterOrEqual(t, out[0].Score, rig.prof.Threshold())
}

func TestDepthBoundStopsExpansion(t *testing.T) {
	srv := fixtureSite(t)
	defer srv.Close()
	rig := newTestRig(t, "parsing", "compilers")

	// Depth 1: Parsing is crawled but its link back to Compilers is not
	// expanded. The seed is already seen anyway.
	res, err := rig.engine.Crawl(context.Background(), srv.URL+"/wiki/Compilers",
		Options{MaxDepth: 1, MaxArticles: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, res.ArticlesCrawled)
}

func TestMaxArticlesCap(t *testing.T) {
	srv := fixtureSite(t)
	defer srv.Close()
	rig := newTestRig(t, "parsing", "knitting")

	res, err := rig.engine.Crawl(context.Background(), srv.URL+"/wiki/Compilers",
		Options{MaxDepth: 2, MaxArticles: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, res.ArticlesCrawled)
	assert.Equal(t, store.SessionCompleted, res.Status)
}

func TestInvalidSeedEndsWithErrorStatus(t *testing.T) {
	rig := newTestRig(t)
	rig.engine.validateURL = IsArticleURL

	res, err := rig.engine.Crawl(context.Background(), "https://example.com/nope",
		Options{MaxDepth: 1, MaxArticles: 5})
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, store.SessionError, res.Status)

	sess, serr := rig.store.GetSession(context.Background(), res.SessionID)
	require.NoError(t, serr)
	assert.Equal(t, store.SessionError, sess.Status)
}

func TestCancellationMarksSessionStopped(t *testing.T) {
	srv := fixtureSite(t)
	defer srv.Close()
	rig := newTestRig(t, "parsing")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := rig.engine.Crawl(ctx, srv.URL+"/wiki/Compilers",
		Options{MaxDepth: 1, MaxArticles: 10})
	require.NoError(t, err)
	assert.Equal(t, store.SessionStopped, res.Status)
	assert.Zero(t, res.ArticlesCrawled)
}

func TestSoftErrorsDoNotAbortSession(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/wiki/Flaky", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><head></head><body>
<h1 class="firstHeading">Flaky</h1>
<div id="mw-content-text">
<p>Flaky has an opening paragraph long enough to become the article summary text.</p>
<p><a href="/wiki/Gone">a dead link</a> and <a href="/wiki/Alive">a live one</a>.</p>
</div></body></html>`))
	})
	mux.HandleFunc("/wiki/Alive", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><h1 class="firstHeading">Alive</h1>
<div id="mw-content-text"><p>Alive has a perfectly serviceable opening paragraph of sufficient length.</p></div></body></html>`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	rig := newTestRig(t)
	rig.prof.SetThreshold(0.1) // baseline bonus alone clears it

	res, err := rig.engine.Crawl(context.Background(), srv.URL+"/wiki/Flaky",
		Options{MaxDepth: 1, MaxArticles: 10})
	require.NoError(t, err)

	assert.Equal(t, store.SessionCompleted, res.Status)
	assert.Equal(t, 2, res.ArticlesCrawled, "Gone 404s softly, Alive still lands")
	assert.Equal(t, 3, res.ArticlesProcessed)
}

func TestAdaptiveInterestsExtendProfile(t *testing.T) {
	srv := fixtureSite(t)
	defer srv.Close()
	rig := newTestRig(t, "parsing")

	_, err := rig.engine.Crawl(context.Background(), srv.URL+"/wiki/Compilers",
		Options{MaxDepth: 0, MaxArticles: 1, AdaptiveInterests: true})
	require.NoError(t, err)

	assert.Contains(t, rig.prof.Interests(), "compilers")
}
