package extract

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/scrapejobs/internal/scraper"
	"github.com/JakeFAU/scrapejobs/internal/selector"
)

const baseURL = "https://shop.test/cat"

func parse(t *testing.T, markup string) *selector.Document {
	t.Helper()
	doc, err := selector.ParseString(markup)
	require.NoError(t, err)
	return doc
}

func fields(records []scraper.ExtractedRecord) []map[string]string {
	out := make([]map[string]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.Fields())
	}
	return out
}

func TestExtractContainerScenario(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div class="item"><h2 class="t">Widget</h2><span class="p">$9.99</span></div>`)
	records := Extract(doc, scraper.SelectorConfig{Container: ".item", Title: ".t", Price: ".p"},
		scraper.RunSettings{}, baseURL)

	require.Equal(t, []map[string]string{{"title": "Widget", "price": "$9.99"}}, fields(records))
	raw, err := json.Marshal(records)
	require.NoError(t, err)
	require.JSONEq(t, `[{"title":"Widget","price":"$9.99"}]`, string(raw))
}

func TestExtractIsDeterministic(t *testing.T) {
	t.Parallel()

	markup := `<div class="item"><h2 class="t">A</h2><a href="/a">x</a></div>
<div class="item"><h2 class="t">B</h2><img src="/b.png"></div>`
	cfg := scraper.SelectorConfig{Container: ".item", Title: ".t", Image: ".pic"}
	settings := scraper.RunSettings{IncludeImages: true}

	first, err := json.Marshal(Extract(parse(t, markup), cfg, settings, baseURL))
	require.NoError(t, err)
	for range 5 {
		again, err := json.Marshal(Extract(parse(t, markup), cfg, settings, baseURL))
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestExtractEmptyConfig(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div class="item"><span>one</span></div><div class="item"></div><div class="item"></div>`)

	records := Extract(doc, scraper.SelectorConfig{Container: ".item"}, scraper.RunSettings{}, baseURL)
	require.NotNil(t, records)
	require.Empty(t, records)

	records = Extract(doc, scraper.SelectorConfig{}, scraper.RunSettings{}, baseURL)
	require.Empty(t, records)
}

func TestExtractWholeDocumentKeepsEmptyValues(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<html><body><p class="price"> </p></body></html>`)
	records := Extract(doc, scraper.SelectorConfig{Title: "h1", Price: ".price"}, scraper.RunSettings{}, baseURL)

	require.Equal(t, []map[string]string{{"title": "", "price": ""}}, fields(records))
}

func TestExtractContainerDropsEmptyRecords(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div class="item"><h2 class="t"> </h2></div><div class="item"><h2 class="t">Kept</h2></div>`)
	records := Extract(doc, scraper.SelectorConfig{Container: ".item", Title: ".t"}, scraper.RunSettings{}, baseURL)

	require.Equal(t, []map[string]string{{"title": "Kept"}}, fields(records))
}

func TestExtractImageGating(t *testing.T) {
	t.Parallel()

	markup := `<div class="item"><h2 class="t">A</h2><img class="pic" src="/a.png"></div>`
	for _, cfg := range []scraper.SelectorConfig{
		{Container: ".item", Title: ".t", Image: ".pic"},
		{Title: ".t", Image: ".pic"},
	} {
		records := Extract(parse(t, markup), cfg, scraper.RunSettings{IncludeImages: false}, baseURL)
		require.Len(t, records, 1)
		require.Nil(t, records[0].Image)
	}
}

func TestExtractImageFallbacks(t *testing.T) {
	t.Parallel()

	markup := `
<div class="item"><img class="pic" src="/src.png" data-src="/lazy.png"></div>
<div class="item"><img class="pic" data-src="/lazy.png"></div>
<div class="item"><span class="pic"></span><img src="/first.png"><img src="/second.png"></div>
<div class="item"><span class="pic"></span></div>`
	cfg := scraper.SelectorConfig{Container: ".item", Image: ".pic"}
	records := Extract(parse(t, markup), cfg, scraper.RunSettings{IncludeImages: true}, baseURL)

	require.Equal(t, []map[string]string{
		{"image": "/src.png"},
		{"image": "/lazy.png"},
		{"image": "/first.png"},
	}, fields(records))
}

func TestExtractWholeDocumentSkipsFirstImageFallback(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<span class="pic"></span><img src="/first.png">`)
	records := Extract(doc, scraper.SelectorConfig{Image: ".pic"}, scraper.RunSettings{IncludeImages: true}, baseURL)

	require.Equal(t, []map[string]string{{"image": ""}}, fields(records))
}

func TestExtractTitleFallsBackToAttribute(t *testing.T) {
	t.Parallel()

	markup := `<div class="item"><h2 class="t" title=" Widget "></h2></div>`
	records := Extract(parse(t, markup), scraper.SelectorConfig{Container: ".item", Title: ".t"},
		scraper.RunSettings{}, baseURL)
	require.Equal(t, []map[string]string{{"title": "Widget"}}, fields(records))

	// Whole-document mode deliberately applies the same attribute fallback.
	records = Extract(parse(t, markup), scraper.SelectorConfig{Title: ".t"}, scraper.RunSettings{}, baseURL)
	require.Equal(t, []map[string]string{{"title": "Widget"}}, fields(records))
}

func TestExtractResolvesAnchor(t *testing.T) {
	t.Parallel()

	markup := `
<div class="item"><a href="/p/42">x</a><a href="/p/43">y</a></div>
<div class="item"><a href="https://other.test/abs">z</a></div>
<div class="item"><a>no href</a></div>`
	records := Extract(parse(t, markup), scraper.SelectorConfig{Container: ".item", Title: ".missing"},
		scraper.RunSettings{}, baseURL)

	require.Equal(t, []map[string]string{
		{"url": "https://shop.test/p/42"},
		{"url": "https://other.test/abs"},
	}, fields(records))
}

func TestExtractWholeDocumentIgnoresAnchors(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<h1>Headline</h1><a href="/p/1">x</a>`)
	records := Extract(doc, scraper.SelectorConfig{Title: "h1"}, scraper.RunSettings{}, baseURL)
	require.Equal(t, []map[string]string{{"title": "Headline"}}, fields(records))
}

func TestExtractPreservesDocumentOrder(t *testing.T) {
	t.Parallel()

	markup := `<ul><li class="i"><b>A</b></li><li class="i"><b>B</b></li><li class="i"><b>C</b></li></ul>`
	records := Extract(parse(t, markup), scraper.SelectorConfig{Container: ".i", Title: "b"},
		scraper.RunSettings{}, baseURL)

	require.Equal(t, []map[string]string{{"title": "A"}, {"title": "B"}, {"title": "C"}}, fields(records))
}

func TestExtractUnmatchedSelectorsNeverFail(t *testing.T) {
	t.Parallel()

	doc := parse(t, `<div class="item"><p>nothing useful`)
	records := Extract(doc, scraper.SelectorConfig{Container: ".item", Title: "h9", Price: "[[bad"},
		scraper.RunSettings{}, baseURL)
	require.Empty(t, records)

	require.Empty(t, Extract(nil, scraper.SelectorConfig{Title: "h1"}, scraper.RunSettings{}, baseURL))
}
