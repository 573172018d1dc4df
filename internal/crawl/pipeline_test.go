package crawl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codigosgratis/wikisync/internal/extract"
	"github.com/codigosgratis/wikisync/internal/fetch"
)

type fakeFetcher struct {
	lastURL string
	resp    fetch.Response
	err     error
}

func (f *fakeFetcher) Get(_ context.Context, rawURL string) (fetch.Response, error) {
	f.lastURL = rawURL
	return f.resp, f.err
}

func TestNewPipelineRejectsBadTemplate(t *testing.T) {
	_, err := NewPipeline(&fakeFetcher{}, "https://example.com/wiki/page", extract.Options{}, zap.NewNop())
	require.Error(t, err)
}

func TestURLForEscapesLocator(t *testing.T) {
	p, err := NewPipeline(&fakeFetcher{}, "https://example.com/wiki/%s", extract.Options{}, zap.NewNop())
	require.NoError(t, err)

	require.Equal(t, "https://example.com/wiki/Some%20Page", p.URLFor(Target{ID: "x", Locator: "Some Page"}))
	// No locator: the id itself is the page name.
	require.Equal(t, "https://example.com/wiki/fallback", p.URLFor(Target{ID: "fallback"}))
}

func TestProcessExtractsEmbeddedValue(t *testing.T) {
	doc := `<html><script>window.__DATA__ = "{\"codes\":[{\"code\":\"ABC\"}]}";</script></html>`
	f := &fakeFetcher{resp: fetch.Response{StatusCode: 200, Body: []byte(doc)}}
	p, err := NewPipeline(f, "https://example.com/wiki/%s", extract.Options{
		Marker:  `\"codes\":`,
		Escaped: true,
	}, zap.NewNop())
	require.NoError(t, err)

	res, err := p.Process(context.Background(), Target{ID: "abc"})
	require.NoError(t, err)
	require.Equal(t, extract.StatusFound, res.Status)
	require.JSONEq(t, `[{"code":"ABC"}]`, string(res.Payload))
	require.Equal(t, "https://example.com/wiki/abc", f.lastURL)
}

func TestProcessMissingPageIsNotAnError(t *testing.T) {
	f := &fakeFetcher{resp: fetch.Response{StatusCode: 404}}
	p, err := NewPipeline(f, "https://example.com/wiki/%s", extract.Options{Marker: "x"}, zap.NewNop())
	require.NoError(t, err)

	res, err := p.Process(context.Background(), Target{ID: "gone"})
	require.NoError(t, err)
	require.Equal(t, extract.StatusNotFound, res.Status)
}

func TestProcessPropagatesFetchFailure(t *testing.T) {
	f := &fakeFetcher{err: errors.New("connection refused")}
	p, err := NewPipeline(f, "https://example.com/wiki/%s", extract.Options{Marker: "x"}, zap.NewNop())
	require.NoError(t, err)

	_, err = p.Process(context.Background(), Target{ID: "a"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "fetch a")
}
