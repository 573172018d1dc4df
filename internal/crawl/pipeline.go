package crawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/codigosgratis/wikisync/internal/extract"
	"github.com/codigosgratis/wikisync/internal/fetch"
)

// Fetcher retrieves a document body for a URL.
type Fetcher interface {
	Get(ctx context.Context, rawURL string) (fetch.Response, error)
}

// Pipeline chains fetch and extract into a Processor. A 404 is a
// terminal "no data" outcome, not an error.
type Pipeline struct {
	fetcher     Fetcher
	urlTemplate string
	opts        extract.Options
	logger      *zap.Logger
}

// NewPipeline builds a Pipeline. urlTemplate must contain a single %s
// placeholder for the target locator.
func NewPipeline(fetcher Fetcher, urlTemplate string, opts extract.Options, logger *zap.Logger) (*Pipeline, error) {
	if !strings.Contains(urlTemplate, "%s") {
		return nil, fmt.Errorf("url template %q has no %%s placeholder", urlTemplate)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:     fetcher,
		urlTemplate: urlTemplate,
		opts:        opts,
		logger:      logger,
	}, nil
}

// URLFor renders the request URL for a target, path-escaping its
// locator. Targets without an explicit locator fall back to their id.
func (p *Pipeline) URLFor(t Target) string {
	loc := t.Locator
	if loc == "" {
		loc = t.ID
	}
	return fmt.Sprintf(p.urlTemplate, url.PathEscape(loc))
}

// Process fetches the target's document and extracts the embedded
// value from it.
func (p *Pipeline) Process(ctx context.Context, t Target) (*extract.Result, error) {
	u := p.URLFor(t)
	resp, err := p.fetcher.Get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", t.ID, err)
	}
	if resp.NotFound() {
		p.logger.Debug("target page missing", zap.String("id", t.ID), zap.String("url", u))
		return &extract.Result{Status: extract.StatusNotFound}, nil
	}

	res := extract.Extract(string(resp.Body), p.opts)
	return &res, nil
}
