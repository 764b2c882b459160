// Package sources renders the web sources cited by the research phase as
// markdown previews.
package sources

import (
	"context"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/c360studio/datafactory/challenge"
	"github.com/c360studio/datafactory/config"
)

// Preview is a rendered source page.
type Preview struct {
	URL       string
	Title     string
	Markdown  string
	FetchedAt time.Time
}

// Previewer fetches and converts source pages, caching results by URL.
type Previewer struct {
	fetcher   *Fetcher
	converter *Converter
	cache     *cache.Cache
	logger    *slog.Logger
}

// Option configures a Previewer.
type Option func(*Previewer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Previewer) {
		p.logger = logger
	}
}

// WithFetcher replaces the default fetcher.
func WithFetcher(f *Fetcher) Option {
	return func(p *Previewer) {
		p.fetcher = f
	}
}

// NewPreviewer creates a previewer from the sources config.
func NewPreviewer(cfg config.SourcesConfig, opts ...Option) *Previewer {
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = cache.NoExpiration
	}
	p := &Previewer{
		fetcher:   NewFetcher(cfg.FetchTimeout, cfg.UserAgent, cfg.MaxContentSize),
		converter: NewConverter(),
		cache:     cache.New(ttl, 10*time.Minute),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Preview fetches rawURL and renders it. Plain text and markdown bodies
// are returned unchanged.
func (p *Previewer) Preview(ctx context.Context, rawURL string) (*Preview, error) {
	rawURL = strings.TrimSpace(rawURL)
	if cached, ok := p.cache.Get(rawURL); ok {
		return cached.(*Preview), nil
	}

	page, err := p.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("fetch source %s: %w", rawURL, err)
	}

	preview := &Preview{URL: rawURL, FetchedAt: time.Now()}
	mediaType, _, _ := mime.ParseMediaType(page.ContentType)
	switch mediaType {
	case "text/plain", "text/markdown":
		preview.Markdown = strings.TrimSpace(string(page.Body))
		preview.Title = firstHeading(preview.Markdown)
	default:
		title, markdown, err := p.converter.Convert(page.Body)
		if err != nil {
			return nil, fmt.Errorf("convert source %s: %w", rawURL, err)
		}
		preview.Title, preview.Markdown = title, markdown
	}

	p.cache.SetDefault(rawURL, preview)
	p.logger.Debug("Source previewed",
		slog.String("url", rawURL),
		slog.Int("markdown_bytes", len(preview.Markdown)))
	return preview, nil
}

// PreviewSource renders a research source, falling back to the title the
// research stage reported when the page has none.
func (p *Previewer) PreviewSource(ctx context.Context, src challenge.ResearchSource) (*Preview, error) {
	if strings.TrimSpace(src.URL) == "" {
		return nil, fmt.Errorf("source %q has no URL", src.Title)
	}
	preview, err := p.Preview(ctx, src.URL)
	if err != nil {
		return nil, err
	}
	if preview.Title == "" {
		out := *preview
		out.Title = src.Title
		return &out, nil
	}
	return preview, nil
}

// Forget drops a cached preview.
func (p *Previewer) Forget(rawURL string) {
	p.cache.Delete(strings.TrimSpace(rawURL))
}
