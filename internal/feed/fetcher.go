// Package feed polls the deal feed and pushes unseen items onto the queue.
package feed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// ErrFetch wraps every failure to retrieve or parse the feed.
var ErrFetch = errors.New("feed fetch failed")

const (
	DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/113.0.0.0 Safari/537.36"
	acceptHeader     = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9"
	acceptLanguage   = "en-GB,en;q=0.6"

	maxBodyBytes = 8 << 20
)

// Item is one raw feed entry, newest first as the feed returns them.
type Item struct {
	Title      string
	Link       string
	Categories []string
}

type Fetcher interface {
	Fetch(ctx context.Context) ([]Item, error)
}

type HTTPFetcher struct {
	url    string
	ua     string
	client *http.Client
	parser *gofeed.Parser
}

func NewHTTPFetcher(url, userAgent string, timeout time.Duration) *HTTPFetcher {
	if strings.TrimSpace(userAgent) == "" {
		userAgent = DefaultUserAgent
	}
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		url:    url,
		ua:     userAgent,
		client: &http.Client{Timeout: timeout},
		parser: gofeed.NewParser(),
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context) ([]Item, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", acceptHeader)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d", ErrFetch, resp.StatusCode)
	}

	parsed, err := f.parser.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: parse: %w", ErrFetch, err)
	}
	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if it == nil {
			continue
		}
		items = append(items, Item{
			Title:      it.Title,
			Link:       strings.TrimSpace(it.Link),
			Categories: it.Categories,
		})
	}
	return items, nil
}
