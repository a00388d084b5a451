package core

import (
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/doyensec/safeurl"
	"github.com/microcosm-cc/bluemonday"
)

// ErrNoTitle is returned when a page has no usable <title>.
var ErrNoTitle = errors.New("page has no title")

// TitleFetcher looks up a page's <title> so a bookmark can be saved without
// typing one.
type TitleFetcher struct {
	client  *http.Client
	maxSize int64
	policy  *bluemonday.Policy
}

// NewTitleFetcher returns a fetcher whose client refuses private, loopback and
// link-local destinations.
func NewTitleFetcher() *TitleFetcher {
	config := safeurl.GetConfigBuilder().
		SetTimeout(DefaultTitleFetchTimeout).
		SetAllowedSchemes("http", "https").
		SetAllowedPorts(80, 443).
		Build()

	return NewTitleFetcherWithClient(safeurl.Client(config).Client)
}

// NewTitleFetcherWithClient uses the given client as-is.
func NewTitleFetcherWithClient(client *http.Client) *TitleFetcher {
	return &TitleFetcher{
		client:  client,
		maxSize: MaxTitlePageSize,
		policy:  bluemonday.StrictPolicy(),
	}
}

// FetchTitle downloads rawURL and returns its cleaned-up document title.
func (f *TitleFetcher) FetchTitle(ctx context.Context, rawURL string) (string, error) {
	if err := ValidateBookmarkURL(rawURL); err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSpace(rawURL), nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("failed to fetch %s: HTTP %d", rawURL, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, f.maxSize))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title == "" {
		if og, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok {
			title = strings.TrimSpace(og)
		}
	}

	title = cleanTitle(f.policy, title)
	if title == "" {
		return "", ErrNoTitle
	}
	return title, nil
}

// cleanTitle strips markup, collapses whitespace and caps the length.
func cleanTitle(policy *bluemonday.Policy, title string) string {
	title = html.UnescapeString(policy.Sanitize(title))
	title = strings.Join(strings.Fields(title), " ")

	if utf8.RuneCountInString(title) > MaxTitleLength {
		runes := []rune(title)
		title = strings.TrimSpace(string(runes[:MaxTitleLength]))
	}
	return title
}
