package fetch

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

const defaultMaxBody = 2 << 20

// LocalFetcher downloads the page directly and reduces it to plain text.
// It is the last resort when no provider key is configured.
type LocalFetcher struct {
	client  *http.Client
	maxBody int64
}

// NewLocalFetcher creates a LocalFetcher. maxBody <= 0 uses 2 MiB.
func NewLocalFetcher(maxBody int64) *LocalFetcher {
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}
	return &LocalFetcher{
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				DialContext:         (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		maxBody: maxBody,
	}
}

// Name implements Fetcher.
func (l *LocalFetcher) Name() string { return "local_http" }

// Fetch implements Fetcher.
func (l *LocalFetcher) Fetch(ctx context.Context, url string, _ Options) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: create request")
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; VenueLeadsBot/1.0)")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "local_http: fetch")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBody))
	if err != nil {
		return nil, eris.Wrap(err, "local_http: read body")
	}

	if blocked, kind := DetectBlock(resp, body); blocked {
		return nil, eris.Errorf("local_http: blocked (%s)", kind)
	}
	if resp.StatusCode >= 400 {
		return nil, eris.Errorf("local_http: status %d", resp.StatusCode)
	}

	text, err := pageText(body)
	if err != nil {
		return nil, err
	}
	if len(text) < 50 {
		return nil, eris.New("local_http: empty page")
	}
	return &Result{Success: true, Content: text, Source: l.Name()}, nil
}

// pageText renders the title, meta description, visible body text and any
// mailto/tel links of an HTML document.
func pageText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", eris.Wrap(err, "local_http: parse html")
	}
	doc.Find("script, style, noscript, svg, iframe").Remove()

	var parts []string
	if title := collapse(doc.Find("title").First().Text()); title != "" {
		parts = append(parts, "# "+title)
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok && strings.TrimSpace(desc) != "" {
		parts = append(parts, collapse(desc))
	}
	if text := collapse(doc.Find("body").Text()); text != "" {
		parts = append(parts, text)
	}

	var links []string
	doc.Find(`a[href^="mailto:"], a[href^="tel:"]`).Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		links = append(links, href)
	})
	if len(links) > 0 {
		parts = append(parts, "Contact links: "+strings.Join(links, ", "))
	}
	return strings.Join(parts, "\n\n"), nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
