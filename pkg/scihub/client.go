// Package scihub scrapes Sci-Hub mirrors for a PDF link given a DOI, the
// fourth source in the download resolver's cascade (spec.md §4.4).
package scihub

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
)

// Client iterates a fixed list of mirrors, rotating the starting point on
// every call so repeated failures don't always hammer the same mirror
// first.
type Client struct {
	httpClient *http.Client
	mirrors    []string

	mu        sync.Mutex
	nextStart int
}

func NewClient(mirrors []string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, mirrors: mirrors}
}

// Result is a located PDF link plus which mirror it came from, for the
// source tag recorded against the downloaded reference.
type Result struct {
	PDFURL string
	Mirror string
}

// Find tries every configured mirror, starting from the next one in
// rotation, and returns the first PDF link found. A 404 on a mirror stops
// the scan entirely since Sci-Hub's mirrors serve identical content.
func (c *Client) Find(ctx context.Context, doi string) (*Result, error) {
	if doi == "" || len(c.mirrors) == 0 {
		return nil, nil
	}

	c.mu.Lock()
	start := c.nextStart
	c.nextStart = (c.nextStart + 1) % len(c.mirrors)
	c.mu.Unlock()

	for i := 0; i < len(c.mirrors); i++ {
		mirror := c.mirrors[(start+i)%len(c.mirrors)]
		pageURL := strings.TrimRight(mirror, "/") + "/" + doi

		body, status, err := c.get(ctx, pageURL)
		if err != nil {
			continue // connection issue with this mirror, try the next
		}
		if status == http.StatusNotFound {
			return nil, nil // content is identical across mirrors; stop scanning
		}
		if status != http.StatusOK {
			continue
		}

		if link := extractPDFLink(body, mirror); link != "" {
			return &Result{PDFURL: link, Mirror: mirror}, nil
		}
	}
	return nil, nil
}

func extractPDFLink(body []byte, mirror string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}

	if src, ok := doc.Find(`embed[type="application/pdf"]`).First().Attr("src"); ok && src != "" {
		return resolveAgainst(mirror, src)
	}
	if src, ok := doc.Find(`iframe#pdf`).First().Attr("src"); ok && src != "" {
		return resolveAgainst(mirror, src)
	}

	var saveLink string
	doc.Find("button, a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		onclick, _ := s.Attr("onclick")
		if idx := strings.Index(onclick, "location.href='"); idx >= 0 {
			rest := onclick[idx+len("location.href='"):]
			if end := strings.Index(rest, "'"); end >= 0 {
				saveLink = rest[:end]
				return false
			}
		}
		return true
	})
	if saveLink != "" {
		return resolveAgainst(mirror, saveLink)
	}
	return ""
}

func resolveAgainst(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return baseURL.ResolveReference(refURL).String()
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("build scihub request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (biblioctl-pipeline)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("scihub request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read scihub response: %w", err)
	}
	return body, resp.StatusCode, nil
}
