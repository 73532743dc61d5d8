// Package libgen scrapes LibGen's search results for a PDF mirror link
// given a title and first author surname, the fifth and optional source in
// the download resolver's cascade (spec.md §4.4).
package libgen

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const searchBaseURL = "https://libgen.li"

var reviewTitleMarkers = []string{"vol.", "iss.", "pp.", "pages", "review of", "book review"}

type Client struct {
	httpClient *http.Client
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Result is one candidate mirror link found in the LibGen results table.
type Result struct {
	Title      string
	MirrorURL  string
}

// Search queries LibGen for title+authorSurname and returns the candidate
// mirror links from rows whose extension column is pdf and that don't look
// like a journal review entry. Callers follow each MirrorURL and attempt a
// PDF resolution against it.
func (c *Client) Search(ctx context.Context, title, authorSurname string) ([]Result, error) {
	if title == "" {
		return nil, nil
	}
	query := strings.TrimSpace(title + " " + authorSurname)

	params := url.Values{}
	params.Set("req", query)
	params.Set("lg_topic", "libgen")
	params.Set("open", "0")
	params.Set("view", "simple")
	params.Set("res", "25")
	params.Set("phrase", "1")
	params.Set("column", "def")
	searchURL := fmt.Sprintf("%s/index.php?%s", searchBaseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build libgen request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (biblioctl-pipeline)")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil // LibGen is optional: report unavailable, resolver skips silently
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, nil
	}

	var results []Result
	doc.Find("table#tablelibgen tr").Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 3 {
			return
		}

		rowTitle := strings.TrimSpace(cells.Eq(0).Text())
		authorCell := strings.ToLower(cells.Eq(1).Text())
		ext := strings.ToLower(strings.TrimSpace(cells.Eq(cells.Length() - 2).Text()))

		if ext != "pdf" {
			return
		}
		if strings.Contains(authorCell, "review by:") {
			return
		}
		lowerTitle := strings.ToLower(rowTitle)
		for _, marker := range reviewTitleMarkers {
			if strings.Contains(lowerTitle, marker) {
				return
			}
		}

		mirrors := cells.Last().Find("a")
		mirrors.Each(func(_ int, a *goquery.Selection) {
			href, ok := a.Attr("href")
			if !ok || href == "" {
				return
			}
			results = append(results, Result{Title: rowTitle, MirrorURL: href})
		})
	})

	return results, nil
}
