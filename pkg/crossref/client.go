// Package crossref is a thin client over the Crossref works API, used by
// cascade step 8 of the reference matcher (spec.md §4.3), whose hits join
// the same candidate pool as the OpenAlex steps.
package crossref

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biblioctl/pipeline/pkg/openalex"
)

const baseURL = "https://api.crossref.org"

type Client struct {
	httpClient *http.Client
	mailto     string
}

func NewClient(mailto string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, mailto: mailto}
}

type searchResponse struct {
	Message struct {
		Items []item `json:"items"`
	} `json:"message"`
}

type item struct {
	DOI           string     `json:"DOI"`
	Title         []string   `json:"title"`
	ContainerTitle []string  `json:"container-title"`
	Publisher     string     `json:"publisher"`
	Volume        string     `json:"volume"`
	Issue         string     `json:"issue"`
	Page          string     `json:"page"`
	Type          string     `json:"type"`
	Author        []author   `json:"author"`
	Issued        dateParts  `json:"issued"`
	URL           string     `json:"URL"`
}

type author struct {
	Given  string `json:"given"`
	Family string `json:"family"`
}

type dateParts struct {
	DateParts [][]int `json:"date-parts"`
}

func (d dateParts) year() *int {
	if len(d.DateParts) == 0 || len(d.DateParts[0]) == 0 {
		return nil
	}
	y := d.DateParts[0][0]
	return &y
}

// Search is the step-8 fallback query: title, container, and year folded
// into a single free-text query string, capped at 10 results.
func (c *Client) Search(ctx context.Context, title, container string, year *int) ([]*openalex.Work, error) {
	query := title
	if container != "" {
		query += " " + container
	}
	if year != nil {
		query += fmt.Sprintf(" %d", *year)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("rows", "10")
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}

	body, err := c.get(ctx, fmt.Sprintf("%s/works?%s", baseURL, params.Encode()))
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, nil
	}

	works := make([]*openalex.Work, 0, len(resp.Message.Items))
	for _, it := range resp.Message.Items {
		if w := itemToWork(&it); w != nil {
			works = append(works, w)
		}
	}
	return works, nil
}

// itemToWork converts a Crossref work into the same candidate shape the
// OpenAlex cascade steps produce, so matcher.go can merge them into one
// pool. The key for such a candidate is "crossref:"+doi (see matcher.go).
func itemToWork(it *item) *openalex.Work {
	title := ""
	if len(it.Title) > 0 {
		title = it.Title[0]
	}
	if title == "" {
		return nil
	}

	container := ""
	if len(it.ContainerTitle) > 0 {
		container = it.ContainerTitle[0]
	}

	authors := make([]string, 0, len(it.Author))
	for _, a := range it.Author {
		name := strings.TrimSpace(a.Given + " " + a.Family)
		if name != "" {
			authors = append(authors, name)
		}
	}

	return &openalex.Work{
		DOI:       strings.ToLower(it.DOI),
		Title:     strings.TrimSpace(title),
		Year:      it.Issued.year(),
		Type:      it.Type,
		Authors:   authors,
		Journal:   container,
		Volume:    it.Volume,
		Issue:     it.Issue,
		Pages:     it.Page,
		Publisher: it.Publisher,
		URLSource: it.URL,
	}
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build crossref request: %w", err)
	}
	ua := "biblioctl-pipeline/1.0"
	if c.mailto != "" {
		ua = fmt.Sprintf("biblioctl-pipeline/1.0 (mailto:%s)", c.mailto)
	}
	req.Header.Set("User-Agent", ua)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crossref request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read crossref response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

// HTTPError carries the status code so the rate limiter's error channel can
// distinguish a 429 (quota) from a 5xx (retry) or other failure.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("crossref: status %d: %s", e.StatusCode, e.Body)
}
