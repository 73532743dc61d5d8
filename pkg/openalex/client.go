// Package openalex is a thin client over the OpenAlex works API, used by
// the reference matcher's search cascade (spec.md §4.3).
package openalex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const baseURL = "https://api.openalex.org"

// Client is an OpenAlex works API client. OpenAlex has no hard rate limit
// but rewards a contact email with the "polite pool" — faster, more
// reliable responses — so every request carries mailto when configured.
type Client struct {
	httpClient *http.Client
	mailto     string
}

func NewClient(mailto string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{httpClient: &http.Client{Timeout: timeout}, mailto: mailto}
}

// Work is a parsed OpenAlex work, the candidate shape the matcher cascade
// merges into its candidate pool.
type Work struct {
	ID              string
	DOI             string
	Title           string
	Year            *int
	Type            string
	Authors         []string
	Abstract        string
	Journal         string
	Volume          string
	Issue           string
	Pages           string
	Publisher       string
	URLSource       string
	ReferencedWorks []string
	CitedByAPIURL   string
	CitedByCount    int
}

// QuoteMode selects one of the three title-query shapes the cascade tries
// in decreasing order of exactness.
type QuoteMode int

const (
	// ExactDisplayName matches display_name:"<title>" verbatim.
	ExactDisplayName QuoteMode = iota
	// SearchQuoted uses the title.search operator with a quoted phrase.
	SearchQuoted
	// SearchUnquoted uses the title.search operator with bare words.
	SearchUnquoted
)

type searchResponse struct {
	Meta struct {
		Count int `json:"count"`
	} `json:"meta"`
	Results []workResult `json:"results"`
}

type workResult struct {
	ID                    string                 `json:"id"`
	DOI                   string                 `json:"doi"`
	Title                 string                 `json:"title"`
	DisplayName           string                 `json:"display_name"`
	PublicationYear       int                    `json:"publication_year"`
	Type                  string                 `json:"type"`
	CitedByCount          int                    `json:"cited_by_count"`
	CitedByAPIURL         string                 `json:"cited_by_api_url"`
	ReferencedWorks       []string               `json:"referenced_works"`
	Authorships           []authorship           `json:"authorships"`
	PrimaryLocation       *location              `json:"primary_location"`
	Biblio                *biblio                `json:"biblio"`
	AbstractInvertedIndex map[string][]int       `json:"abstract_inverted_index"`
	Ids                   map[string]interface{} `json:"ids"`
}

type authorship struct {
	Author struct {
		DisplayName string `json:"display_name"`
	} `json:"author"`
}

type location struct {
	LandingPageURL string  `json:"landing_page_url"`
	PDFURL         string  `json:"pdf_url"`
	Source         *source `json:"source"`
}

type source struct {
	DisplayName          string `json:"display_name"`
	HostOrganizationName string `json:"host_organization_name"`
}

type biblio struct {
	Volume    string `json:"volume"`
	Issue     string `json:"issue"`
	FirstPage string `json:"first_page"`
	LastPage  string `json:"last_page"`
}

// FilterDOI is cascade step 0: an exact DOI filter lookup. doi must already
// be normalized (lowercase, no scheme prefix).
func (c *Client) FilterDOI(ctx context.Context, doi string) ([]*Work, error) {
	if doi == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("filter", "doi:"+doi)
	return c.doSearch(ctx, params)
}

// FilterTitleYear implements cascade steps 1-6: a title (optionally combined
// with the container/journal name via OR) filter, optionally narrowed by
// publication year, at one of three exactness levels.
func (c *Client) FilterTitleYear(ctx context.Context, title, container string, year *int, mode QuoteMode) ([]*Work, error) {
	if title == "" {
		return nil, nil
	}
	filters := []string{titleFilter(title, container, mode)}
	if year != nil {
		filters = append(filters, fmt.Sprintf("publication_year:%d", *year))
	}
	params := url.Values{}
	params.Set("filter", strings.Join(filters, ","))
	return c.doSearch(ctx, params)
}

func titleFilter(title, container string, mode QuoteMode) string {
	switch mode {
	case ExactDisplayName:
		clause := quote(title)
		if container != "" {
			clause += "|" + quote(container)
		}
		return "display_name:" + clause
	case SearchQuoted:
		clause := quote(title)
		if container != "" {
			clause += "|" + quote(container)
		}
		return "title.search:" + clause
	default: // SearchUnquoted
		clause := title
		if container != "" {
			clause += "|" + container
		}
		return "title.search:" + clause
	}
}

func quote(s string) string { return `"` + s + `"` }

// Search is cascade steps 7 and 9: a free-text query over the whole works
// index (title when present, the container name as a fallback).
func (c *Client) Search(ctx context.Context, query string) ([]*Work, error) {
	if query == "" {
		return nil, nil
	}
	params := url.Values{}
	params.Set("search", query)
	params.Set("per_page", "10")
	return c.doSearch(ctx, params)
}

// GetWorksByIDs batches the referenced-works enrichment lookup. Callers are
// responsible for chunking ids into groups of at most 50, per spec.md §4.3.
func (c *Client) GetWorksByIDs(ctx context.Context, ids []string) ([]*Work, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	bare := make([]string, len(ids))
	for i, id := range ids {
		bare[i] = strings.TrimPrefix(id, "https://openalex.org/")
	}
	params := url.Values{}
	params.Set("filter", "openalex_id:"+strings.Join(bare, "|"))
	params.Set("per_page", fmt.Sprintf("%d", len(ids)))
	return c.doSearch(ctx, params)
}

// PaginateCitedBy walks a work's cited_by_api_url, collecting citing-work
// IDs until max is reached or pages are exhausted.
func (c *Client) PaginateCitedBy(ctx context.Context, citedByAPIURL string, perPage, max int) ([]string, error) {
	if citedByAPIURL == "" || max <= 0 {
		return nil, nil
	}
	if perPage <= 0 || perPage > 200 {
		perPage = 100
	}

	var out []string
	cursor := "*"
	for len(out) < max {
		reqURL := fmt.Sprintf("%s&per_page=%d&cursor=%s", citedByAPIURL, perPage, url.QueryEscape(cursor))
		if c.mailto != "" {
			reqURL += "&mailto=" + url.QueryEscape(c.mailto)
		}
		body, err := c.get(ctx, reqURL)
		if err != nil {
			return out, err
		}

		var page struct {
			Meta struct {
				NextCursor string `json:"next_cursor"`
			} `json:"meta"`
			Results []struct {
				ID string `json:"id"`
			} `json:"results"`
		}
		if err := json.Unmarshal(body, &page); err != nil {
			return out, nil
		}
		if len(page.Results) == 0 {
			break
		}
		for _, r := range page.Results {
			out = append(out, r.ID)
			if len(out) >= max {
				return out, nil
			}
		}
		if page.Meta.NextCursor == "" {
			break
		}
		cursor = page.Meta.NextCursor
	}
	return out, nil
}

func (c *Client) doSearch(ctx context.Context, params url.Values) ([]*Work, error) {
	if c.mailto != "" {
		params.Set("mailto", c.mailto)
	}
	reqURL := fmt.Sprintf("%s/works?%s", baseURL, params.Encode())
	body, err := c.get(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		// a malformed page must not abort the cascade (spec.md §4.3)
		return nil, nil
	}

	works := make([]*Work, 0, len(resp.Results))
	for i := range resp.Results {
		if w := workResultToWork(&resp.Results[i]); w != nil {
			works = append(works, w)
		}
	}
	return works, nil
}

func (c *Client) get(ctx context.Context, reqURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build openalex request: %w", err)
	}
	ua := "biblioctl-pipeline/1.0"
	if c.mailto != "" {
		ua = fmt.Sprintf("biblioctl-pipeline/1.0 (mailto:%s)", c.mailto)
	}
	req.Header.Set("User-Agent", ua)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openalex request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read openalex response: %w", err)
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
	return fmt.Sprintf("openalex: status %d: %s", e.StatusCode, e.Body)
}

func workResultToWork(w *workResult) *Work {
	title := w.Title
	if title == "" {
		title = w.DisplayName
	}
	if title == "" {
		return nil
	}

	authors := make([]string, 0, len(w.Authorships))
	for _, a := range w.Authorships {
		if a.Author.DisplayName != "" {
			authors = append(authors, a.Author.DisplayName)
		}
	}

	var year *int
	if w.PublicationYear > 0 {
		y := w.PublicationYear
		year = &y
	}

	urlSource := ""
	journal := ""
	publisher := ""
	if w.PrimaryLocation != nil {
		if w.PrimaryLocation.PDFURL != "" {
			urlSource = w.PrimaryLocation.PDFURL
		} else if w.PrimaryLocation.LandingPageURL != "" {
			urlSource = w.PrimaryLocation.LandingPageURL
		}
		if w.PrimaryLocation.Source != nil {
			journal = w.PrimaryLocation.Source.DisplayName
			publisher = w.PrimaryLocation.Source.HostOrganizationName
		}
	}
	if urlSource == "" && w.DOI != "" {
		urlSource = w.DOI
	}

	volume, issue, pages := "", "", ""
	if w.Biblio != nil {
		volume = w.Biblio.Volume
		issue = w.Biblio.Issue
		if w.Biblio.FirstPage != "" {
			pages = w.Biblio.FirstPage
			if w.Biblio.LastPage != "" {
				pages += "-" + w.Biblio.LastPage
			}
		}
	}

	return &Work{
		ID:              strings.TrimPrefix(w.ID, "https://openalex.org/"),
		DOI:             strings.TrimPrefix(w.DOI, "https://doi.org/"),
		Title:           strings.TrimSpace(title),
		Year:            year,
		Type:            w.Type,
		Authors:         authors,
		Abstract:        ReconstructAbstract(w.AbstractInvertedIndex),
		Journal:         journal,
		Volume:          volume,
		Issue:           issue,
		Pages:           pages,
		Publisher:       publisher,
		URLSource:       urlSource,
		ReferencedWorks: w.ReferencedWorks,
		CitedByAPIURL:   w.CitedByAPIURL,
		CitedByCount:    w.CitedByCount,
	}
}

// ReconstructAbstract rebuilds a plain-text abstract from OpenAlex's
// inverted-index format ({"word": [position, ...], ...}); nil input yields
// an empty string.
func ReconstructAbstract(invertedIndex map[string][]int) string {
	if len(invertedIndex) == 0 {
		return ""
	}

	maxPos := 0
	for _, positions := range invertedIndex {
		for _, pos := range positions {
			if pos > maxPos {
				maxPos = pos
			}
		}
	}

	words := make([]string, maxPos+1)
	for word, positions := range invertedIndex {
		for _, pos := range positions {
			if pos >= 0 && pos <= maxPos {
				words[pos] = word
			}
		}
	}

	var sb strings.Builder
	for _, word := range words {
		if word == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(word)
	}
	return sb.String()
}
