// Package arxiv wraps arXiv's Atom search API as an alternate keyword-search
// backend; GetReference also fetches a single entry by arXiv ID.
package arxiv

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
)

const baseURL = "http://export.arxiv.org/api/query"

type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type SearchResult struct {
	References   []*domain.Reference
	TotalResults int
}

// Feed represents the arXiv Atom feed response
type Feed struct {
	XMLName      xml.Name `xml:"feed"`
	TotalResults int      `xml:"totalResults"`
	Entries      []Entry  `xml:"entry"`
}

type Entry struct {
	ID        string     `xml:"id"`
	Title     string     `xml:"title"`
	Summary   string     `xml:"summary"`
	Published string     `xml:"published"`
	Updated   string     `xml:"updated"`
	Authors   []Author   `xml:"author"`
	Links     []Link     `xml:"link"`
	Category  []Category `xml:"category"`
}

type Author struct {
	Name        string `xml:"name"`
	Affiliation string `xml:"affiliation"`
}

type Link struct {
	Href  string `xml:"href,attr"`
	Rel   string `xml:"rel,attr"`
	Type  string `xml:"type,attr"`
	Title string `xml:"title,attr"`
}

type Category struct {
	Term string `xml:"term,attr"`
}

func (c *Client) Search(query string, limit, offset int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	params := url.Values{}
	params.Set("search_query", fmt.Sprintf("all:%s", query))
	params.Set("start", fmt.Sprintf("%d", offset))
	params.Set("max_results", fmt.Sprintf("%d", limit))
	params.Set("sortBy", "relevance")
	params.Set("sortOrder", "descending")

	reqURL := fmt.Sprintf("%s?%s", baseURL, params.Encode())

	resp, err := c.httpClient.Get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("arxiv API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read arxiv response: %w", err)
	}

	var feed Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse arxiv response: %w", err)
	}

	refs := make([]*domain.Reference, 0, len(feed.Entries))
	for _, entry := range feed.Entries {
		if ref := entryToReference(&entry); ref != nil {
			refs = append(refs, ref)
		}
	}

	return &SearchResult{
		References:   refs,
		TotalResults: feed.TotalResults,
	}, nil
}

func (c *Client) GetReference(arxivID string) (*domain.Reference, error) {
	params := url.Values{}
	params.Set("id_list", arxivID)

	reqURL := fmt.Sprintf("%s?%s", baseURL, params.Encode())

	resp, err := c.httpClient.Get(reqURL)
	if err != nil {
		return nil, fmt.Errorf("arxiv API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read arxiv response: %w", err)
	}

	var feed Feed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("failed to parse arxiv response: %w", err)
	}

	if len(feed.Entries) == 0 {
		return nil, nil
	}

	return entryToReference(&feed.Entries[0]), nil
}

func entryToReference(entry *Entry) *domain.Reference {
	// Extract arXiv ID from the full URL
	// e.g., "http://arxiv.org/abs/2301.00001v1" -> "2301.00001"
	arxivID := extractArxivID(entry.ID)
	if arxivID == "" {
		return nil
	}

	authors := make([]string, 0, len(entry.Authors))
	for _, a := range entry.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}

	var year *int
	if entry.Published != "" {
		if t, err := time.Parse(time.RFC3339, entry.Published); err == nil {
			y := t.Year()
			year = &y
		}
	}

	pdfURL := fmt.Sprintf("https://arxiv.org/pdf/%s", arxivID)
	for _, link := range entry.Links {
		if link.Title == "pdf" || link.Type == "application/pdf" {
			pdfURL = link.Href
			break
		}
	}

	return &domain.Reference{
		Title:              strings.TrimSpace(entry.Title),
		Authors:            authors,
		Year:               year,
		ArXivID:            arxivID,
		Abstract:           strings.TrimSpace(entry.Summary),
		URLSource:          pdfURL,
		MetadataSourceType: "keyword_search:arxiv",
	}
}

func extractArxivID(fullURL string) string {
	// Handle formats like:
	// "http://arxiv.org/abs/2301.00001v1"
	// "http://arxiv.org/abs/hep-th/9901001v1"
	parts := strings.Split(fullURL, "/abs/")
	if len(parts) != 2 {
		return ""
	}
	id := parts[1]
	// Remove version suffix
	if idx := strings.LastIndex(id, "v"); idx > 0 {
		versionPart := id[idx+1:]
		isVersion := true
		for _, c := range versionPart {
			if c < '0' || c > '9' {
				isVersion = false
				break
			}
		}
		if isVersion && len(versionPart) > 0 {
			id = id[:idx]
		}
	}
	return id
}
