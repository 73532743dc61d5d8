// Package semanticscholar is an alternate keyword-search backend for
// biblio keyword-search, used when a reference has neither a DOI nor a
// close-enough OpenAlex/Crossref title match.
package semanticscholar

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
)

const apiBaseURL = "https://api.semanticscholar.org/graph/v1"

type Client struct {
	httpClient *http.Client
}

func NewClient() *Client {
	return &Client{
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

type SearchResult struct {
	References   []*domain.Reference
	TotalResults int
}

// API response types
type searchResponse struct {
	Total  int           `json:"total"`
	Offset int           `json:"offset"`
	Data   []paperResult `json:"data"`
}

type paperResult struct {
	PaperID         string         `json:"paperId"`
	Title           string         `json:"title"`
	Abstract        string         `json:"abstract"`
	Year            int            `json:"year"`
	CitationCount   int            `json:"citationCount"`
	URL             string         `json:"url"`
	Authors         []authorInfo   `json:"authors"`
	ExternalIDs     externalIDs    `json:"externalIds"`
	OpenAccessPDF   *openAccessPDF `json:"openAccessPdf"`
	PublicationDate string         `json:"publicationDate"` // "YYYY-MM-DD"
}

type authorInfo struct {
	AuthorID string `json:"authorId"`
	Name     string `json:"name"`
}

type externalIDs struct {
	ArXiv  string `json:"ArXiv"`
	DOI    string `json:"DOI"`
	PubMed string `json:"PubMed"`
	PMCID  string `json:"PMCID,omitempty"`
}

type openAccessPDF struct {
	URL    string `json:"url"`
	Status string `json:"status"`
}

// Search queries Semantic Scholar's /paper/search endpoint. sortBy can
// be "relevance", "citationCount", or "publicationDate".
func (c *Client) Search(query string, limit, offset int, sortBy string) (*SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	params := url.Values{}
	params.Set("query", query)
	params.Set("offset", fmt.Sprintf("%d", offset))
	params.Set("limit", fmt.Sprintf("%d", limit))
	params.Set("fields", "title,abstract,year,citationCount,url,authors,externalIds,openAccessPdf,publicationDate")

	switch sortBy {
	case "citationCount":
		params.Set("sort", "citationCount:desc")
	case "publicationDate":
		params.Set("sort", "publicationDate:desc")
	}

	reqURL := fmt.Sprintf("%s/paper/search?%s", apiBaseURL, params.Encode())

	req, err := http.NewRequest("GET", reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "biblioctl-pipeline/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("semantic scholar API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("semantic scholar API returned status %d: %s", resp.StatusCode, string(body))
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var searchResp searchResponse
	if err := json.Unmarshal(body, &searchResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	refs := make([]*domain.Reference, 0, len(searchResp.Data))
	for _, result := range searchResp.Data {
		if ref := resultToReference(&result); ref != nil {
			refs = append(refs, ref)
		}
	}

	return &SearchResult{
		References:   refs,
		TotalResults: searchResp.Total,
	}, nil
}

func resultToReference(r *paperResult) *domain.Reference {
	if r.Title == "" {
		return nil
	}

	authors := make([]string, 0, len(r.Authors))
	for _, a := range r.Authors {
		if a.Name != "" {
			authors = append(authors, strings.TrimSpace(a.Name))
		}
	}

	var year *int
	if r.Year > 0 {
		y := r.Year
		year = &y
	} else if r.PublicationDate != "" {
		if t, err := time.Parse("2006-01-02", r.PublicationDate); err == nil {
			y := t.Year()
			year = &y
		}
	}

	pdfURL := ""
	if r.OpenAccessPDF != nil && r.OpenAccessPDF.URL != "" {
		pdfURL = r.OpenAccessPDF.URL
	} else if r.ExternalIDs.ArXiv != "" {
		pdfURL = fmt.Sprintf("https://arxiv.org/pdf/%s", r.ExternalIDs.ArXiv)
	}

	return &domain.Reference{
		Title:              strings.TrimSpace(r.Title),
		Authors:            authors,
		Year:               year,
		DOI:                strings.ToLower(r.ExternalIDs.DOI),
		ArXivID:            r.ExternalIDs.ArXiv,
		PMID:               r.ExternalIDs.PubMed,
		Abstract:           strings.TrimSpace(r.Abstract),
		URLSource:          pdfURL,
		MetadataSourceType: "keyword_search:semanticscholar",
	}
}
