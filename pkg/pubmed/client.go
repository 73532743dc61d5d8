// Package pubmed is an alternate keyword-search backend for biblio
// keyword-search, querying NCBI's E-utilities (esearch then efetch).
package pubmed

import (
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/biblioctl/pipeline/internal/domain"
)

const (
	esearchURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/esearch.fcgi"
	efetchURL  = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/efetch.fcgi"
)

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

// ESearch response types
type ESearchResult struct {
	XMLName xml.Name `xml:"eSearchResult"`
	Count   int      `xml:"Count"`
	IDList  IDList   `xml:"IdList"`
}

type IDList struct {
	IDs []string `xml:"Id"`
}

// EFetch response types
type PubmedArticleSet struct {
	XMLName  xml.Name        `xml:"PubmedArticleSet"`
	Articles []PubmedArticle `xml:"PubmedArticle"`
}

type PubmedArticle struct {
	MedlineCitation MedlineCitation `xml:"MedlineCitation"`
	PubmedData      PubmedData      `xml:"PubmedData"`
}

type MedlineCitation struct {
	PMID    PMID    `xml:"PMID"`
	Article Article `xml:"Article"`
}

type PMID struct {
	Value string `xml:",chardata"`
}

type Article struct {
	Journal         Journal         `xml:"Journal"`
	ArticleTitle    string          `xml:"ArticleTitle"`
	Abstract        Abstract        `xml:"Abstract"`
	AuthorList      AuthorList      `xml:"AuthorList"`
	ArticleDate     []ArticleDate   `xml:"ArticleDate"`
	ELocationIDList []ELocationID   `xml:"ELocationID"`
}

type Journal struct {
	Title   string      `xml:"Title"`
	PubDate JournalDate `xml:"JournalIssue>PubDate"`
}

type JournalDate struct {
	Year  string `xml:"Year"`
	Month string `xml:"Month"`
	Day   string `xml:"Day"`
}

type Abstract struct {
	AbstractTexts []AbstractText `xml:"AbstractText"`
}

type AbstractText struct {
	Label string `xml:"Label,attr"`
	Text  string `xml:",chardata"`
}

type AuthorList struct {
	Authors []PubmedAuthor `xml:"Author"`
}

type PubmedAuthor struct {
	LastName    string        `xml:"LastName"`
	ForeName    string        `xml:"ForeName"`
	Affiliation []string      `xml:"AffiliationInfo>Affiliation"`
}

type ArticleDate struct {
	Year  string `xml:"Year"`
	Month string `xml:"Month"`
	Day   string `xml:"Day"`
}

type ELocationID struct {
	EIdType string `xml:"EIdType,attr"`
	Value   string `xml:",chardata"`
}

type PubmedData struct {
	ArticleIDList ArticleIDList `xml:"ArticleIdList"`
}

type ArticleIDList struct {
	ArticleIDs []ArticleID `xml:"ArticleId"`
}

type ArticleID struct {
	IDType string `xml:"IdType,attr"`
	Value  string `xml:",chardata"`
}

func (c *Client) Search(query string, limit, offset int) (*SearchResult, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	// Step 1: ESearch to get PMIDs
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("term", query)
	params.Set("retstart", fmt.Sprintf("%d", offset))
	params.Set("retmax", fmt.Sprintf("%d", limit))
	params.Set("sort", "relevance")
	params.Set("retmode", "xml")

	searchURL := fmt.Sprintf("%s?%s", esearchURL, params.Encode())
	resp, err := c.httpClient.Get(searchURL)
	if err != nil {
		return nil, fmt.Errorf("pubmed esearch request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read esearch response: %w", err)
	}

	var searchResult ESearchResult
	if err := xml.Unmarshal(body, &searchResult); err != nil {
		return nil, fmt.Errorf("failed to parse esearch response: %w", err)
	}

	if len(searchResult.IDList.IDs) == 0 {
		return &SearchResult{
			References:   []*domain.Reference{},
			TotalResults: searchResult.Count,
		}, nil
	}

	// Step 2: EFetch to get article details
	refs, err := c.fetchArticles(searchResult.IDList.IDs)
	if err != nil {
		return nil, err
	}

	return &SearchResult{
		References:   refs,
		TotalResults: searchResult.Count,
	}, nil
}

func (c *Client) GetReference(pmid string) (*domain.Reference, error) {
	refs, err := c.fetchArticles([]string{pmid})
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		return nil, nil
	}
	return refs[0], nil
}

func (c *Client) fetchArticles(pmids []string) ([]*domain.Reference, error) {
	params := url.Values{}
	params.Set("db", "pubmed")
	params.Set("id", strings.Join(pmids, ","))
	params.Set("retmode", "xml")
	params.Set("rettype", "abstract")

	fetchURL := fmt.Sprintf("%s?%s", efetchURL, params.Encode())
	resp, err := c.httpClient.Get(fetchURL)
	if err != nil {
		return nil, fmt.Errorf("pubmed efetch request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read efetch response: %w", err)
	}

	var articleSet PubmedArticleSet
	if err := xml.Unmarshal(body, &articleSet); err != nil {
		return nil, fmt.Errorf("failed to parse efetch response: %w", err)
	}

	refs := make([]*domain.Reference, 0, len(articleSet.Articles))
	for _, article := range articleSet.Articles {
		ref := articleToReference(&article)
		if ref != nil {
			refs = append(refs, ref)
		}
	}

	return refs, nil
}

func articleToReference(article *PubmedArticle) *domain.Reference {
	pmid := article.MedlineCitation.PMID.Value
	if pmid == "" {
		return nil
	}

	// Build abstract text
	var abstractParts []string
	for _, text := range article.MedlineCitation.Article.Abstract.AbstractTexts {
		if text.Label != "" {
			abstractParts = append(abstractParts, fmt.Sprintf("%s: %s", text.Label, text.Text))
		} else {
			abstractParts = append(abstractParts, text.Text)
		}
	}
	abstract := strings.Join(abstractParts, "\n\n")

	authors := make([]string, 0, len(article.MedlineCitation.Article.AuthorList.Authors))
	for _, a := range article.MedlineCitation.Article.AuthorList.Authors {
		name := strings.TrimSpace(fmt.Sprintf("%s %s", a.ForeName, a.LastName))
		if name != "" {
			authors = append(authors, name)
		}
	}

	var year *int
	pubDate := article.MedlineCitation.Article.Journal.PubDate
	if pubDate.Year != "" {
		if y, err := strconv.Atoi(pubDate.Year); err == nil {
			year = &y
		}
	}

	var doi, pmcID string
	for _, id := range article.PubmedData.ArticleIDList.ArticleIDs {
		switch id.IDType {
		case "doi":
			doi = id.Value
		case "pmc":
			pmcID = id.Value
		}
	}

	// PubMed Central full text, when available, resolves straight to a PDF.
	pdfURL := ""
	if pmcID != "" {
		pdfURL = fmt.Sprintf("https://www.ncbi.nlm.nih.gov/pmc/articles/%s/pdf/", pmcID)
	} else if doi != "" {
		pdfURL = fmt.Sprintf("https://doi.org/%s", doi)
	}

	return &domain.Reference{
		Title:              strings.TrimSpace(article.MedlineCitation.Article.ArticleTitle),
		Authors:            authors,
		Year:               year,
		DOI:                strings.ToLower(doi),
		PMID:               pmid,
		Abstract:           abstract,
		Journal:            article.MedlineCitation.Article.Journal.Title,
		URLSource:          pdfURL,
		MetadataSourceType: "keyword_search:pubmed",
	}
}
