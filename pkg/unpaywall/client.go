// Package unpaywall is a thin client over the Unpaywall API, the third
// source in the download resolver's cascade (spec.md §4.4).
package unpaywall

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const baseURL = "https://api.unpaywall.org/v2"

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

type response struct {
	BestOALocation *location `json:"best_oa_location"`
}

type location struct {
	URLForPDF string `json:"url_for_pdf"`
	URL       string `json:"url"`
}

// BestPDFURL returns the best open-access location's PDF URL for doi,
// falling back to that location's landing-page URL when it lists no PDF
// link, or "" if Unpaywall has no open-access location on record.
func (c *Client) BestPDFURL(ctx context.Context, doi string) (string, error) {
	if doi == "" {
		return "", nil
	}
	params := url.Values{}
	if c.mailto != "" {
		params.Set("email", c.mailto)
	}
	reqURL := fmt.Sprintf("%s/%s?%s", baseURL, url.PathEscape(doi), params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", fmt.Errorf("build unpaywall request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("unpaywall request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read unpaywall response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &HTTPError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var r response
	if err := json.Unmarshal(body, &r); err != nil {
		return "", nil
	}
	if r.BestOALocation == nil {
		return "", nil
	}
	if r.BestOALocation.URLForPDF != "" {
		return r.BestOALocation.URLForPDF, nil
	}
	return r.BestOALocation.URL, nil
}

type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unpaywall: status %d: %s", e.StatusCode, e.Body)
}
