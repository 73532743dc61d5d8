// Package resolver implements the download resolver's five-source cascade
// (spec.md §4.4): direct URL, DOI resolution, Unpaywall, Sci-Hub, and
// LibGen, each gated by PDF validity before being accepted.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/biblioctl/pipeline/internal/config"
	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/internal/ratelimit"
	"github.com/biblioctl/pipeline/pkg/libgen"
	"github.com/biblioctl/pipeline/pkg/scihub"
	"github.com/biblioctl/pipeline/pkg/unpaywall"
)

// ErrAllSourcesFailed is returned when every source in the cascade failed
// or produced an invalid payload; callers move the row to failed_downloads
// with this as the reason.
var ErrAllSourcesFailed = errors.New("download_failed")

const maxUnwrapDepth = 1

type fetched struct {
	bytes     []byte
	sourceTag string
}

type Resolver struct {
	httpClient *http.Client
	limiter    *ratelimit.Registry
	unpaywall  *unpaywall.Client
	scihub     *scihub.Client
	libgen     *libgen.Client
	downloadDir string
}

func New(cfg config.ResolverConfig, limiter *ratelimit.Registry) *Resolver {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Resolver{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
		unpaywall:  unpaywall.NewClient(cfg.Mailto, timeout),
		scihub:     scihub.NewClient(cfg.SciHubMirrors, timeout),
		libgen:     libgen.NewClient(timeout),
		downloadDir: cfg.DownloadDir,
	}
}

// Resolve tries each source in order and returns the saved file's path and
// checksum on the first one that yields a validated PDF.
func (r *Resolver) Resolve(ctx context.Context, ref *domain.Reference) (path, checksum, sourceTag string, err error) {
	if err := os.MkdirAll(r.downloadDir, 0o755); err != nil {
		return "", "", "", fmt.Errorf("ensure download dir: %w", err)
	}

	sources := r.sourcesFor(ref)
	for _, src := range sources {
		f, err := src(ctx, ref)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return "", "", "", err
			}
			continue // per-source failures are not fatal; try the next source
		}
		if f == nil {
			continue
		}

		savedPath, err := r.save(ref, f.bytes)
		if err != nil {
			continue
		}
		valid, _ := validatePDF(savedPath, f.bytes, ref.IsBook())
		if !valid {
			os.Remove(savedPath) // partial/invalid files are unlinked, not left behind
			continue
		}

		sum := sha256.Sum256(f.bytes)
		return savedPath, hex.EncodeToString(sum[:]), f.sourceTag, nil
	}

	return "", "", "", ErrAllSourcesFailed
}

type sourceFn func(ctx context.Context, ref *domain.Reference) (*fetched, error)

func (r *Resolver) sourcesFor(ref *domain.Reference) []sourceFn {
	return []sourceFn{
		r.directSource,
		r.doiSource,
		r.unpaywallSource,
		r.scihubSource,
		r.libgenSource,
	}
}

func (r *Resolver) directSource(ctx context.Context, ref *domain.Reference) (*fetched, error) {
	if ref.URLSource == "" {
		return nil, nil
	}
	return r.fetchPDF(ctx, ref.URLSource, "direct", map[string]bool{}, 0)
}

func (r *Resolver) doiSource(ctx context.Context, ref *domain.Reference) (*fetched, error) {
	if ref.DOI == "" {
		return nil, nil
	}
	return r.fetchPDF(ctx, "https://doi.org/"+ref.DOI, "doi_resolver", map[string]bool{}, 0)
}

func (r *Resolver) unpaywallSource(ctx context.Context, ref *domain.Reference) (*fetched, error) {
	if ref.DOI == "" {
		return nil, nil
	}
	if ok, err := r.limiter.Acquire(ctx, "unpaywall", 0); err != nil {
		return nil, err
	} else if !ok {
		return nil, nil
	}
	pdfURL, err := r.unpaywall.BestPDFURL(ctx, ref.DOI)
	if err != nil || pdfURL == "" {
		return nil, nil
	}
	return r.fetchPDF(ctx, pdfURL, "unpaywall", map[string]bool{}, 0)
}

func (r *Resolver) scihubSource(ctx context.Context, ref *domain.Reference) (*fetched, error) {
	if ref.DOI == "" {
		return nil, nil
	}
	if ok, err := r.limiter.Acquire(ctx, "scihub", 0); err != nil {
		return nil, err
	} else if !ok {
		return nil, nil
	}
	result, err := r.scihub.Find(ctx, ref.DOI)
	if err != nil || result == nil {
		return nil, nil
	}
	return r.fetchPDF(ctx, result.PDFURL, "scihub:"+result.Mirror, map[string]bool{}, 0)
}

func (r *Resolver) libgenSource(ctx context.Context, ref *domain.Reference) (*fetched, error) {
	if ref.Title == "" {
		return nil, nil
	}
	if ok, err := r.limiter.Acquire(ctx, "libgen", 0); err != nil {
		return nil, err
	} else if !ok {
		return nil, nil
	}
	results, err := r.libgen.Search(ctx, ref.Title, firstAuthorSurname(ref))
	if err != nil || len(results) == 0 {
		return nil, nil
	}
	visited := map[string]bool{}
	for _, res := range results {
		f, err := r.fetchPDF(ctx, res.MirrorURL, "libgen", visited, 0)
		if err == nil && f != nil {
			return f, nil
		}
	}
	return nil, nil
}

// fetchPDF GETs rawURL; if the response is already a PDF it is returned
// directly, otherwise the body is scanned for a PDF-likely link and
// followed once (depth-bounded, cycle-guarded by visited).
func (r *Resolver) fetchPDF(ctx context.Context, rawURL, sourceTag string, visited map[string]bool, depth int) (*fetched, error) {
	if visited[rawURL] {
		return nil, nil
	}
	visited[rawURL] = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil
	}
	req.Header.Set("User-Agent", "biblioctl-pipeline/1.0")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	if looksLikePDF(resp.Header.Get("Content-Type"), body) {
		return &fetched{bytes: body, sourceTag: sourceTag}, nil
	}

	if depth >= maxUnwrapDepth {
		return nil, nil
	}
	if link := extractHTMLPDFLink(body, rawURL); link != "" {
		return r.fetchPDF(ctx, link, sourceTag, visited, depth+1)
	}
	return nil, nil
}

func looksLikePDF(contentType string, body []byte) bool {
	if strings.Contains(strings.ToLower(contentType), "application/pdf") {
		return true
	}
	trimmed := strings.TrimLeft(string(body), " \t\r\n")
	return strings.HasPrefix(trimmed, "%PDF-")
}

var pdfLinkPattern = regexp.MustCompile(`(?i)\.pdf($|\?)|/pdf/|(download|view).*pdf|pdf.*(download|view)`)

// extractHTMLPDFLink scans HTML for an anchor href matching a PDF-likely
// pattern, per spec.md §4.4's HTML-unwrapping rule. It does a lightweight
// textual scan rather than a full DOM walk since the link shape varies
// across unknown publisher pages.
func extractHTMLPDFLink(body []byte, base string) string {
	hrefPattern := regexp.MustCompile(`(?i)href\s*=\s*["']([^"']+)["']`)
	for _, m := range hrefPattern.FindAllStringSubmatch(string(body), -1) {
		href := m[1]
		if pdfLinkPattern.MatchString(href) {
			return resolveURL(base, href)
		}
	}
	return ""
}

func resolveURL(base, ref string) string {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if strings.HasPrefix(ref, "//") {
		return "https:" + ref
	}
	baseSlash := base
	if idx := strings.LastIndex(baseSlash, "/"); idx > 8 {
		baseSlash = baseSlash[:idx+1]
	}
	if strings.HasPrefix(ref, "/") {
		// host-relative: keep scheme+host only
		if idx := strings.Index(base, "://"); idx >= 0 {
			rest := base[idx+3:]
			if slash := strings.Index(rest, "/"); slash >= 0 {
				return base[:idx+3+slash] + ref
			}
		}
		return base + ref
	}
	return baseSlash + ref
}

var unsafeFilenameChar = regexp.MustCompile(`[^a-zA-Z0-9 _-]`)

func (r *Resolver) save(ref *domain.Reference, content []byte) (string, error) {
	filename := filenameFor(ref)
	path := filepath.Join(r.downloadDir, filename)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("save pdf: %w", err)
	}
	return path, nil
}

// filenameFor implements spec.md §4.4's naming rule:
// <year>_<safe_title[:50]>.pdf
func filenameFor(ref *domain.Reference) string {
	year := "0000"
	if ref.Year != nil {
		year = strconv.Itoa(*ref.Year)
	}
	safeTitle := unsafeFilenameChar.ReplaceAllString(ref.Title, "")
	if len(safeTitle) > 50 {
		safeTitle = safeTitle[:50]
	}
	safeTitle = strings.TrimSpace(safeTitle)
	if safeTitle == "" {
		safeTitle = "untitled"
	}
	return fmt.Sprintf("%s_%s.pdf", year, safeTitle)
}

func firstAuthorSurname(ref *domain.Reference) string {
	if len(ref.Authors) == 0 {
		return ""
	}
	name := ref.Authors[0]
	if idx := strings.Index(name, ","); idx >= 0 {
		return strings.TrimSpace(name[:idx])
	}
	tokens := strings.Fields(name)
	if len(tokens) == 0 {
		return ""
	}
	return tokens[len(tokens)-1]
}
