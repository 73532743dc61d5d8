package resolver

import (
	"testing"

	"github.com/biblioctl/pipeline/internal/domain"
)

func TestFilenameForTruncatesAndStripsUnsafeChars(t *testing.T) {
	year := 2017
	ref := &domain.Reference{Title: "Attention Is All You Need: A Very Long Subtitle That Goes On and On", Year: &year}
	name := filenameFor(ref)
	if name[:5] != "2017_" {
		t.Fatalf("expected year prefix, got %s", name)
	}
	if len(name) > len("2017_")+50+len(".pdf") {
		t.Fatalf("filename too long: %s", name)
	}
}

func TestFilenameForMissingYear(t *testing.T) {
	ref := &domain.Reference{Title: "Some Paper"}
	name := filenameFor(ref)
	if name != "0000_Some Paper.pdf" {
		t.Fatalf("got %s", name)
	}
}

func TestFirstAuthorSurnameCommaForm(t *testing.T) {
	ref := &domain.Reference{Authors: []string{"Vaswani, Ashish"}}
	if got := firstAuthorSurname(ref); got != "Vaswani" {
		t.Fatalf("got %s", got)
	}
}

func TestFirstAuthorSurnameSpaceForm(t *testing.T) {
	ref := &domain.Reference{Authors: []string{"Ashish Vaswani"}}
	if got := firstAuthorSurname(ref); got != "Vaswani" {
		t.Fatalf("got %s", got)
	}
}

func TestLooksLikePDFByHeader(t *testing.T) {
	if !looksLikePDF("", []byte("%PDF-1.4 rest of file")) {
		t.Fatal("expected header match")
	}
	if !looksLikePDF("application/pdf", []byte("anything")) {
		t.Fatal("expected content-type match")
	}
	if looksLikePDF("text/html", []byte("<html></html>")) {
		t.Fatal("expected no match for html")
	}
}

func TestExtractHTMLPDFLinkFindsDownloadAnchor(t *testing.T) {
	html := `<html><body><a href="/files/paper.pdf">Download</a></body></html>`
	link := extractHTMLPDFLink([]byte(html), "https://example.com/page")
	if link != "https://example.com/files/paper.pdf" {
		t.Fatalf("got %s", link)
	}
}

func TestExtractHTMLPDFLinkNoMatch(t *testing.T) {
	html := `<html><body><a href="/about">About</a></body></html>`
	if link := extractHTMLPDFLink([]byte(html), "https://example.com/page"); link != "" {
		t.Fatalf("expected no link, got %s", link)
	}
}
