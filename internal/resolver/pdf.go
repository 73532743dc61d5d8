package resolver

import (
	"bytes"
	"os"
	"strings"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	minPagesDefault = 5
	minPagesBook    = 50
)

// validatePDF implements spec.md §4.4's PDF validity gate: header check,
// library-level parse, not-encrypted, and a page-count floor that depends
// on whether the reference is a book. Any failure is reported as (false,
// nil) — an invalid payload skips the source, it is not a fatal error.
func validatePDF(path string, content []byte, isBook bool) (bool, error) {
	if len(content) == 0 {
		return false, nil
	}
	if !bytes.HasPrefix(bytes.TrimLeft(content, " \t\r\n"), []byte("%PDF-")) {
		return false, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return false, nil
	}
	defer f.Close()

	info, err := pdfapi.PDFInfo(f, path, nil, model.NewDefaultConfiguration())
	if err != nil {
		// CSS-syntax warnings against embedded resources are noise, not a
		// reason to reject an otherwise well-formed PDF.
		if strings.Contains(strings.ToLower(err.Error()), "css") {
			return true, nil
		}
		return false, nil
	}
	if info == nil {
		return false, nil
	}
	if info.Encrypted {
		return false, nil
	}

	minPages := minPagesDefault
	if isBook {
		minPages = minPagesBook
	}
	return info.PageCount >= minPages, nil
}
