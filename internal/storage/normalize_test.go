package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDOIBoundaryForms(t *testing.T) {
	want := "10.1000/xyz"
	assert.Equal(t, want, NormalizeDOI("10.1000/xyz."))
	assert.Equal(t, want, NormalizeDOI("doi:10.1000/xyz"))
	assert.Equal(t, want, NormalizeDOI("https://dx.doi.org/10.1000/xyz"))
	assert.Equal(t, want, NormalizeDOI("HTTPS://DOI.ORG/10.1000/XYZ"))
}

func TestNormalizeDOIRejectsMalformed(t *testing.T) {
	assert.Equal(t, "", NormalizeDOI(""))
	assert.Equal(t, "", NormalizeDOI("not-a-doi"))
	assert.Equal(t, "", NormalizeDOI("10.abc/xyz"))
}

func TestNormalizeOpenAlexIDFromURL(t *testing.T) {
	assert.Equal(t, "W12345", NormalizeOpenAlexID("https://openalex.org/W12345"))
	assert.Equal(t, "W12345", NormalizeOpenAlexID("w12345"))
	assert.Equal(t, "", NormalizeOpenAlexID("no id here"))
}

func TestNormalizeTitleCollapsesAndCompacts(t *testing.T) {
	assert.Equal(t, "attentionisallyouneed", NormalizeTitle("Attention Is All You Need"))
	assert.Equal(t, NormalizeTitle("Café Naïve"), NormalizeTitle("cafe naive"))
}

func TestNormalizeAuthorsSortsSurnames(t *testing.T) {
	got := NormalizeAuthors([]string{"John Smith", "Doe, Jane"})
	assert.Equal(t, "doe,smith", got)
}

func TestNormalizeAuthorsHandlesNobilityParticles(t *testing.T) {
	got := NormalizeAuthors([]string{"Ludwig von Beethoven"})
	assert.Equal(t, "von beethoven", got)
}
