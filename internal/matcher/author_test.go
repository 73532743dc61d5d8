package matcher

import "testing"

func TestSplitAuthorNameComma(t *testing.T) {
	n := splitAuthorName("Vaswani, Ashish")
	if n.last != "Vaswani" || n.first != "Ashish" {
		t.Fatalf("got %+v", n)
	}
}

func TestSplitAuthorNameNobilityParticle(t *testing.T) {
	n := splitAuthorName("Ludwig von Beethoven")
	if n.last != "von Beethoven" || n.first != "Ludwig" {
		t.Fatalf("got %+v", n)
	}
}

func TestSplitAuthorNameSingleToken(t *testing.T) {
	n := splitAuthorName("Plato")
	if n.last != "Plato" || n.first != "" {
		t.Fatalf("got %+v", n)
	}
}

func TestAuthorPairScoreExactMatch(t *testing.T) {
	if score := authorPairScore("Ashish Vaswani", "Ashish Vaswani"); score != 1.0 {
		t.Fatalf("want 1.0, got %v", score)
	}
}

func TestAuthorPairScoreInitialsShortcut(t *testing.T) {
	score := authorPairScore("A. Vaswani", "Ashish Vaswani")
	if score != 1.0 {
		t.Fatalf("want 1.0 for matching initials, got %v", score)
	}
}

func TestAuthorPairScoreLastNameMismatchRejected(t *testing.T) {
	if score := authorPairScore("Ashish Vaswani", "Noam Shazeer"); score != 0 {
		t.Fatalf("want 0 for mismatched surnames, got %v", score)
	}
}

func TestAuthorMatchScorePrefersEditorBranch(t *testing.T) {
	refAuthors := []string{}
	refEditors := []string{"Yoshua Bengio"}
	candidates := []string{"Yoshua Bengio", "Yann LeCun"}

	score := authorMatchScore(refAuthors, refEditors, candidates)
	if score != 1.0 {
		t.Fatalf("want 1.0 via editor branch, got %v", score)
	}
}

func TestAuthorMatchScoreNoCandidates(t *testing.T) {
	if score := authorMatchScore([]string{"Ashish Vaswani"}, nil, nil); score != 0 {
		t.Fatalf("want 0, got %v", score)
	}
}
