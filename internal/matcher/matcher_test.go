package matcher

import (
	"testing"

	"github.com/biblioctl/pipeline/internal/domain"
	"github.com/biblioctl/pipeline/pkg/openalex"
)

func yr(y int) *int { return &y }

func TestSelectBestReturnsLowScoringCandidate(t *testing.T) {
	ref := &domain.Reference{Title: "Attention Is All You Need", Year: yr(2017)}
	pool := map[string]*candidate{
		"W1": {work: &openalex.Work{ID: "W1", Title: "Attention Is All You Need", Year: yr(2017)}, authorScore: 0.2, firstFoundInStep: 1},
	}
	best := selectBest(pool, ref, 0.05)
	if best == nil || best.authorScore != 0.2 {
		t.Fatalf("expected the only candidate back regardless of score, got %+v", best)
	}
}

func TestSelectBestTieBreaksOnExactTitle(t *testing.T) {
	ref := &domain.Reference{Title: "Attention Is All You Need", Year: yr(2017)}
	pool := map[string]*candidate{
		"W1": {work: &openalex.Work{ID: "W1", Title: "Attention is all you need", Year: yr(2017)}, authorScore: 0.9, firstFoundInStep: 3},
		"W2": {work: &openalex.Work{ID: "W2", Title: "Attention Is All You Need (workshop version)", Year: yr(2016)}, authorScore: 0.91, firstFoundInStep: 1},
	}
	best := selectBest(pool, ref, 0.05)
	if best.work.ID != "W1" {
		t.Fatalf("expected exact-title candidate W1 to win the tie cluster, got %s", best.work.ID)
	}
}

func TestSelectBestTieBreaksOnYearDistanceThenStep(t *testing.T) {
	ref := &domain.Reference{Title: "Some Paper", Year: yr(2020)}
	pool := map[string]*candidate{
		"W1": {work: &openalex.Work{ID: "W1", Title: "Some Other Title", Year: yr(2021)}, authorScore: 0.9, firstFoundInStep: 2},
		"W2": {work: &openalex.Work{ID: "W2", Title: "Yet Another Title", Year: yr(2020)}, authorScore: 0.9, firstFoundInStep: 5},
	}
	best := selectBest(pool, ref, 0.05)
	if best.work.ID != "W2" {
		t.Fatalf("expected W2 (closer year) to win, got %s", best.work.ID)
	}
}

func TestSelectBestPicksHighestScoreOutsideCluster(t *testing.T) {
	ref := &domain.Reference{Title: "Some Paper"}
	pool := map[string]*candidate{
		"W1": {work: &openalex.Work{ID: "W1"}, authorScore: 0.95, firstFoundInStep: 1},
		"W2": {work: &openalex.Work{ID: "W2"}, authorScore: 0.40, firstFoundInStep: 0},
	}
	best := selectBest(pool, ref, 0.05)
	if best.work.ID != "W1" {
		t.Fatalf("expected W1 (clear winner), got %s", best.work.ID)
	}
}
