package usecase

import (
	"strings"
	"testing"
)

func TestFoldHistoryEmptyHistoryIsIdentity(t *testing.T) {
	if got := FoldHistory(nil, "plain query"); got != "plain query" {
		t.Fatalf("got %q", got)
	}
}

func TestFoldHistoryDivergentHistoriesDiverge(t *testing.T) {
	query := "what about the second one"
	a := FoldHistory([]string{"tell me about database backups"}, query)
	b := FoldHistory([]string{"tell me about deployment pipelines"}, query)
	if a == b {
		t.Fatal("different histories must fold to different representations")
	}
	if !strings.HasSuffix(a, query) || !strings.HasSuffix(b, query) {
		t.Fatal("folded representation must end with the literal query")
	}
}

func TestFoldHistoryKeepsOnlyRecentTurns(t *testing.T) {
	history := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8"}
	folded := FoldHistory(history, "q")
	if strings.Contains(folded, "t1\n") || strings.Contains(folded, "t2\n") {
		t.Fatalf("oldest turns must be dropped: %q", folded)
	}
	for _, turn := range history[2:] {
		if !strings.Contains(folded, turn) {
			t.Fatalf("recent turn %q missing from %q", turn, folded)
		}
	}
}

func TestFoldHistorySkipsBlankTurns(t *testing.T) {
	folded := FoldHistory([]string{"  ", "real turn", ""}, "q")
	if folded != "real turn\nq" {
		t.Fatalf("got %q", folded)
	}
}
