package qdrant

import "testing"

func TestEncodeSparseQueryDeterministic(t *testing.T) {
	v1 := encodeSparseQuery("refund policy for annual plans")
	v2 := encodeSparseQuery("refund policy for annual plans")
	if len(v1.Indices) != len(v2.Indices) {
		t.Fatalf("sizes differ: %d vs %d", len(v1.Indices), len(v2.Indices))
	}
	for i := range v1.Indices {
		if v1.Indices[i] != v2.Indices[i] || v1.Values[i] != v2.Values[i] {
			t.Fatalf("entry %d differs: (%d,%f) vs (%d,%f)",
				i, v1.Indices[i], v1.Values[i], v2.Indices[i], v2.Values[i])
		}
	}
}

func TestEncodeSparseQuerySortsIndices(t *testing.T) {
	v := encodeSparseQuery("zulu alpha beta gamma")
	if len(v.Indices) == 0 {
		t.Fatal("expected a non-empty sparse vector")
	}
	for i := 1; i < len(v.Indices); i++ {
		if v.Indices[i-1] > v.Indices[i] {
			t.Fatalf("indices not sorted at %d: %d > %d", i, v.Indices[i-1], v.Indices[i])
		}
	}
}

func TestEncodeSparseQueryPunctuationOnly(t *testing.T) {
	v := encodeSparseQuery("___---!!!")
	if len(v.Indices) != 0 || len(v.Values) != 0 {
		t.Fatalf("expected empty sparse vector, got %+v", v)
	}
}

func TestHeadingTrailOutweighsBodyTerms(t *testing.T) {
	doc := encodeSparseDocument("the plan renews each year", "pricing.md", "Billing > Refunds")

	weightOf := func(v sparseVector, token string) float32 {
		idx := hashToken(token)
		for i, candidate := range v.Indices {
			if candidate == idx {
				return v.Values[i]
			}
		}
		return 0
	}

	refunds := weightOf(doc, "refunds")
	if refunds == 0 {
		t.Fatal("heading token missing from document vector")
	}
	if body := weightOf(doc, "renews"); refunds <= body {
		t.Fatalf("heading weight %f must exceed body weight %f", refunds, body)
	}
}

func TestTokenizeKeepsNonASCIILetters(t *testing.T) {
	tokens := tokenize("Привет DOC_0001 версия-2")
	var foundDoc, foundNum, foundCyrillic bool
	for _, tok := range tokens {
		switch tok {
		case "doc":
			foundDoc = true
		case "0001":
			foundNum = true
		case "привет":
			foundCyrillic = true
		}
	}
	if !foundDoc || !foundNum || !foundCyrillic {
		t.Fatalf("expected doc, 0001 and привет tokens, got %v", tokens)
	}
}
