package resolve

import (
	"errors"
	"testing"
)

var contacts = []Named{
	{Key: "+15550001111", Name: "Ada Lovelace"},
	{Key: "+15550002222", Name: "Grace Hopper"},
	{Key: "ada@example.com", Name: "Ada L"},
	{Key: "+15550003333", Name: "Alan Turing"},
}

func TestFuzzyMatchExactWins(t *testing.T) {
	key, err := FuzzyMatch("ada lovelace", contacts)
	if err != nil {
		t.Fatal(err)
	}
	if key != "+15550001111" {
		t.Errorf("key = %q", key)
	}
}

func TestFuzzyMatchPartial(t *testing.T) {
	key, err := FuzzyMatch("grace", contacts)
	if err != nil {
		t.Fatal(err)
	}
	if key != "+15550002222" {
		t.Errorf("key = %q", key)
	}
}

func TestFuzzyMatchNoResult(t *testing.T) {
	if _, err := FuzzyMatch("zzzz", contacts); err == nil {
		t.Error("expected no-match error")
	}
}

func TestFuzzyMatchErrors(t *testing.T) {
	if _, err := FuzzyMatch("  ", contacts); !errors.Is(err, ErrEmptyQuery) {
		t.Errorf("empty query err = %v", err)
	}
	if _, err := FuzzyMatch("ada", nil); !errors.Is(err, ErrEmptyItems) {
		t.Errorf("empty items err = %v", err)
	}
}

func TestFuzzyMatchAmbiguous(t *testing.T) {
	items := []Named{
		{Key: "a", Name: "Sam Smith"},
		{Key: "b", Name: "Sam Smith"},
	}
	_, err := FuzzyMatch("sam smit", items)
	var ambiguous *AmbiguousError
	if !errors.As(err, &ambiguous) {
		t.Fatalf("err = %v, want AmbiguousError", err)
	}
	if len(ambiguous.Matches) != 2 {
		t.Errorf("candidates = %d", len(ambiguous.Matches))
	}
}

func TestFuzzyMatchAll(t *testing.T) {
	matches := FuzzyMatchAll("a", contacts, 2)
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want capped at 2", len(matches))
	}
	if FuzzyMatchAll("", contacts, 5) != nil {
		t.Error("empty query should return nil")
	}
}
