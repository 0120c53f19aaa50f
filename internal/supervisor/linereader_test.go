package supervisor

import (
	"strings"
	"testing"
)

func TestForEachLinePairs(t *testing.T) {
	input := "  Finished compilation  \n\nplain line\n"

	type pair struct{ trimmed, raw string }
	var got []pair
	err := forEachLine(strings.NewReader(input), func(trimmed, raw string) {
		got = append(got, pair{trimmed, raw})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []pair{
		{"Finished compilation", "  Finished compilation  "},
		{"", ""},
		{"plain line", "plain line"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func TestForEachLineOrderPreserved(t *testing.T) {
	var lines []string
	for i := 0; i < 100; i++ {
		lines = append(lines, "line")
	}
	input := strings.Join(lines, "\n") + "\n"

	count := 0
	forEachLine(strings.NewReader(input), func(trimmed, raw string) {
		count++
	})
	if count != 100 {
		t.Errorf("expected 100 callbacks, got %d", count)
	}
}

func TestForEachLineLongLine(t *testing.T) {
	long := strings.Repeat("x", 200*1024)
	var got string
	err := forEachLine(strings.NewReader(long+"\n"), func(trimmed, raw string) {
		got = raw
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != long {
		t.Errorf("long line was not delivered intact (got %d bytes)", len(got))
	}
}
