package adapter

import "testing"

func TestKeysYieldsAllInOrder(t *testing.T) {
	want := []string{"a", "b", "c"}

	var got []string

	for k := range Keys(want) {
		got = append(got, k)
	}

	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestKeysStopsOnFalse(t *testing.T) {
	var got []int

	for k := range Keys([]int{1, 2, 3, 4}) {
		got = append(got, k)
		if k == 2 {
			break
		}
	}

	if len(got) != 2 {
		t.Fatalf("expected early stop after 2 elements, got %v", got)
	}
}

func TestEntriesYieldsPairs(t *testing.T) {
	pairs := []Pair[string, int]{
		{Key: "x", Value: 1},
		{Key: "y", Value: 2},
	}

	got := map[string]int{}

	for k, v := range Entries(pairs) {
		got[k] = v
	}

	if got["x"] != 1 || got["y"] != 2 || len(got) != 2 {
		t.Fatalf("unexpected result: %v", got)
	}
}
