package index

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
)

func TestRegistry(t *testing.T) {
	t.Parallel()
	tests := []struct {
		tuples []Index
		flat   map[Index]int
	}{
		{
			tuples: []Index{{"A", 0, Up}, {"A", 0, Down}},
			flat:   map[Index]int{{"A", 0, Down}: 0, {"A", 0, Up}: 1},
		},
		{
			tuples: []Index{{"B", 0, Up}, {"A", 0, Up}, {"B", 0, Down}, {"A", 0, Down}, {"A", 0, Up}},
			flat:   map[Index]int{{"A", 0, Down}: 0, {"A", 0, Up}: 1, {"B", 0, Down}: 2, {"B", 0, Up}: 3},
		},
	}
	for _, test := range tests {
		t.Run(fmt.Sprintf("%v", test.tuples), func(t *testing.T) {
			t.Parallel()
			r := NewRegistry(test.tuples, Compare)
			if r.Len() != len(test.flat) {
				t.Fatalf("%d, expected %d", r.Len(), len(test.flat))
			}
			for tuple, want := range test.flat {
				got, err := r.Flat(tuple)
				if err != nil {
					t.Fatalf("%+v", err)
				}
				if got != want {
					t.Fatalf("%v: %d, expected %d", tuple, got, want)
				}
				if r.Info(got) != tuple {
					t.Fatalf("%v, expected %v", r.Info(got), tuple)
				}
			}
		})
	}
}

func TestRegistryUnknown(t *testing.T) {
	t.Parallel()
	r := NewRegistry([]Index{{"A", 0, Up}}, Compare)
	_, err := r.Flat(Index{"B", 0, Up})
	if !errors.Is(err, ErrUnknownIndex) {
		t.Fatalf("%+v", err)
	}

	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	r.MustFlat(Index{"B", 0, Up})
}
