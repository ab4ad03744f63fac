// Package index maps externally meaningful single-particle index tuples to flat integer indices.
package index

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/pkg/errors"
)

var (
	ErrUnknownIndex = errors.New("unknown index")
)

type Spin int

const (
	Down Spin = iota
	Up
	Undef
)

func (s Spin) String() string {
	switch s {
	case Down:
		return "dn"
	case Up:
		return "up"
	default:
		return "undef"
	}
}

// Index is the default (site, orbital, spin) tuple.
type Index struct {
	Site    string
	Orbital int
	Spin    Spin
}

func (i Index) String() string {
	return fmt.Sprintf("%s,%d,%s", i.Site, i.Orbital, i.Spin)
}

func Compare(a, b Index) int {
	if c := cmp.Compare(a.Site, b.Site); c != 0 {
		return c
	}
	if c := cmp.Compare(a.Orbital, b.Orbital); c != 0 {
		return c
	}
	return cmp.Compare(a.Spin, b.Spin)
}

// Registry is a bijection between index tuples and the range [0, Len()).
// Flat indices follow the order given by the comparison function.
type Registry[T comparable] struct {
	infos []T
	flat  map[T]int
}

func NewRegistry[T comparable](tuples []T, compare func(a, b T) int) *Registry[T] {
	infos := slices.Clone(tuples)
	slices.SortFunc(infos, compare)
	infos = slices.CompactFunc(infos, func(a, b T) bool { return compare(a, b) == 0 })

	r := &Registry[T]{infos: infos, flat: make(map[T]int, len(infos))}
	for i, t := range infos {
		r.flat[t] = i
	}
	return r
}

func (r *Registry[T]) Flat(t T) (int, error) {
	i, ok := r.flat[t]
	if !ok {
		return -1, errors.Wrap(ErrUnknownIndex, fmt.Sprintf("%v", t))
	}
	return i, nil
}

func (r *Registry[T]) MustFlat(t T) int {
	i, err := r.Flat(t)
	if err != nil {
		panic(fmt.Sprintf("%+v", err))
	}
	return i
}

func (r *Registry[T]) Info(i int) T { return r.infos[i] }
func (r *Registry[T]) Len() int     { return len(r.infos) }

func (r *Registry[T]) Indices() []T {
	return slices.Clone(r.infos)
}

func (r *Registry[T]) String() string {
	lines := make([]string, 0, len(r.infos))
	for i, t := range r.infos {
		lines = append(lines, fmt.Sprintf("%d: %v", i, t))
	}
	return strings.Join(lines, "\n")
}
