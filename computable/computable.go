// Package computable defines the lifecycle shared by every object that is prepared and then computed.
package computable

import (
	"github.com/pkg/errors"
)

type Status int

const (
	Constructed Status = iota
	Prepared
	Computed
)

func (s Status) String() string {
	switch s {
	case Constructed:
		return "constructed"
	case Prepared:
		return "prepared"
	case Computed:
		return "computed"
	default:
		return "unknown"
	}
}

var (
	ErrStatusMismatch = errors.New("status mismatch")
)

// Require fails unless got is at least want.
func Require(got, want Status) error {
	if got < want {
		return errors.Wrapf(ErrStatusMismatch, "%s, expected %s", got, want)
	}
	return nil
}
