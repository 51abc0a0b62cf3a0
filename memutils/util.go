package memutils

import (
	cerrors "github.com/cockroachdb/errors"
	"golang.org/x/exp/constraints"
)

const (
	KiB int = 1024
	MiB     = KiB * KiB
	GiB     = MiB * KiB
)

const (
	// CreatedFillPattern is written over fresh allocations when the debug_init_allocs build tag is present
	CreatedFillPattern uint8 = 0xDC
	// DestroyedFillPattern is written over released allocations when the debug_init_allocs build tag is present
	DestroyedFillPattern uint8 = 0xEF
)

type Number interface {
	constraints.Integer
}

// CheckPow2 returns PowerOfTwoError, annotated with name, if number is not a positive power of two
func CheckPow2[T Number](number T, name string) error {
	if number <= 0 || number&(number-1) != 0 {
		return cerrors.Wrapf(PowerOfTwoError, "%s is %d", name, number)
	}
	return nil
}

func AlignUp[T Number](value T, alignment T) T {
	return (value + alignment - 1) & ^(alignment - 1)
}

func AlignDown[T Number](value T, alignment T) T {
	return value & ^(alignment - 1)
}
