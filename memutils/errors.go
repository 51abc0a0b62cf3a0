package memutils

import "github.com/pkg/errors"

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = errors.New("number must be a power of two")

// ConfigurationError is the kind of every error caused by invalid pool construction parameters. Use
// errors.Is to detect it; the concrete cause (PowerOfTwoError, BlockTooSmallError, PointerElementError)
// is preserved and matches errors.Is as well.
var ConfigurationError error = errors.New("invalid pool configuration")

// BlockTooSmallError is returned when a block cannot hold two chunk headers
var BlockTooSmallError error = errors.New("block size too small for chunk header overhead")

// PointerElementError is returned when the pooled element type contains Go pointers. Pool memory is
// invisible to the garbage collector, so such elements could reference freed objects.
var PointerElementError error = errors.New("element type must not contain pointers")

// CapacityExceededError is returned when the requested number of slots cannot be represented
var CapacityExceededError error = errors.New("requested count exceeds the maximum representable count")

// SystemAllocationError wraps failures of the underlying system allocator
var SystemAllocationError error = errors.New("system allocator could not supply memory")

// PoolDestroyedError is returned by any operation on a pool after Destroy
var PoolDestroyedError error = errors.New("pool has been destroyed")

// UnknownAllocationError is returned when an oversized pointer is released that the pool never handed out
var UnknownAllocationError error = errors.New("pointer does not belong to a live oversized allocation")

// CorruptionDetectionDisabledError is returned from CheckCorruption when the debug_mem_utils build tag is absent
var CorruptionDetectionDisabledError error = errors.New("corruption detection is not enabled in this build")

// kindError classifies cause as kind without hiding it. errors.Is matches both kind and anything in
// cause's chain.
type kindError struct {
	cause error
	kind  error
}

func (e *kindError) Error() string        { return e.cause.Error() }
func (e *kindError) Unwrap() error        { return e.cause }
func (e *kindError) Is(target error) bool { return target == e.kind }

// WithKind returns err classified as kind, so that errors.Is(result, kind) holds alongside every match
// err already had. It returns nil if err is nil.
func WithKind(err error, kind error) error {
	if err == nil {
		return nil
	}
	return &kindError{cause: err, kind: kind}
}
