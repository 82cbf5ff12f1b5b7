package chainmem

import (
	cerrors "github.com/cockroachdb/errors"
)

// ErrAccountDataTooSmall is returned when the managed buffer cannot hold a requested
// allocation or in-place growth. Growing the buffer is the owner's responsibility;
// the heap never resizes the buffer itself.
var ErrAccountDataTooSmall error = cerrors.New("account data too small for allocation")

// ErrCorruptHeap is returned when an internal consistency check fails, such as a chunk
// link that leaves the bounds of the buffer. This always indicates a logic defect or
// outside interference with the buffer bytes, never a recoverable runtime condition.
var ErrCorruptHeap error = cerrors.New("account data heap is corrupt")

// ErrInvalidOffset is returned when an offset passed to Free or Realloc is not 0 and
// does not refer to a live allocation.
var ErrInvalidOffset error = cerrors.New("offset does not refer to a live allocation")

// PowerOfTwoError is the error returned from CheckPow2 or other methods if the number being tested is not a power of two
var PowerOfTwoError error = cerrors.New("number must be a power of two")
