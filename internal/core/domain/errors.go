package domain

import (
	"errors"
	"fmt"
)

// MetadataMissingError means a required capture field could not be read from
// an image. It is fatal for that observation only.
type MetadataMissingError struct {
	Field string
	Err   error
}

func (e *MetadataMissingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("metadata missing: %s: %v", e.Field, e.Err)
	}
	return "metadata missing: " + e.Field
}

func (e *MetadataMissingError) Unwrap() error { return e.Err }

// InsufficientBatchError is returned when fewer than two observations are
// triangulated together. There is no temporal neighbor to derive a bearing from.
type InsufficientBatchError struct {
	Count int
}

func (e *InsufficientBatchError) Error() string {
	return fmt.Sprintf("need at least two observations, got %d", e.Count)
}

// UnknownCropClassError reports a detection whose class index is outside the
// crop taxonomy. The detection is dropped.
type UnknownCropClassError struct {
	Index int
}

func (e *UnknownCropClassError) Error() string {
	return fmt.Sprintf("unknown crop class index %d", e.Index)
}

// DegenerateDetectionError reports a bounding box whose pixel height is not
// positive, or too small to give a finite distance. The detection is excluded
// from the mean distance.
type DegenerateDetectionError struct {
	Crop        string
	PixelHeight float64
}

func (e *DegenerateDetectionError) Error() string {
	return fmt.Sprintf("degenerate %s detection: pixel height %g", e.Crop, e.PixelHeight)
}

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// IsInsufficientBatch reports whether err is an InsufficientBatchError.
func IsInsufficientBatch(err error) bool {
	var target *InsufficientBatchError
	return errors.As(err, &target)
}

// IsMetadataMissing reports whether err is a MetadataMissingError.
func IsMetadataMissing(err error) bool {
	var target *MetadataMissingError
	return errors.As(err, &target)
}
