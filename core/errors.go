package core

import (
	"errors"
	"fmt"
)

// MissingInputFileError is returned when a source table that the run needs
// does not exist or cannot be read. It aborts the whole run.
type MissingInputFileError struct {
	Path string
	Err  error
}

func (e *MissingInputFileError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("input file '%s' does not exist or is unreadable: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("input file '%s' does not exist or is unreadable", e.Path)
}

func (e *MissingInputFileError) Unwrap() error { return e.Err }

// PartitionMissError is returned when an entry's prefix matches none of the
// planned buckets of its source file.
type PartitionMissError struct {
	Prefix  string
	Source  string
	Buckets []BucketPrefix
}

func (e *PartitionMissError) Error() string {
	return fmt.Sprintf("prefix '%s' from %s matches none of the %d planned buckets %v", e.Prefix, e.Source, len(e.Buckets), e.Buckets)
}

// InvalidInputNameError is returned for files in the input tree whose name
// cannot be mapped to a country code.
type InvalidInputNameError struct {
	Path   string
	Reason string
}

func (e *InvalidInputNameError) Error() string {
	return fmt.Sprintf("invalid input file name '%s': %s", e.Path, e.Reason)
}

// IsMissingInputFile checks if an error is a MissingInputFileError.
func IsMissingInputFile(err error) bool {
	var missing *MissingInputFileError
	return errors.As(err, &missing)
}

// IsPartitionMiss checks if an error is a PartitionMissError.
func IsPartitionMiss(err error) bool {
	var miss *PartitionMissError
	return errors.As(err, &miss)
}

// IsInvalidInputName checks if an error is an InvalidInputNameError.
func IsInvalidInputName(err error) bool {
	var invalid *InvalidInputNameError
	return errors.As(err, &invalid)
}
