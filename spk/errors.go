package spk

import (
	"errors"
	"fmt"
)

var (
	// ErrFileFormat is matched by every FileFormatError.
	ErrFileFormat = errors.New("invalid kernel file")
	// ErrUnsupportedDataType is matched by every UnsupportedDataTypeError.
	ErrUnsupportedDataType = errors.New("unsupported segment data type")
	// ErrTimeRangeOutOfBounds is returned when a segment does not cover the requested interval.
	ErrTimeRangeOutOfBounds = errors.New("requested interval not covered by segment")
	// ErrNoSegment is returned when the kernel has no segment for a target.
	ErrNoSegment = errors.New("no segment for target")
)

// FileFormatError reports a kernel which cannot be trusted at all: bad header,
// integrity string mismatch or a corrupted summary chain.
type FileFormatError struct {
	Path   string
	Reason string
}

func (e *FileFormatError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Reason)
}

// Is allows errors.Is(err, ErrFileFormat).
func (e *FileFormatError) Is(target error) bool {
	return target == ErrFileFormat
}

func formatErr(path, format string, args ...interface{}) error {
	return &FileFormatError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// UnsupportedDataTypeError is returned for segments other than type II and III.
type UnsupportedDataTypeError struct {
	Target   int
	DataType int
}

func (e *UnsupportedDataTypeError) Error() string {
	return fmt.Sprintf("target %d: segment data type %d (only II and III are supported)", e.Target, e.DataType)
}

// Is allows errors.Is(err, ErrUnsupportedDataType).
func (e *UnsupportedDataTypeError) Is(target error) bool {
	return target == ErrUnsupportedDataType
}
