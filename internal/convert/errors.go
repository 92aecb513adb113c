package convert

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoFilePart      = errors.New("no file part")
	ErrNoSelectedFile  = errors.New("no selected file")
	ErrInvalidFileType = errors.New("invalid file type")
	ErrUploadTooLarge  = errors.New("upload too large")
	ErrNoOutput        = errors.New("no output produced")
	ErrPackaging       = errors.New("packaging failed")
)

// ConversionError is a per-format failure. It never aborts sibling formats.
type ConversionError struct {
	Format Format
	Err    error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("convert to %s: %v", strings.ToUpper(string(e.Format)), e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// CommandError is an external tool failure. Output keeps the tool's
// combined output for the logs and is left out of Error.
type CommandError struct {
	Tool   string
	Err    error
	Output string
}

func (e *CommandError) Error() string {
	return e.Tool + ": " + e.Err.Error()
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a rejected-upload error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNoFilePart) ||
		errors.Is(err, ErrNoSelectedFile) ||
		errors.Is(err, ErrInvalidFileType) ||
		errors.Is(err, ErrUploadTooLarge)
}
