package analysis

import (
	"errors"
	"fmt"
)

// DefaultMaxSizeMB is the upload ceiling when none is configured.
const DefaultMaxSizeMB = 50

// DefaultAllowedTypes lists the declared media types accepted for analysis.
var DefaultAllowedTypes = []string{"audio/mpeg", "audio/wav", "audio/mp3", "audio/x-wav"}

var (
	ErrUnsupportedType = errors.New("unsupported type")
	ErrTooLarge        = errors.New("too large")
)

// ValidationError is the only error surfaced to the uploader.
type ValidationError struct {
	Kind    error
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

func (e *ValidationError) Is(target error) bool { return e.Kind == target }

// Code is the machine-readable kind used in API payloads.
func (e *ValidationError) Code() string {
	switch e.Kind {
	case ErrUnsupportedType:
		return "unsupported_type"
	case ErrTooLarge:
		return "too_large"
	default:
		return "invalid_file"
	}
}

// Validator checks file metadata against an allow-list and a size ceiling.
type Validator struct {
	MaxSizeMB    int
	AllowedTypes []string
}

// NewValidator fills zero values with the defaults.
func NewValidator(maxSizeMB int, allowed []string) Validator {
	if maxSizeMB <= 0 {
		maxSizeMB = DefaultMaxSizeMB
	}
	if len(allowed) == 0 {
		allowed = DefaultAllowedTypes
	}
	return Validator{MaxSizeMB: maxSizeMB, AllowedTypes: allowed}
}

// MaxBytes is the ceiling in bytes.
func (v Validator) MaxBytes() int64 {
	return int64(v.MaxSizeMB) * 1024 * 1024
}

// Validate returns nil or the first applicable *ValidationError. Type is
// checked before size.
func (v Validator) Validate(f SelectedFile) error {
	if !v.allowed(f.MediaType) {
		return &ValidationError{Kind: ErrUnsupportedType, Message: "Please upload an MP3 or WAV file"}
	}
	if f.Size > v.MaxBytes() {
		return &ValidationError{
			Kind:    ErrTooLarge,
			Message: fmt.Sprintf("File size must be less than %dMB", v.MaxSizeMB),
		}
	}
	return nil
}

// allowed is exact allow-list membership on the declared type.
func (v Validator) allowed(mediaType string) bool {
	for _, t := range v.AllowedTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}
