package media

import (
	"errors"

	"learnhub-media/internal/storage"
)

var (
	// ErrAssetNotFound reports an unknown asset id or storage key.
	ErrAssetNotFound = storage.ErrAssetNotFound
	// ErrInvalidState reports an asset that is not in the status an
	// operation requires.
	ErrInvalidState = errors.New("invalid state")
	// ErrObjectNotFound reports a missing object behind a stream or presign key.
	ErrObjectNotFound = storage.ErrObjectNotFound
	// ErrStorageUnavailable reports that not even the original upload could be
	// written to object storage.
	ErrStorageUnavailable = errors.New("object storage unavailable")
	// ErrNoProfiles is returned when the resolution profile table is empty.
	ErrNoProfiles = errors.New("no resolution profiles configured")
)

// ValidationError carries a short client-facing message for rejected input.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationError(message string) error {
	return &ValidationError{Message: message}
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

const (
	msgFileMissing     = "file missing"
	msgMimeNotAllowed  = "mime_type is not allowed"
	msgFileTooLarge    = "file too large"
	msgInvalidKey      = "invalid storage key"
	msgInvalidRange    = "malformed range header"
	msgFilenameMissing = "filename missing"
)

// IsFileTooLarge reports whether err rejected an upload for its size.
func IsFileTooLarge(err error) bool {
	var target *ValidationError
	return errors.As(err, &target) && target.Message == msgFileTooLarge
}
