package api

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/nanome-ai/plugin-vault/internal/filestore"
	"github.com/nanome-ai/plugin-vault/internal/foldercrypto"
	"github.com/nanome-ai/plugin-vault/internal/lockstate"
	"github.com/nanome-ai/plugin-vault/internal/pathsafe"
	"github.com/nanome-ai/plugin-vault/internal/uploads"
)

var errOutOfScope = errors.New("path belongs to another account")

// statusFor maps an error to its HTTP status and client-facing message.
// Anything unrecognized is a 500 with a generic message.
func statusFor(err error) (int, string) {
	var maxBytes *http.MaxBytesError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, err.Error()

	case errors.Is(err, pathsafe.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, "Not found"

	case errors.Is(err, filestore.ErrForbidden),
		errors.Is(err, foldercrypto.ErrInvalidKey),
		errors.Is(err, foldercrypto.ErrProtectedPath),
		errors.Is(err, lockstate.ErrNestedLock),
		errors.Is(err, errOutOfScope):
		return http.StatusForbidden, "Forbidden"

	case errors.Is(err, filestore.ErrStorageLimit):
		return http.StatusRequestEntityTooLarge, "User storage exceeded"
	case errors.Is(err, uploads.ErrTooLarge), errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "Upload too large"

	case errors.Is(err, filestore.ErrAlreadyExists):
		return http.StatusBadRequest, "Path already exists"
	case errors.Is(err, filestore.ErrInvalidName),
		errors.Is(err, filestore.ErrNotDirectory),
		errors.Is(err, filestore.ErrNotFile),
		errors.Is(err, filestore.ErrLockBoundary),
		errors.Is(err, foldercrypto.ErrAlreadyLocked),
		errors.Is(err, foldercrypto.ErrNotLocked),
		errors.Is(err, foldercrypto.ErrKeyRequired),
		errors.Is(err, uploads.ErrInvalidUpload),
		errors.Is(err, uploads.ErrInvalidRange),
		errors.Is(err, uploads.ErrInvalidChunk),
		errors.Is(err, uploads.ErrInvalidExtension):
		return http.StatusBadRequest, err.Error()
	}
	return http.StatusInternalServerError, "Server error"
}
