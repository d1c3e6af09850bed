package client

import (
	"errors"
	"fmt"
	"net/http"
)

// Errors returned by every Vault implementation. Match them with errors.Is.
var (
	ErrNotFound      = errors.New("not found")
	ErrForbidden     = errors.New("forbidden")
	ErrAlreadyExists = errors.New("already exists")
	ErrBadRequest    = errors.New("bad request")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrTooLarge      = errors.New("too large")
	ErrRateLimited   = errors.New("rate limited")
)

// the server reports collisions as a 400 with this message
const alreadyExistsMessage = "Path already exists"

// APIError is a non-2xx response from the vault server.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.Status)
	}
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

// Is maps the status code onto the package errors.
func (e *APIError) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.Status == http.StatusNotFound
	case ErrForbidden:
		return e.Status == http.StatusForbidden
	case ErrUnauthorized:
		return e.Status == http.StatusUnauthorized
	case ErrTooLarge:
		return e.Status == http.StatusRequestEntityTooLarge
	case ErrRateLimited:
		return e.Status == http.StatusTooManyRequests
	case ErrBadRequest:
		return e.Status == http.StatusBadRequest
	case ErrAlreadyExists:
		return e.Status == http.StatusBadRequest && e.Message == alreadyExistsMessage
	}
	return false
}
