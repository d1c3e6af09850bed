// Package keyring keeps vault bearer tokens in the OS keyring.
package keyring

import (
	"errors"

	"github.com/zalando/go-keyring"
)

const serviceName = "nanome-vault"

// ErrNotFound is returned when no token is stored for a server.
var ErrNotFound = keyring.ErrNotFound

// SaveToken stores the bearer token used for server.
func SaveToken(server, token string) error {
	return keyring.Set(serviceName, server, token)
}

// GetToken returns the token stored for server.
func GetToken(server string) (string, error) {
	return keyring.Get(serviceName, server)
}

// DeleteToken removes the token stored for server. Deleting a missing token
// is not an error.
func DeleteToken(server string) error {
	err := keyring.Delete(serviceName, server)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

// HasToken reports whether a token is stored for server.
func HasToken(server string) bool {
	_, err := keyring.Get(serviceName, server)
	return err == nil
}
