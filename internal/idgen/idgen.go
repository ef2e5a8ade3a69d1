// Package idgen provides short, URL-safe unique ID generation backed by
// nanoid. Credential IDs end up inside QR payloads, so they stay compact and
// free of characters that need escaping.
package idgen

import (
	"fmt"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// Alphabet defines the character set used for the random portion of the ID.
var Alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// Length is the number of random characters generated (excluding the prefix).
var Length = 12

// CredentialPrefix marks IDs minted for attendance credentials.
const CredentialPrefix = "atc-"

// NewCredentialID returns a new unique credential ID.
func NewCredentialID() (string, error) {
	return Generate(CredentialPrefix)
}

// Generate returns a new unique ID with the given prefix.
func Generate(prefix string) (string, error) {
	id, err := nanoid.Generate(Alphabet, Length)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return prefix + id, nil
}
