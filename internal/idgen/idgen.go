// Package idgen generates the stable, client-facing keys of library objects,
// backed by nanoid.
package idgen

import (
	"fmt"
	"regexp"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// KeyAlphabet is the character set used for object keys. It omits 0, 1
// and O.
const KeyAlphabet = "23456789ABCDEFGHIJKLMNPQRSTUVWXYZ"

// KeyLength is the number of characters in an object key.
const KeyLength = 8

var keyPattern = regexp.MustCompile(`^[23456789ABCDEFGHIJKLMNPQRSTUVWXYZ]{8}$`)

// GenerateKey returns a new random object key.
func GenerateKey() (string, error) {
	key, err := nanoid.Generate(KeyAlphabet, KeyLength)
	if err != nil {
		return "", fmt.Errorf("idgen: %w", err)
	}
	return key, nil
}

// IsValidKey reports whether key is well formed.
func IsValidKey(key string) bool {
	return keyPattern.MatchString(key)
}
