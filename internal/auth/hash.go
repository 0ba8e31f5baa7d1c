package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Argon2id parameters for member API keys. Keys are checked once per token
// issuance, not per request, so the memory-hard cost stays off the hot path.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB, so 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// ErrMalformedHash is returned when a stored api_key_hash value does not
// parse. It indicates row corruption, not a wrong key.
var ErrMalformedHash = errors.New("auth: malformed api key hash")

func deriveKey(apiKey string, salt []byte) []byte {
	return argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
}

// HashAPIKey derives the stored form of a member's API key: a fresh random
// salt and the Argon2id digest, base64-encoded and joined with '$'.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}

	return base64.StdEncoding.EncodeToString(salt) + "$" +
		base64.StdEncoding.EncodeToString(deriveKey(apiKey, salt)), nil
}

// VerifyAPIKey checks apiKey against a stored hash in constant time.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	salt, digest, err := splitHash(encoded)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare(digest, deriveKey(apiKey, salt)) == 1, nil
}

// DummyVerify burns the cost of a real verification. The token endpoint
// calls it when the reference id is unknown, so a rejection takes the same
// time whether or not the member exists.
func DummyVerify() {
	deriveKey("dummy", make([]byte, argonSaltLen))
}

func splitHash(encoded string) (salt, digest []byte, err error) {
	saltPart, digestPart, found := strings.Cut(encoded, "$")
	if !found {
		return nil, nil, ErrMalformedHash
	}
	if salt, err = base64.StdEncoding.DecodeString(saltPart); err != nil {
		return nil, nil, fmt.Errorf("%w: salt: %v", ErrMalformedHash, err)
	}
	if digest, err = base64.StdEncoding.DecodeString(digestPart); err != nil {
		return nil, nil, fmt.Errorf("%w: digest: %v", ErrMalformedHash, err)
	}
	return salt, digest, nil
}
