// Package kdf derives the 256-bit master key from the user password and
// the account's key-derivation parameters.
//
// Derivation is fully deterministic: the same password and parameters
// produce the same key on every platform. Parameters are versioned by
// algorithm so that accounts created under an older default keep working
// after the default changes; new accounts always use DefaultParams.
package kdf

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KeySize is the length in bytes of every derived master key.
const KeySize = 32

// SaltSize is the length of salts generated for new accounts.
const SaltSize = 16

// Algorithm identifies a supported key-derivation algorithm version.
type Algorithm string

const (
	// Argon2Id is the current default.
	Argon2Id Algorithm = "Argon2Id"
	// PBKDF2SHA256 is kept for accounts created before the Argon2 rollout.
	PBKDF2SHA256 Algorithm = "PBKDF2-SHA256"
)

var (
	// ErrUnsupportedAlgorithm is returned when Params names an algorithm
	// this client does not implement.
	ErrUnsupportedAlgorithm = errors.New("kdf: unsupported algorithm")

	// ErrDerivationFailure is returned when the algorithm settings are
	// invalid for the selected primitive.
	ErrDerivationFailure = errors.New("kdf: derivation failure")
)

// Settings carries the tunable cost parameters of the algorithm.
// MemorySize is in KiB and only meaningful for Argon2Id. The JSON field
// names match the server's serialized encryption settings.
type Settings struct {
	Iterations          uint32 `json:"Iterations"`
	MemorySize          uint32 `json:"MemorySize"`
	DegreeOfParallelism uint8  `json:"DegreeOfParallelism"`
}

// Params is everything needed to re-derive a master key except the
// password itself. Safe to persist in plaintext: it reveals nothing
// about the key.
type Params struct {
	Salt      []byte
	Algorithm Algorithm
	Settings  Settings
}

// DefaultSettings are the cost parameters used for new accounts.
// They match the defaults served by the API for Argon2Id.
func DefaultSettings() Settings {
	return Settings{Iterations: 2, MemorySize: 19456, DegreeOfParallelism: 1}
}

// DefaultParams returns parameters for a new account: a fresh random salt
// and the current default algorithm and settings.
func DefaultParams() (Params, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return Params{}, fmt.Errorf("kdf: generate salt: %w", err)
	}
	return Params{Salt: salt, Algorithm: Argon2Id, Settings: DefaultSettings()}, nil
}

// ParseSettings decodes the JSON settings string as served by the auth
// endpoints. An empty string yields the defaults.
func ParseSettings(s string) (Settings, error) {
	if s == "" {
		return DefaultSettings(), nil
	}
	var out Settings
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return Settings{}, fmt.Errorf("kdf: parse settings: %w", err)
	}
	return out, nil
}

// EncodeSettings is the inverse of ParseSettings.
func EncodeSettings(s Settings) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// Derive turns the password and params into master-key material.
// It never returns a partially computed key: on any error the returned
// slice is nil.
func Derive(password string, p Params) ([]byte, error) {
	if len(p.Salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrDerivationFailure)
	}

	switch p.Algorithm {
	case Argon2Id:
		if p.Settings.Iterations == 0 || p.Settings.MemorySize == 0 || p.Settings.DegreeOfParallelism == 0 {
			return nil, fmt.Errorf("%w: argon2id settings must be non-zero", ErrDerivationFailure)
		}
		key := argon2.IDKey([]byte(password), p.Salt,
			p.Settings.Iterations, p.Settings.MemorySize, p.Settings.DegreeOfParallelism, KeySize)
		return key, nil

	case PBKDF2SHA256:
		if p.Settings.Iterations == 0 {
			return nil, fmt.Errorf("%w: pbkdf2 iterations must be non-zero", ErrDerivationFailure)
		}
		return pbkdf2.Key([]byte(password), p.Salt, int(p.Settings.Iterations), KeySize, sha256.New), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, p.Algorithm)
	}
}
