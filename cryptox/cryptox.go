// Package cryptox implements the vault's symmetric codec and the hybrid
// scheme protecting mailbox messages.
//
// The vault blob format is iv(12) || ciphertext || tag(16) under
// AES-256-GCM. Decryption fails closed: a wrong key and a tampered blob
// are indistinguishable to the caller.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	ivSize  = 12
	tagSize = 16
)

var (
	// ErrDecryptionFailed covers every decryption failure: wrong key,
	// truncated input, tampered ciphertext. Deliberately undifferentiated.
	ErrDecryptionFailed = errors.New("cryptox: decryption failed")

	// ErrKeyNotFound is returned when no private key in the keyring
	// matches a message's key fingerprint.
	ErrKeyNotFound = errors.New("cryptox: no matching private key")
)

// EncryptBlob seals plaintext under the 256-bit key. Each call draws a
// fresh random IV; encrypting the same plaintext twice yields different
// blobs.
func EncryptBlob(plaintext, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, fmt.Errorf("cryptox: generate iv: %w", err)
	}

	// Seal appends ciphertext||tag after the IV prefix.
	return aead.Seal(iv, iv, plaintext, nil), nil
}

// DecryptBlob opens a blob produced by EncryptBlob.
func DecryptBlob(blob, key []byte) ([]byte, error) {
	aead, err := newAEAD(key)
	if err != nil {
		return nil, err
	}
	if len(blob) < ivSize+tagSize {
		return nil, ErrDecryptionFailed
	}

	plaintext, err := aead.Open(nil, blob[:ivSize], blob[ivSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// EncryptString seals a UTF-8 string and returns the blob as standard
// base64, the encoding used for individual mailbox fields.
func EncryptString(plaintext string, key []byte) (string, error) {
	blob, err := EncryptBlob([]byte(plaintext), key)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(blob), nil
}

// DecryptString reverses EncryptString. An empty input decrypts to an
// empty string; absent optional fields are stored as "".
func DecryptString(encoded string, key []byte) (string, error) {
	if encoded == "" {
		return "", nil
	}
	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	plaintext, err := DecryptBlob(blob, key)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func newAEAD(key []byte) (cipher.AEAD, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("cryptox: key must be 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
