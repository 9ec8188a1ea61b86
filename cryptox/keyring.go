package cryptox

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/kem/mlkem/mlkem768"
	"golang.org/x/crypto/hkdf"
)

// KeyType identifies the asymmetric scheme a mailbox key pair uses.
type KeyType string

const (
	// KeyTypeRSAOAEP is the original scheme: per-message keys wrapped
	// under RSA-2048 with OAEP-SHA256. Kept for existing mailboxes.
	KeyTypeRSAOAEP KeyType = "RSA-OAEP-2048"

	// KeyTypeMLKEM is the rotation target: ML-KEM-768 encapsulation with
	// an HKDF-SHA256 step deriving the message key from the shared secret.
	KeyTypeMLKEM KeyType = "ML-KEM-768"
)

// ErrUnsupportedKeyType is returned for a key type this client does not
// implement.
var ErrUnsupportedKeyType = errors.New("cryptox: unsupported key type")

// hkdfInfo domain-separates the mailbox key derivation.
const hkdfInfo = "mailbox-message-key-v1"

const messageKeySize = 32

// KeyPair is one mailbox key pair. Public holds the DER public key for
// RSA and the packed key for ML-KEM; Private is PKCS#8 DER for RSA and
// the packed secret key for ML-KEM. Key pairs live inside the encrypted
// vault, so Private is plaintext only while the vault is unlocked.
type KeyPair struct {
	Fingerprint string
	Type        KeyType
	Public      []byte
	Private     []byte
}

// Fingerprint identifies a public key on the wire: unpadded base64 of
// its SHA-256 digest.
func Fingerprint(publicKey []byte) string {
	sum := sha256.Sum256(publicKey)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// GenerateKeyPair creates a fresh key pair of the given type.
func GenerateKeyPair(t KeyType) (KeyPair, error) {
	switch t {
	case KeyTypeRSAOAEP:
		priv, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return KeyPair{}, fmt.Errorf("cryptox: generate rsa key: %w", err)
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
		if err != nil {
			return KeyPair{}, err
		}
		privDER, err := x509.MarshalPKCS8PrivateKey(priv)
		if err != nil {
			return KeyPair{}, err
		}
		return KeyPair{
			Fingerprint: Fingerprint(pubDER),
			Type:        KeyTypeRSAOAEP,
			Public:      pubDER,
			Private:     privDER,
		}, nil

	case KeyTypeMLKEM:
		pub, priv, err := mlkem768.GenerateKeyPair(nil)
		if err != nil {
			return KeyPair{}, fmt.Errorf("cryptox: generate ml-kem key: %w", err)
		}
		pubBytes, _ := pub.MarshalBinary()
		privBytes, _ := priv.MarshalBinary()
		return KeyPair{
			Fingerprint: Fingerprint(pubBytes),
			Type:        KeyTypeMLKEM,
			Public:      pubBytes,
			Private:     privBytes,
		}, nil

	default:
		return KeyPair{}, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, t)
	}
}

// NewMessageKey draws a fresh symmetric message key and its wrapped form
// for the given public key. The wrapped form is what travels alongside
// the encrypted message; only the matching private key recovers the key.
func NewMessageKey(kp KeyPair) (key, wrapped []byte, err error) {
	switch kp.Type {
	case KeyTypeRSAOAEP:
		pub, err := parseRSAPublic(kp.Public)
		if err != nil {
			return nil, nil, err
		}
		key = make([]byte, messageKeySize)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, fmt.Errorf("cryptox: generate message key: %w", err)
		}
		wrapped, err = rsa.EncryptOAEP(sha256.New(), rand.Reader, pub, key, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("cryptox: wrap message key: %w", err)
		}
		return key, wrapped, nil

	case KeyTypeMLKEM:
		var pub mlkem768.PublicKey
		if err := pub.Unpack(kp.Public); err != nil {
			return nil, nil, fmt.Errorf("cryptox: unpack ml-kem public key: %w", err)
		}
		ct := make([]byte, mlkem768.CiphertextSize)
		shared := make([]byte, mlkem768.SharedKeySize)
		pub.EncapsulateTo(ct, shared, nil)
		key, err := expandSharedSecret(shared, ct)
		if err != nil {
			return nil, nil, err
		}
		return key, ct, nil

	default:
		return nil, nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, kp.Type)
	}
}

// unwrapMessageKey recovers the symmetric message key from its wrapped
// form using the pair's private key.
func unwrapMessageKey(kp KeyPair, wrapped []byte) ([]byte, error) {
	switch kp.Type {
	case KeyTypeRSAOAEP:
		priv, err := parseRSAPrivate(kp.Private)
		if err != nil {
			return nil, err
		}
		key, err := rsa.DecryptOAEP(sha256.New(), nil, priv, wrapped, nil)
		if err != nil {
			return nil, ErrDecryptionFailed
		}
		return key, nil

	case KeyTypeMLKEM:
		if len(wrapped) != mlkem768.CiphertextSize {
			return nil, ErrDecryptionFailed
		}
		var priv mlkem768.PrivateKey
		if err := priv.Unpack(kp.Private); err != nil {
			return nil, fmt.Errorf("cryptox: unpack ml-kem private key: %w", err)
		}
		shared := make([]byte, mlkem768.SharedKeySize)
		priv.DecapsulateTo(shared, wrapped)
		return expandSharedSecret(shared, wrapped)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedKeyType, kp.Type)
	}
}

// expandSharedSecret turns the KEM shared secret into the AES message
// key. The KEM ciphertext hash salts the derivation so distinct
// encapsulations never share key material.
func expandSharedSecret(shared, ct []byte) ([]byte, error) {
	salt := sha256.Sum256(ct)
	r := hkdf.New(sha256.New, shared, salt[:], []byte(hkdfInfo))
	key := make([]byte, messageKeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("cryptox: derive message key: %w", err)
	}
	return key, nil
}

// Keyring holds the private key pairs of every mailbox claimed by the
// vault, indexed by fingerprint. Zero value is usable.
type Keyring struct {
	pairs map[string]KeyPair
}

// NewKeyring builds a keyring from the given pairs.
func NewKeyring(pairs ...KeyPair) *Keyring {
	k := &Keyring{pairs: make(map[string]KeyPair, len(pairs))}
	for _, p := range pairs {
		k.Add(p)
	}
	return k
}

// Add registers a key pair. A pair with an empty fingerprint gets one
// computed from its public key.
func (k *Keyring) Add(p KeyPair) {
	if k.pairs == nil {
		k.pairs = make(map[string]KeyPair)
	}
	if p.Fingerprint == "" {
		p.Fingerprint = Fingerprint(p.Public)
	}
	k.pairs[p.Fingerprint] = p
}

// Lookup returns the pair for a fingerprint.
func (k *Keyring) Lookup(fingerprint string) (KeyPair, bool) {
	p, ok := k.pairs[fingerprint]
	return p, ok
}

// Len reports the number of pairs held.
func (k *Keyring) Len() int { return len(k.pairs) }
