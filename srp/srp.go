// Package srp implements the SRP-6a password proof used to authenticate
// against the vault server without ever transmitting the password or the
// derived master key.
//
// The exchange follows RFC 5054 with SHA-256 over the group in group.go.
// All public inputs and outputs are lowercase hex strings, matching the
// wire encoding of the auth endpoints:
//
//	x  = H(s | H(I ":" P))            private key (P is the hex master key)
//	v  = g^x mod N                    verifier, stored server-side
//	A  = g^a, B = k*v + g^b           ephemerals
//	u  = H(PAD(A) | PAD(B))
//	S  = (B - k*g^x)^(a + u*x)        client-side premaster
//	S  = (A * v^u)^b                  server-side premaster
//	K  = H(S)                         session key
//	M1 = H(H(N) xor H(g) | H(I) | s | A | B | K)
//	M2 = H(A | M1 | K)
//
// The client proves knowledge of x via M1; the server proves knowledge of
// the verifier via M2. Neither the password nor x crosses the wire.
package srp

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
)

// Ephemeral is a one-time key pair for a single handshake. Secret never
// leaves the party that generated it.
type Ephemeral struct {
	Secret string
	Public string
}

// Session is the outcome of a successful proof derivation.
// Key is the shared session key H(S); Proof is M1 on the client side and
// M2 on the server side.
type Session struct {
	Key   string
	Proof string
}

var (
	// ErrInvalidPublicKey signals an ephemeral public value that is zero
	// modulo N. SRP-6a requires aborting the handshake in that case.
	ErrInvalidPublicKey = errors.New("srp: invalid public ephemeral")

	// ErrProofMismatch signals that the peer's proof did not verify.
	// Terminal for the attempt: callers restart with fresh ephemerals.
	ErrProofMismatch = errors.New("srp: session proof mismatch")
)

const ephemeralSize = 32 // 256-bit random exponents

// DerivePrivateKey computes x from the account salt, the username and the
// hex-encoded password hash (the KDF-derived master key, never the raw
// password).
func DerivePrivateKey(salt, username, passwordHash string) (string, error) {
	s, err := hexInt(salt)
	if err != nil {
		return "", fmt.Errorf("srp: decode salt: %w", err)
	}
	inner := hashBytes([]byte(username + ":" + passwordHash))
	x := hashInt(s.Bytes(), inner)
	return toHex(x), nil
}

// DeriveVerifier computes v = g^x for registration. The verifier is safe
// to store server-side: recovering x from it requires a discrete log.
func DeriveVerifier(privateKey string) (string, error) {
	x, err := hexInt(privateKey)
	if err != nil {
		return "", fmt.Errorf("srp: decode private key: %w", err)
	}
	return toHex(new(big.Int).Exp(bigG, x, bigN)), nil
}

// GenerateClientEphemeral returns a fresh a / A = g^a pair.
func GenerateClientEphemeral() (Ephemeral, error) {
	a, err := randomScalar()
	if err != nil {
		return Ephemeral{}, err
	}
	return Ephemeral{
		Secret: toHex(a),
		Public: toHex(new(big.Int).Exp(bigG, a, bigN)),
	}, nil
}

// GenerateServerEphemeral returns a fresh b / B = k*v + g^b pair for the
// given verifier.
func GenerateServerEphemeral(verifier string) (Ephemeral, error) {
	v, err := hexInt(verifier)
	if err != nil {
		return Ephemeral{}, fmt.Errorf("srp: decode verifier: %w", err)
	}
	b, err := randomScalar()
	if err != nil {
		return Ephemeral{}, err
	}

	gb := new(big.Int).Exp(bigG, b, bigN)
	kv := new(big.Int).Mul(bigK, v)
	B := new(big.Int).Mod(new(big.Int).Add(kv, gb), bigN)

	return Ephemeral{Secret: toHex(b), Public: toHex(B)}, nil
}

// DeriveClientSession computes the shared key and the client proof M1.
func DeriveClientSession(clientSecret, serverPublic, salt, username, privateKey string) (Session, error) {
	a, err := hexInt(clientSecret)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode client secret: %w", err)
	}
	B, err := hexInt(serverPublic)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode server public: %w", err)
	}
	if new(big.Int).Mod(B, bigN).Sign() == 0 {
		return Session{}, ErrInvalidPublicKey
	}
	x, err := hexInt(privateKey)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode private key: %w", err)
	}
	s, err := hexInt(salt)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode salt: %w", err)
	}

	A := new(big.Int).Exp(bigG, a, bigN)
	u := hashInt(pad(A), pad(B))

	// S = (B - k*g^x) ^ (a + u*x)
	gx := new(big.Int).Exp(bigG, x, bigN)
	kgx := new(big.Int).Mul(bigK, gx)
	base := new(big.Int).Mod(new(big.Int).Sub(B, kgx), bigN)
	exp := new(big.Int).Add(a, new(big.Int).Mul(u, x))
	S := new(big.Int).Exp(base, exp, bigN)

	K := hashBytes(S.Bytes())
	M1 := clientProof(username, s, A, B, K)

	return Session{Key: hex.EncodeToString(K), Proof: hex.EncodeToString(M1)}, nil
}

// DeriveServerSession verifies the client proof and, on success, returns
// the shared key and the server proof M2. A mismatched proof returns
// ErrProofMismatch and nothing else; the error is deliberately generic.
func DeriveServerSession(serverSecret, clientPublic, salt, username, verifier, clientProofHex string) (Session, error) {
	b, err := hexInt(serverSecret)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode server secret: %w", err)
	}
	A, err := hexInt(clientPublic)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode client public: %w", err)
	}
	if new(big.Int).Mod(A, bigN).Sign() == 0 {
		return Session{}, ErrInvalidPublicKey
	}
	v, err := hexInt(verifier)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode verifier: %w", err)
	}
	s, err := hexInt(salt)
	if err != nil {
		return Session{}, fmt.Errorf("srp: decode salt: %w", err)
	}

	gb := new(big.Int).Exp(bigG, b, bigN)
	kv := new(big.Int).Mul(bigK, v)
	B := new(big.Int).Mod(new(big.Int).Add(kv, gb), bigN)

	u := hashInt(pad(A), pad(B))

	// S = (A * v^u) ^ b
	vu := new(big.Int).Exp(v, u, bigN)
	base := new(big.Int).Mod(new(big.Int).Mul(A, vu), bigN)
	S := new(big.Int).Exp(base, b, bigN)

	K := hashBytes(S.Bytes())
	expected := clientProof(username, s, A, B, K)

	got, err := hex.DecodeString(clientProofHex)
	if err != nil || subtle.ConstantTimeCompare(expected, got) != 1 {
		return Session{}, ErrProofMismatch
	}

	M2 := hashBytes(A.Bytes(), expected, K)
	return Session{Key: hex.EncodeToString(K), Proof: hex.EncodeToString(M2)}, nil
}

// VerifyServerSession checks the server's proof M2 against the client's
// session, completing mutual authentication.
func VerifyServerSession(clientPublic string, clientSession Session, serverProof string) error {
	A, err := hexInt(clientPublic)
	if err != nil {
		return fmt.Errorf("srp: decode client public: %w", err)
	}
	M1, err := hex.DecodeString(clientSession.Proof)
	if err != nil {
		return fmt.Errorf("srp: decode client proof: %w", err)
	}
	K, err := hex.DecodeString(clientSession.Key)
	if err != nil {
		return fmt.Errorf("srp: decode session key: %w", err)
	}

	expected := hashBytes(A.Bytes(), M1, K)
	got, err := hex.DecodeString(serverProof)
	if err != nil || subtle.ConstantTimeCompare(expected, got) != 1 {
		return ErrProofMismatch
	}
	return nil
}

// GenerateSalt returns a fresh random hex salt for registration.
func GenerateSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("srp: generate salt: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// M1 = H(H(N) xor H(g) | H(I) | s | A | B | K)
func clientProof(username string, s, A, B *big.Int, K []byte) []byte {
	hN := hashBytes(bigN.Bytes())
	hG := hashBytes(pad(bigG))
	for i := range hN {
		hN[i] ^= hG[i]
	}
	hI := hashBytes([]byte(username))
	return hashBytes(hN, hI, s.Bytes(), A.Bytes(), B.Bytes(), K)
}

func randomScalar() (*big.Int, error) {
	b := make([]byte, ephemeralSize)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("srp: generate ephemeral: %w", err)
	}
	return new(big.Int).SetBytes(b), nil
}

func hashBytes(parts ...[]byte) []byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func hashInt(parts ...[]byte) *big.Int {
	return new(big.Int).SetBytes(hashBytes(parts...))
}

func hexInt(s string) (*big.Int, error) {
	if s == "" {
		return nil, errors.New("empty hex value")
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(b), nil
}

func toHex(v *big.Int) string {
	return hex.EncodeToString(v.Bytes())
}
