package kdf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDerive_Deterministic(t *testing.T) {
	tests := []struct {
		name string
		alg  Algorithm
	}{
		{"argon2id", Argon2Id},
		{"pbkdf2", PBKDF2SHA256},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Params{
				Salt:      []byte("fixed-salt-16byte"),
				Algorithm: tt.alg,
				Settings:  Settings{Iterations: 2, MemorySize: 1024, DegreeOfParallelism: 1},
			}

			k1, err := Derive("correct horse battery staple", p)
			require.NoError(t, err)
			k2, err := Derive("correct horse battery staple", p)
			require.NoError(t, err)

			require.Len(t, k1, KeySize)
			assert.Equal(t, k1, k2)
		})
	}
}

func TestDerive_DifferentSaltsDifferentKeys(t *testing.T) {
	s := Settings{Iterations: 1, MemorySize: 1024, DegreeOfParallelism: 1}

	k1, err := Derive("pw", Params{Salt: []byte("salt-one"), Algorithm: Argon2Id, Settings: s})
	require.NoError(t, err)
	k2, err := Derive("pw", Params{Salt: []byte("salt-two"), Algorithm: Argon2Id, Settings: s})
	require.NoError(t, err)

	assert.NotEqual(t, k1, k2)
}

func TestDerive_UnsupportedAlgorithm(t *testing.T) {
	_, err := Derive("pw", Params{Salt: []byte("salt"), Algorithm: "Scrypt"})
	require.ErrorIs(t, err, ErrUnsupportedAlgorithm)
}

func TestDerive_InvalidSettings(t *testing.T) {
	tests := []struct {
		name string
		p    Params
	}{
		{"empty salt", Params{Algorithm: Argon2Id, Settings: DefaultSettings()}},
		{"zero iterations argon2", Params{Salt: []byte("s"), Algorithm: Argon2Id, Settings: Settings{MemorySize: 1024, DegreeOfParallelism: 1}}},
		{"zero parallelism argon2", Params{Salt: []byte("s"), Algorithm: Argon2Id, Settings: Settings{Iterations: 1, MemorySize: 1024}}},
		{"zero iterations pbkdf2", Params{Salt: []byte("s"), Algorithm: PBKDF2SHA256}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := Derive("pw", tt.p)
			require.ErrorIs(t, err, ErrDerivationFailure)
			assert.Nil(t, key)
		})
	}
}

func TestDefaultParams_FreshSaltEachCall(t *testing.T) {
	p1, err := DefaultParams()
	require.NoError(t, err)
	p2, err := DefaultParams()
	require.NoError(t, err)

	assert.Equal(t, Argon2Id, p1.Algorithm)
	assert.Len(t, p1.Salt, SaltSize)
	assert.NotEqual(t, p1.Salt, p2.Salt)
}

func TestParseSettings_RoundTrip(t *testing.T) {
	s, err := ParseSettings(`{"Iterations":2,"MemorySize":19456,"DegreeOfParallelism":1}`)
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)

	assert.Equal(t, s, mustParse(t, EncodeSettings(s)))
}

func TestParseSettings_EmptyYieldsDefaults(t *testing.T) {
	s, err := ParseSettings("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), s)
}

func TestParseSettings_Malformed(t *testing.T) {
	_, err := ParseSettings("{not json")
	require.Error(t, err)
}

func mustParse(t *testing.T, raw string) Settings {
	t.Helper()
	s, err := ParseSettings(raw)
	require.NoError(t, err)
	return s
}
