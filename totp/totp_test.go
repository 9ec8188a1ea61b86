package totp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RFC 6238 appendix B test secret ("12345678901234567890" in base32).
const rfcSecret = "GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ"

func TestCode_RFCVectors(t *testing.T) {
	tests := []struct {
		unix int64
		want string
	}{
		{59, "287082"},
		{1111111109, "081804"},
		{1234567890, "005924"},
		{2000000000, "279037"},
	}

	for _, tt := range tests {
		code, err := Code(rfcSecret, time.Unix(tt.unix, 0).UTC())
		require.NoError(t, err)
		assert.Equal(t, tt.want, code, "t=%d", tt.unix)
	}
}

func TestVerify_AcceptsAdjacentStep(t *testing.T) {
	now := time.Unix(1234567890, 0).UTC()

	prev, err := Code(rfcSecret, now.Add(-Step))
	require.NoError(t, err)
	next, err := Code(rfcSecret, now.Add(Step))
	require.NoError(t, err)

	assert.True(t, Verify(prev, rfcSecret, now))
	assert.True(t, Verify(next, rfcSecret, now))
}

func TestVerify_RejectsBadInput(t *testing.T) {
	now := time.Unix(1234567890, 0).UTC()

	assert.False(t, Verify("000000", rfcSecret, now))
	assert.False(t, Verify("12345", rfcSecret, now))   // wrong length
	assert.False(t, Verify("287082", "!!!!", now))     // bad secret
	stale, err := Code(rfcSecret, now.Add(-5*Step))
	require.NoError(t, err)
	assert.False(t, Verify(stale, rfcSecret, now))
}

func TestGenerateSecret_UniqueAndDecodable(t *testing.T) {
	s1, err := GenerateSecret()
	require.NoError(t, err)
	s2, err := GenerateSecret()
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	_, err = Code(s1, time.Now())
	require.NoError(t, err)
}
