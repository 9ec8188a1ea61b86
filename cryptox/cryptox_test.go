package cryptox

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	return key
}

func TestBlob_RoundTrip(t *testing.T) {
	key := testKey(t)
	plaintext := []byte("the quick brown fox")

	blob, err := EncryptBlob(plaintext, key)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(blob), len(plaintext)+ivSize+tagSize)

	got, err := DecryptBlob(blob, key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, got)
}

func TestBlob_FreshIVPerCall(t *testing.T) {
	key := testKey(t)

	b1, err := EncryptBlob([]byte("same input"), key)
	require.NoError(t, err)
	b2, err := EncryptBlob([]byte("same input"), key)
	require.NoError(t, err)

	assert.False(t, bytes.Equal(b1, b2))
}

func TestBlob_WrongKeyFailsClosed(t *testing.T) {
	blob, err := EncryptBlob([]byte("secret"), testKey(t))
	require.NoError(t, err)

	_, err = DecryptBlob(blob, testKey(t))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestBlob_TamperDetected(t *testing.T) {
	key := testKey(t)
	blob, err := EncryptBlob([]byte("secret"), key)
	require.NoError(t, err)

	for _, i := range []int{0, ivSize, len(blob) - 1} {
		tampered := bytes.Clone(blob)
		tampered[i] ^= 0x01
		_, err := DecryptBlob(tampered, key)
		assert.ErrorIs(t, err, ErrDecryptionFailed, "flipped byte %d", i)
	}
}

func TestBlob_TruncatedInput(t *testing.T) {
	_, err := DecryptBlob(make([]byte, ivSize+tagSize-1), testKey(t))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestBlob_RejectsBadKeySize(t *testing.T) {
	_, err := EncryptBlob([]byte("x"), make([]byte, 16))
	require.Error(t, err)
}

func TestString_RoundTrip(t *testing.T) {
	key := testKey(t)

	enc, err := EncryptString("héllo wörld", key)
	require.NoError(t, err)

	got, err := DecryptString(enc, key)
	require.NoError(t, err)
	assert.Equal(t, "héllo wörld", got)
}

func TestString_EmptyIsEmpty(t *testing.T) {
	got, err := DecryptString("", testKey(t))
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestString_GarbageBase64(t *testing.T) {
	_, err := DecryptString("not base64!!", testKey(t))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestGenerateKeyPair_Fingerprints(t *testing.T) {
	for _, typ := range []KeyType{KeyTypeRSAOAEP, KeyTypeMLKEM} {
		kp, err := GenerateKeyPair(typ)
		require.NoError(t, err, typ)
		assert.Equal(t, typ, kp.Type)
		assert.Equal(t, Fingerprint(kp.Public), kp.Fingerprint)
		assert.NotEmpty(t, kp.Private)
	}

	_, err := GenerateKeyPair("X25519")
	require.ErrorIs(t, err, ErrUnsupportedKeyType)
}

func TestMessageKey_RSAWrapRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeRSAOAEP)
	require.NoError(t, err)

	key, wrapped, err := NewMessageKey(kp)
	require.NoError(t, err)
	require.Len(t, key, messageKeySize)
	assert.NotEqual(t, key, wrapped)

	got, err := unwrapMessageKey(kp, wrapped)
	require.NoError(t, err)
	assert.Equal(t, key, got)
}

func TestMessageKey_RSAGarbageDERRejected(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeRSAOAEP)
	require.NoError(t, err)
	_, wrapped, err := NewMessageKey(kp)
	require.NoError(t, err)

	bad := kp
	bad.Public = []byte("not DER")
	_, _, err = NewMessageKey(bad)
	require.Error(t, err)

	bad = kp
	bad.Private = []byte("not DER")
	_, err = unwrapMessageKey(bad, wrapped)
	require.Error(t, err)
}

// encryptTestMessage builds a message for the given pair the way the
// server-side pipeline does.
func encryptTestMessage(t *testing.T, kp KeyPair, id, subject, body string) EncryptedMessage {
	t.Helper()
	key, wrapped, err := NewMessageKey(kp)
	require.NoError(t, err)

	enc := func(s string) string {
		out, err := EncryptString(s, key)
		require.NoError(t, err)
		return out
	}
	attContent, err := EncryptBlob([]byte("attachment payload"), key)
	require.NoError(t, err)

	return EncryptedMessage{
		ID:             id,
		KeyFingerprint: kp.Fingerprint,
		WrappedKey:     wrapped,
		Subject:        enc(subject),
		FromDisplay:    enc("Alice"),
		FromLocal:      enc("alice"),
		FromDomain:     enc("example.com"),
		Preview:        enc("preview of " + subject),
		Body:           enc(body),
		Attachments: []EncryptedAttachment{
			{Filename: enc("notes.txt"), Content: attContent},
		},
	}
}

func TestDecryptMessage_BothKeyTypes(t *testing.T) {
	for _, typ := range []KeyType{KeyTypeRSAOAEP, KeyTypeMLKEM} {
		t.Run(string(typ), func(t *testing.T) {
			kp, err := GenerateKeyPair(typ)
			require.NoError(t, err)
			keyring := NewKeyring(kp)

			msg := encryptTestMessage(t, kp, "m1", "hello", "full body text")

			got, err := DecryptMessage(msg, keyring)
			require.NoError(t, err)
			assert.Equal(t, "hello", got.Subject)
			assert.Equal(t, "Alice <alice@example.com>", got.From())
			assert.Equal(t, "full body text", got.Body)
			require.Len(t, got.Attachments, 1)
			assert.Equal(t, "notes.txt", got.Attachments[0].Filename)
			assert.Equal(t, []byte("attachment payload"), got.Attachments[0].Content)
		})
	}
}

func TestDecryptMessagePreview_SkipsBody(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeMLKEM)
	require.NoError(t, err)
	keyring := NewKeyring(kp)

	msg := encryptTestMessage(t, kp, "m1", "hello", "full body text")

	got, err := DecryptMessagePreview(msg, keyring)
	require.NoError(t, err)
	assert.Equal(t, "preview of hello", got.Preview)
	assert.Empty(t, got.Body)
	assert.Empty(t, got.Attachments)
}

func TestDecryptMessage_UnknownFingerprint(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeMLKEM)
	require.NoError(t, err)
	other, err := GenerateKeyPair(KeyTypeMLKEM)
	require.NoError(t, err)

	msg := encryptTestMessage(t, kp, "m1", "hello", "body")

	_, err = DecryptMessage(msg, NewKeyring(other))
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestDecryptMessage_WrongPrivateKey(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeRSAOAEP)
	require.NoError(t, err)
	other, err := GenerateKeyPair(KeyTypeRSAOAEP)
	require.NoError(t, err)

	msg := encryptTestMessage(t, kp, "m1", "hello", "body")

	// Same fingerprint, different private key: decryption must fail, not
	// produce garbage.
	impostor := other
	impostor.Fingerprint = kp.Fingerprint
	_, err = DecryptMessage(msg, NewKeyring(impostor))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestDecryptMessages_SkipsAndReports(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeMLKEM)
	require.NoError(t, err)
	rotatedAway, err := GenerateKeyPair(KeyTypeMLKEM)
	require.NoError(t, err)
	keyring := NewKeyring(kp)

	msgs := []EncryptedMessage{
		encryptTestMessage(t, kp, "ok-1", "first", "b"),
		encryptTestMessage(t, rotatedAway, "orphan", "lost", "b"),
		encryptTestMessage(t, kp, "ok-2", "second", "b"),
	}
	// Corrupt one decryptable message's subject field.
	msgs[2].Subject = "AAAA"

	got, failed := DecryptMessages(msgs, keyring)

	require.Len(t, got, 1)
	assert.Equal(t, "ok-1", got[0].ID)

	require.Len(t, failed, 2)
	assert.Equal(t, "orphan", failed[0].ID)
	assert.ErrorIs(t, failed[0], ErrKeyNotFound)
	assert.Equal(t, "ok-2", failed[1].ID)
	assert.ErrorIs(t, failed[1], ErrDecryptionFailed)
}

func TestKeyring_AddComputesFingerprint(t *testing.T) {
	kp, err := GenerateKeyPair(KeyTypeMLKEM)
	require.NoError(t, err)
	kp.Fingerprint = ""

	var keyring Keyring
	keyring.Add(kp)

	_, ok := keyring.Lookup(Fingerprint(kp.Public))
	assert.True(t, ok)
	assert.Equal(t, 1, keyring.Len())
}
