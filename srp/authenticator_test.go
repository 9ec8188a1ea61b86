package srp

import (
	"context"
	"encoding/hex"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliasvault/client-go/kdf"
	"github.com/aliasvault/client-go/webapi"
)

// fakeAuthAPI implements the server side of the handshake in memory.
type fakeAuthAPI struct {
	salt     string
	verifier string
	settings kdf.Settings

	requireTwoFactor bool
	validCode        string

	// single-use server ephemeral, discarded after one validation
	serverEph *Ephemeral

	failNext error
}

func newFakeAuthAPI(t *testing.T, username, password string) *fakeAuthAPI {
	t.Helper()

	salt, err := GenerateSalt()
	require.NoError(t, err)

	settings := kdf.Settings{Iterations: 1, MemorySize: 8, DegreeOfParallelism: 1}
	masterKey, err := kdf.Derive(password, kdf.Params{
		Salt:      []byte(salt),
		Algorithm: kdf.Argon2Id,
		Settings:  settings,
	})
	require.NoError(t, err)

	privateKey, err := DerivePrivateKey(salt, username, hex.EncodeToString(masterKey))
	require.NoError(t, err)
	verifier, err := DeriveVerifier(privateKey)
	require.NoError(t, err)

	return &fakeAuthAPI{salt: salt, verifier: verifier, settings: settings}
}

func (f *fakeAuthAPI) InitiateLogin(_ context.Context, _ webapi.LoginInitiateRequest) (*webapi.LoginInitiateResponse, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	eph, err := GenerateServerEphemeral(f.verifier)
	if err != nil {
		return nil, err
	}
	f.serverEph = &eph
	return &webapi.LoginInitiateResponse{
		Salt:               f.salt,
		ServerEphemeral:    eph.Public,
		EncryptionType:     string(kdf.Argon2Id),
		EncryptionSettings: kdf.EncodeSettings(f.settings),
	}, nil
}

func (f *fakeAuthAPI) ValidateLogin(_ context.Context, req webapi.ValidateLoginRequest) (*webapi.ValidateLoginResponse, error) {
	if f.failNext != nil {
		err := f.failNext
		f.failNext = nil
		return nil, err
	}
	if f.requireTwoFactor {
		return &webapi.ValidateLoginResponse{RequiresTwoFactor: true}, nil
	}
	return f.validate(req.Username, req.ClientEphemeral, req.Proof)
}

func (f *fakeAuthAPI) ValidateLogin2FA(_ context.Context, req webapi.ValidateLogin2FARequest) (*webapi.ValidateLoginResponse, error) {
	if req.Code != f.validCode {
		return nil, &webapi.Error{StatusCode: http.StatusUnauthorized}
	}
	return f.validate(req.Username, req.ClientEphemeral, req.Proof)
}

func (f *fakeAuthAPI) validate(username, clientEphemeral, proof string) (*webapi.ValidateLoginResponse, error) {
	if f.serverEph == nil {
		return nil, &webapi.Error{StatusCode: http.StatusUnauthorized}
	}
	eph := *f.serverEph
	f.serverEph = nil

	session, err := DeriveServerSession(eph.Secret, clientEphemeral, f.salt, username, f.verifier, proof)
	if err != nil {
		return nil, &webapi.Error{StatusCode: http.StatusUnauthorized}
	}
	return &webapi.ValidateLoginResponse{
		ServerProof: session.Proof,
		Token:       &webapi.TokenPair{AccessToken: "access", RefreshToken: "refresh"},
	}, nil
}

func TestAuthenticator_Login(t *testing.T) {
	api := newFakeAuthAPI(t, "alice", "correct horse")
	auth := NewAuthenticator(api)

	require.NoError(t, auth.InitiateLogin(context.Background(), "alice", "correct horse"))
	assert.Equal(t, StateAwaitingChallenge, auth.State())

	res, err := auth.ValidateLogin(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, auth.State())
	assert.False(t, res.TwoFactorRequired)
	assert.Equal(t, "access", res.Tokens.AccessToken)
	assert.Len(t, res.MasterKey, kdf.KeySize)
	assert.Equal(t, kdf.Argon2Id, res.KDFParams.Algorithm)
}

func TestAuthenticator_WrongPassword(t *testing.T) {
	api := newFakeAuthAPI(t, "alice", "correct horse")
	auth := NewAuthenticator(api)

	require.NoError(t, auth.InitiateLogin(context.Background(), "alice", "battery staple"))

	_, err := auth.ValidateLogin(context.Background(), false)
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, StateFailed, auth.State())
}

func TestAuthenticator_TwoFactorFlow(t *testing.T) {
	api := newFakeAuthAPI(t, "alice", "correct horse")
	api.requireTwoFactor = true
	api.validCode = "123456"
	auth := NewAuthenticator(api)

	require.NoError(t, auth.InitiateLogin(context.Background(), "alice", "correct horse"))

	res, err := auth.ValidateLogin(context.Background(), true)
	require.NoError(t, err)
	assert.True(t, res.TwoFactorRequired)
	assert.Equal(t, StateTwoFactorRequired, auth.State())

	res, err = auth.ValidateLogin2FA(context.Background(), "123456")
	require.NoError(t, err)
	assert.Equal(t, StateAuthenticated, auth.State())
	assert.Equal(t, "refresh", res.Tokens.RefreshToken)
}

func TestAuthenticator_BadTwoFactorCode(t *testing.T) {
	api := newFakeAuthAPI(t, "alice", "correct horse")
	api.requireTwoFactor = true
	api.validCode = "123456"
	auth := NewAuthenticator(api)

	require.NoError(t, auth.InitiateLogin(context.Background(), "alice", "correct horse"))
	_, err := auth.ValidateLogin(context.Background(), false)
	require.NoError(t, err)

	_, err = auth.ValidateLogin2FA(context.Background(), "000000")
	require.ErrorIs(t, err, ErrAuthenticationFailed)
	assert.Equal(t, StateFailed, auth.State())
}

func TestAuthenticator_OutOfOrderCalls(t *testing.T) {
	api := newFakeAuthAPI(t, "alice", "correct horse")
	auth := NewAuthenticator(api)

	_, err := auth.ValidateLogin(context.Background(), false)
	require.ErrorIs(t, err, ErrInvalidState)

	_, err = auth.ValidateLogin2FA(context.Background(), "123456")
	require.ErrorIs(t, err, ErrInvalidState)
}

func TestAuthenticator_TransportFailureKeepsState(t *testing.T) {
	api := newFakeAuthAPI(t, "alice", "correct horse")
	auth := NewAuthenticator(api)

	require.NoError(t, auth.InitiateLogin(context.Background(), "alice", "correct horse"))

	api.failNext = webapi.ErrUnavailable
	_, err := auth.ValidateLogin(context.Background(), false)
	require.ErrorIs(t, err, webapi.ErrUnavailable)

	// The attempt is retryable once connectivity returns.
	assert.Equal(t, StateAwaitingChallenge, auth.State())
	res, err := auth.ValidateLogin(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "access", res.Tokens.AccessToken)
}

func TestAuthenticator_RestartsCleanly(t *testing.T) {
	api := newFakeAuthAPI(t, "alice", "correct horse")
	auth := NewAuthenticator(api)

	require.NoError(t, auth.InitiateLogin(context.Background(), "alice", "battery staple"))
	_, err := auth.ValidateLogin(context.Background(), false)
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	// A fresh InitiateLogin recovers from the failed state.
	require.NoError(t, auth.InitiateLogin(context.Background(), "alice", "correct horse"))
	res, err := auth.ValidateLogin(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, "access", res.Tokens.AccessToken)
	assert.Equal(t, StateAuthenticated, auth.State())
}
