package srp

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/aliasvault/client-go/kdf"
	"github.com/aliasvault/client-go/webapi"
)

// State tracks the login handshake.
type State int

const (
	StateIdle State = iota
	StateAwaitingChallenge
	StateProofSubmitted
	StateAuthenticated
	StateTwoFactorRequired
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingChallenge:
		return "awaiting-challenge"
	case StateProofSubmitted:
		return "proof-submitted"
	case StateAuthenticated:
		return "authenticated"
	case StateTwoFactorRequired:
		return "two-factor-required"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

var (
	// ErrAuthenticationFailed is the generic login failure. It never
	// reveals whether the username exists or which factor was wrong.
	ErrAuthenticationFailed = errors.New("srp: authentication failed")

	// ErrInvalidState is returned when a handshake step is called out of
	// order, e.g. ValidateLogin before InitiateLogin.
	ErrInvalidState = errors.New("srp: invalid handshake state")
)

// API is the subset of the web API the handshake needs.
type API interface {
	InitiateLogin(ctx context.Context, req webapi.LoginInitiateRequest) (*webapi.LoginInitiateResponse, error)
	ValidateLogin(ctx context.Context, req webapi.ValidateLoginRequest) (*webapi.ValidateLoginResponse, error)
	ValidateLogin2FA(ctx context.Context, req webapi.ValidateLogin2FARequest) (*webapi.ValidateLoginResponse, error)
}

// Result is the outcome of a completed (or paused) handshake.
type Result struct {
	// TwoFactorRequired is set when the server wants a TOTP code before
	// issuing tokens; call ValidateLogin2FA next.
	TwoFactorRequired bool
	// Tokens authorize API calls. They carry no vault secrets.
	Tokens webapi.TokenPair
	// MasterKey is the derived key material. It exists only client-side;
	// callers own it and must zeroize it on lock/logout.
	MasterKey []byte
	// KDFParams are the parameters the key was derived under, safe to
	// cache locally in plaintext.
	KDFParams kdf.Params
}

// Authenticator performs the three-phase zero-knowledge login:
//
//	Idle → AwaitingChallenge → ProofSubmitted → {Authenticated | TwoFactorRequired | Failed}
//
// A proof mismatch is terminal for the attempt: the server discards its
// ephemeral after one validation, so callers must restart from
// InitiateLogin with fresh ephemerals rather than replay a stale proof.
// Not safe for concurrent use; each login attempt owns one Authenticator.
type Authenticator struct {
	api   API
	state State

	username   string
	rememberMe bool
	salt       string
	serverPub  string
	clientEph  Ephemeral
	session    Session
	masterKey  []byte
	kdfParams  kdf.Params
}

// NewAuthenticator creates an idle authenticator over the given API.
func NewAuthenticator(api API) *Authenticator {
	return &Authenticator{api: api, state: StateIdle}
}

// State returns the current handshake state.
func (a *Authenticator) State() State { return a.state }

// InitiateLogin fetches the account challenge, derives the master key
// locally and prepares the client proof. Neither the password nor the
// derived key is sent; only the ephemeral public value and proof will
// cross the wire in the validate step.
//
// Safe to retry on network failure: each call starts a fresh attempt.
func (a *Authenticator) InitiateLogin(ctx context.Context, username, password string) error {
	a.reset()

	resp, err := a.api.InitiateLogin(ctx, webapi.LoginInitiateRequest{Username: username})
	if err != nil {
		return fmt.Errorf("initiate login: %w", err)
	}

	settings, err := kdf.ParseSettings(resp.EncryptionSettings)
	if err != nil {
		return err
	}
	params := kdf.Params{
		// The account salt doubles as the KDF salt; its UTF-8 bytes feed
		// the KDF, its hex decoding feeds the SRP private key.
		Salt:      []byte(resp.Salt),
		Algorithm: kdf.Algorithm(resp.EncryptionType),
		Settings:  settings,
	}

	masterKey, err := kdf.Derive(password, params)
	if err != nil {
		return err
	}

	privateKey, err := DerivePrivateKey(resp.Salt, username, hex.EncodeToString(masterKey))
	if err != nil {
		return err
	}

	eph, err := GenerateClientEphemeral()
	if err != nil {
		return err
	}

	session, err := DeriveClientSession(eph.Secret, resp.ServerEphemeral, resp.Salt, username, privateKey)
	if err != nil {
		if errors.Is(err, ErrInvalidPublicKey) {
			return fmt.Errorf("%w: %w", ErrAuthenticationFailed, err)
		}
		return err
	}

	a.username = username
	a.salt = resp.Salt
	a.serverPub = resp.ServerEphemeral
	a.clientEph = eph
	a.session = session
	a.masterKey = masterKey
	a.kdfParams = params
	a.state = StateAwaitingChallenge
	return nil
}

// ValidateLogin submits the proof. On success the server's own proof is
// verified before the result is trusted (mutual authentication).
func (a *Authenticator) ValidateLogin(ctx context.Context, rememberMe bool) (*Result, error) {
	if a.state != StateAwaitingChallenge {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, a.state)
	}
	a.state = StateProofSubmitted
	a.rememberMe = rememberMe

	resp, err := a.api.ValidateLogin(ctx, webapi.ValidateLoginRequest{
		Username:        a.username,
		ClientEphemeral: a.clientEph.Public,
		Proof:           a.session.Proof,
		RememberMe:      rememberMe,
	})
	return a.finish(resp, err)
}

// ValidateLogin2FA re-submits the proof bound to a 6-digit time-based
// code after ValidateLogin reported TwoFactorRequired.
func (a *Authenticator) ValidateLogin2FA(ctx context.Context, code string) (*Result, error) {
	if a.state != StateTwoFactorRequired {
		return nil, fmt.Errorf("%w: %s", ErrInvalidState, a.state)
	}

	resp, err := a.api.ValidateLogin2FA(ctx, webapi.ValidateLogin2FARequest{
		Username:        a.username,
		ClientEphemeral: a.clientEph.Public,
		Proof:           a.session.Proof,
		Code:            code,
		RememberMe:      a.rememberMe,
	})
	return a.finish(resp, err)
}

func (a *Authenticator) finish(resp *webapi.ValidateLoginResponse, err error) (*Result, error) {
	if err != nil {
		if errors.Is(err, webapi.ErrUnauthorized) {
			a.fail()
			return nil, ErrAuthenticationFailed
		}
		// Transport failure: keep state so the caller may retry the step.
		if a.state == StateProofSubmitted {
			a.state = StateAwaitingChallenge
		}
		return nil, err
	}

	if resp.RequiresTwoFactor {
		a.state = StateTwoFactorRequired
		return &Result{TwoFactorRequired: true}, nil
	}

	if err := VerifyServerSession(a.clientEph.Public, a.session, resp.ServerProof); err != nil {
		a.fail()
		return nil, fmt.Errorf("%w: server proof rejected", ErrAuthenticationFailed)
	}
	if resp.Token == nil {
		a.fail()
		return nil, ErrAuthenticationFailed
	}

	a.state = StateAuthenticated
	return &Result{
		Tokens:    *resp.Token,
		MasterKey: a.masterKey,
		KDFParams: a.kdfParams,
	}, nil
}

func (a *Authenticator) fail() {
	zero(a.masterKey)
	a.masterKey = nil
	a.state = StateFailed
}

func (a *Authenticator) reset() {
	zero(a.masterKey)
	*a = Authenticator{api: a.api, state: StateIdle}
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
