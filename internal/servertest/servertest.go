// Package servertest runs an in-process vault server for tests: real
// SRP verification, token issue/refresh, time-based second factor and a
// compare-and-swap vault store behind the same HTTP/JSON surface the
// production server exposes.
package servertest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/aliasvault/client-go/kdf"
	"github.com/aliasvault/client-go/srp"
	"github.com/aliasvault/client-go/totp"
	"github.com/aliasvault/client-go/webapi"
)

var jwtSecret = []byte("servertest-signing-key")

// Account is one registered test account.
type Account struct {
	Username           string
	Salt               string
	Verifier           string
	EncryptionType     string
	EncryptionSettings string

	// TOTPSecret enables the second factor when non-empty.
	TOTPSecret string

	vault    *webapi.VaultEnvelope
	revision int64

	// serverEph is single-use: set by initiate, consumed by validate.
	serverEph *srp.Ephemeral
}

// Server is the fake vault server.
type Server struct {
	mu sync.Mutex

	httpSrv  *httptest.Server
	accounts map[string]*Account

	refreshTokens map[string]string // refresh token -> username
	accessTokens  map[string]string // access token -> username

	// TokenTTL controls issued access token lifetime. Short values
	// exercise the client's refresh path.
	TokenTTL time.Duration

	// ClientSupported is reported by the status endpoint.
	ClientSupported bool

	// failures maps "METHOD path" to a queue of status codes served
	// before the real handler runs again.
	failures map[string][]int

	// PutCount counts vault writes, conflicts included.
	PutCount int
}

// New starts the server. Callers own Close.
func New() *Server {
	s := &Server{
		accounts:        make(map[string]*Account),
		refreshTokens:   make(map[string]string),
		accessTokens:    make(map[string]string),
		TokenTTL:        time.Hour,
		ClientSupported: true,
		failures:        make(map[string][]int),
	}

	mux := http.NewServeMux()
	// Method-qualified ServeMux patterns need Go 1.22; dispatch on the
	// method by hand so the server also works on Go 1.21.
	handle := func(path string, methods map[string]http.HandlerFunc) {
		mux.HandleFunc(path, func(w http.ResponseWriter, r *http.Request) {
			if h, ok := methods[r.Method]; ok {
				h(w, r)
				return
			}
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		})
	}
	handle("/auth/initiate", map[string]http.HandlerFunc{http.MethodPost: s.handleInitiate})
	handle("/auth/validate", map[string]http.HandlerFunc{http.MethodPost: s.handleValidate})
	handle("/auth/validate2fa", map[string]http.HandlerFunc{http.MethodPost: s.handleValidate2FA})
	handle("/auth/register", map[string]http.HandlerFunc{http.MethodPost: s.handleRegister})
	handle("/auth/refresh", map[string]http.HandlerFunc{http.MethodPost: s.handleRefresh})
	handle("/status", map[string]http.HandlerFunc{http.MethodGet: s.handleStatus})
	handle("/vault", map[string]http.HandlerFunc{
		http.MethodGet: s.handleGetVault,
		http.MethodPut: s.handlePutVault,
	})

	s.httpSrv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if code, ok := s.nextFailure(r.Method, r.URL.Path); ok {
			writeError(w, code, "injected failure")
			return
		}
		mux.ServeHTTP(w, r)
	}))
	return s
}

// URL is the server's base URL.
func (s *Server) URL() string { return s.httpSrv.URL }

// Close shuts the server down.
func (s *Server) Close() { s.httpSrv.Close() }

// FailNext makes the next n requests matching method and path answer
// with the given status before normal handling resumes.
func (s *Server) FailNext(method, path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	for i := 0; i < n; i++ {
		s.failures[key] = append(s.failures[key], status)
	}
}

func (s *Server) nextFailure(method, path string) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := method + " " + path
	queue := s.failures[key]
	if len(queue) == 0 {
		return 0, false
	}
	s.failures[key] = queue[1:]
	return queue[0], true
}

// SeedAccount registers an account the way a production signup would:
// fresh salt, derived verifier, default KDF parameters. Returns the
// account for further adjustment (second factor, vault seeding).
func (s *Server) SeedAccount(username, password string) (*Account, error) {
	salt, err := srp.GenerateSalt()
	if err != nil {
		return nil, err
	}

	settings := kdf.Settings{Iterations: 1, MemorySize: 8, DegreeOfParallelism: 1}
	masterKey, err := kdf.Derive(password, kdf.Params{
		Salt:      []byte(salt),
		Algorithm: kdf.Argon2Id,
		Settings:  settings,
	})
	if err != nil {
		return nil, err
	}

	privateKey, err := srp.DerivePrivateKey(salt, username, hex.EncodeToString(masterKey))
	if err != nil {
		return nil, err
	}
	verifier, err := srp.DeriveVerifier(privateKey)
	if err != nil {
		return nil, err
	}

	acc := &Account{
		Username:           username,
		Salt:               salt,
		Verifier:           verifier,
		EncryptionType:     string(kdf.Argon2Id),
		EncryptionSettings: kdf.EncodeSettings(settings),
	}
	s.mu.Lock()
	s.accounts[username] = acc
	s.mu.Unlock()
	return acc, nil
}

// SeedVault installs a vault envelope for the account at revision 1.
func (s *Server) SeedVault(username string, blob []byte, schemaVersion int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[username]
	acc.revision = 1
	acc.vault = &webapi.VaultEnvelope{
		EncryptedBlob: blob,
		Revision:      1,
		SchemaVersion: schemaVersion,
	}
}

// EnableTwoFactor turns on the second factor for an account.
func (s *Server) EnableTwoFactor(username, secret string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc := s.accounts[username]; acc != nil {
		acc.TOTPSecret = secret
	}
}

// Bump advances the account's vault revision without changing the blob,
// as if another device had pushed.
func (s *Server) Bump(username string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc := s.accounts[username]
	acc.revision++
	if acc.vault != nil {
		acc.vault.Revision = acc.revision
	}
}

// Vault returns the current envelope, for assertions.
func (s *Server) Vault(username string) *webapi.VaultEnvelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc := s.accounts[username]; acc != nil && acc.vault != nil {
		v := *acc.vault
		return &v
	}
	return nil
}

// Revision returns the account's current vault revision.
func (s *Server) Revision(username string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acc := s.accounts[username]; acc != nil {
		return acc.revision
	}
	return 0
}

// IssueTokens mints a token pair for the account, bypassing the SRP
// handshake. For tests that start authenticated.
func (s *Server) IssueTokens(username string) (webapi.TokenPair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issueTokensLocked(username)
}

func (s *Server) issueTokensLocked(username string) (webapi.TokenPair, error) {
	claims := jwt.RegisteredClaims{
		Subject:   username,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.TokenTTL)),
	}
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(jwtSecret)
	if err != nil {
		return webapi.TokenPair{}, fmt.Errorf("sign token: %w", err)
	}
	refresh := uuid.NewString()

	s.accessTokens[access] = username
	s.refreshTokens[refresh] = username
	return webapi.TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (s *Server) authorize(r *http.Request) (*Account, bool) {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.accessTokens[token]
	if !ok {
		return nil, false
	}

	claims := jwt.RegisteredClaims{}
	if _, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return jwtSecret, nil
	}); err != nil {
		// Expired or malformed.
		return nil, false
	}
	return s.accounts[username], true
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req webapi.LoginInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[req.Username]
	if !ok {
		// A real server answers unknown users with fake parameters to
		// block enumeration; failing the proof later is enough here.
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	eph, err := srp.GenerateServerEphemeral(acc.Verifier)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	acc.serverEph = &eph

	writeJSON(w, webapi.LoginInitiateResponse{
		Salt:               acc.Salt,
		ServerEphemeral:    eph.Public,
		EncryptionType:     acc.EncryptionType,
		EncryptionSettings: acc.EncryptionSettings,
	})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req webapi.ValidateLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	s.validateProof(w, req.Username, req.ClientEphemeral, req.Proof, "", false)
}

func (s *Server) handleValidate2FA(w http.ResponseWriter, r *http.Request) {
	var req webapi.ValidateLogin2FARequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}
	s.validateProof(w, req.Username, req.ClientEphemeral, req.Proof, req.Code, true)
}

func (s *Server) validateProof(w http.ResponseWriter, username, clientEph, proof, code string, second bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[username]
	if !ok || acc.serverEph == nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	if len(acc.TOTPSecret) > 0 && !second {
		// Proof not consumed yet: the client re-submits with a code.
		writeJSON(w, webapi.ValidateLoginResponse{RequiresTwoFactor: true})
		return
	}

	// The ephemeral is single-use regardless of outcome.
	eph := *acc.serverEph
	acc.serverEph = nil

	if len(acc.TOTPSecret) > 0 {
		if !totp.Verify(code, acc.TOTPSecret, time.Now()) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
	}

	session, err := srp.DeriveServerSession(eph.Secret, clientEph, acc.Salt, username, acc.Verifier, proof)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	tokens, err := s.issueTokensLocked(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, webapi.ValidateLoginResponse{
		ServerProof: session.Proof,
		Token:       &tokens,
	})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req webapi.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[req.Username]; exists {
		writeError(w, http.StatusConflict, "username taken")
		return
	}
	s.accounts[req.Username] = &Account{
		Username:           req.Username,
		Salt:               req.Salt,
		Verifier:           req.Verifier,
		EncryptionType:     req.EncryptionType,
		EncryptionSettings: req.EncryptionSettings,
		revision:           1,
		vault: &webapi.VaultEnvelope{
			EncryptedBlob: req.EncryptedBlob,
			Revision:      1,
			SchemaVersion: req.SchemaVersion,
		},
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req webapi.RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	username, ok := s.refreshTokens[req.RefreshToken]
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid refresh token")
		return
	}
	// Rotate: the old refresh token dies with this exchange.
	delete(s.refreshTokens, req.RefreshToken)

	tokens, err := s.issueTokensLocked(username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, tokens)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	writeJSON(w, webapi.StatusResponse{
		ServerVersion:          "test",
		ClientVersionSupported: s.ClientSupported,
		VaultRevision:          acc.revision,
	})
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if acc.vault == nil {
		writeError(w, http.StatusNotFound, "no vault")
		return
	}
	writeJSON(w, acc.vault)
}

func (s *Server) handlePutVault(w http.ResponseWriter, r *http.Request) {
	acc, ok := s.authorize(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req webapi.VaultUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.PutCount++

	if req.BaseRevision != acc.revision {
		writeError(w, http.StatusConflict, "revision conflict")
		return
	}
	acc.revision++
	acc.vault = &webapi.VaultEnvelope{
		EncryptedBlob: req.EncryptedBlob,
		Revision:      acc.revision,
		SchemaVersion: req.SchemaVersion,
	}
	writeJSON(w, webapi.VaultUpdateResponse{Revision: acc.revision})
}
