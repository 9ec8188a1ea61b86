package webapi

// Wire types for the vault API. Byte slices are base64 in JSON.

// LoginInitiateRequest starts the SRP handshake.
type LoginInitiateRequest struct {
	Username string `json:"username"`
}

// LoginInitiateResponse carries the public account parameters needed to
// derive the master key and the client proof. Nothing in it is secret.
type LoginInitiateResponse struct {
	Salt               string `json:"salt"`
	ServerEphemeral    string `json:"serverEphemeral"`
	EncryptionType     string `json:"encryptionType"`
	EncryptionSettings string `json:"encryptionSettings"`
}

// TokenPair authorizes API calls. Tokens carry no vault secrets.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// ValidateLoginRequest submits the client's SRP proof.
type ValidateLoginRequest struct {
	Username        string `json:"username"`
	ClientEphemeral string `json:"clientEphemeral"`
	Proof           string `json:"proof"`
	RememberMe      bool   `json:"rememberMe"`
}

// ValidateLogin2FARequest re-submits the proof bound to a TOTP code.
type ValidateLogin2FARequest struct {
	Username        string `json:"username"`
	ClientEphemeral string `json:"clientEphemeral"`
	Proof           string `json:"proof"`
	Code            string `json:"code"`
	RememberMe      bool   `json:"rememberMe"`
}

// ValidateLoginResponse either grants tokens, or signals that a second
// factor is configured for the account.
type ValidateLoginResponse struct {
	RequiresTwoFactor bool       `json:"requiresTwoFactor"`
	ServerProof       string     `json:"serverProof,omitempty"`
	Token             *TokenPair `json:"token,omitempty"`
}

// RegisterRequest creates a new account: SRP salt + verifier plus the
// KDF parameters the account was created under, and the initial vault.
type RegisterRequest struct {
	Username           string `json:"username"`
	Salt               string `json:"salt"`
	Verifier           string `json:"verifier"`
	EncryptionType     string `json:"encryptionType"`
	EncryptionSettings string `json:"encryptionSettings"`
	EncryptedBlob      []byte `json:"encryptedBlob"`
	SchemaVersion      int    `json:"schemaVersion"`
}

// RefreshRequest exchanges an expired access token for a new pair.
type RefreshRequest struct {
	Token        string `json:"token"`
	RefreshToken string `json:"refreshToken"`
}

// StatusResponse is the lightweight health/compatibility probe consulted
// before every sync.
type StatusResponse struct {
	ServerVersion          string `json:"serverVersion"`
	ClientVersionSupported bool   `json:"clientVersionSupported"`
	VaultRevision          int64  `json:"vaultRevision"`
}

// VaultEnvelope is the server's copy of the vault: an opaque encrypted
// blob plus the revision and schema version it was written at.
// Revision is monotonically non-decreasing per account and never reused.
type VaultEnvelope struct {
	EncryptedBlob []byte `json:"encryptedBlob"`
	Revision      int64  `json:"revision"`
	SchemaVersion int    `json:"schemaVersion"`
}

// VaultUpdateRequest pushes a new envelope. BaseRevision is the revision
// the client's work is based on; the server accepts the write only if it
// still matches the current revision (compare-and-swap).
type VaultUpdateRequest struct {
	EncryptedBlob []byte `json:"encryptedBlob"`
	BaseRevision  int64  `json:"baseRevision"`
	SchemaVersion int    `json:"schemaVersion"`
}

// VaultUpdateResponse reports the newly assigned revision.
type VaultUpdateResponse struct {
	Revision int64 `json:"revision"`
}
