package webapi_test

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliasvault/client-go/internal/servertest"
	"github.com/aliasvault/client-go/webapi"
)

func newClientAndServer(t *testing.T, opts ...webapi.Option) (*webapi.Client, *servertest.Server) {
	t.Helper()
	srv := servertest.New()
	t.Cleanup(srv.Close)

	opts = append([]webapi.Option{webapi.WithBaseDelay(time.Millisecond)}, opts...)
	client, err := webapi.New(srv.URL(), opts...)
	require.NoError(t, err)
	return client, srv
}

func seedAuthenticated(t *testing.T, client *webapi.Client, srv *servertest.Server) {
	t.Helper()
	_, err := srv.SeedAccount("alice", "pw")
	require.NoError(t, err)
	srv.SeedVault("alice", []byte("blob-rev-1"), 9)

	tokens, err := srv.IssueTokens("alice")
	require.NoError(t, err)
	client.SetTokens(tokens)
}

func TestGetStatus(t *testing.T) {
	client, srv := newClientAndServer(t)
	seedAuthenticated(t, client, srv)

	status, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.ClientVersionSupported)
	assert.EqualValues(t, 1, status.VaultRevision)
}

func TestUnauthorizedWithoutTokens(t *testing.T) {
	client, srv := newClientAndServer(t)
	_, err := srv.SeedAccount("alice", "pw")
	require.NoError(t, err)

	_, err = client.GetStatus(context.Background())
	require.ErrorIs(t, err, webapi.ErrUnauthorized)
}

func TestVault_GetAndPut(t *testing.T) {
	client, srv := newClientAndServer(t)
	seedAuthenticated(t, client, srv)
	ctx := context.Background()

	envelope, err := client.GetVault(ctx)
	require.NoError(t, err)
	assert.Equal(t, []byte("blob-rev-1"), envelope.EncryptedBlob)
	assert.EqualValues(t, 1, envelope.Revision)

	resp, err := client.PutVault(ctx, webapi.VaultUpdateRequest{
		EncryptedBlob: []byte("blob-rev-2"),
		BaseRevision:  envelope.Revision,
		SchemaVersion: 9,
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, resp.Revision)
	assert.Equal(t, []byte("blob-rev-2"), srv.Vault("alice").EncryptedBlob)
}

func TestVault_PutConflict(t *testing.T) {
	client, srv := newClientAndServer(t)
	seedAuthenticated(t, client, srv)

	_, err := client.PutVault(context.Background(), webapi.VaultUpdateRequest{
		EncryptedBlob: []byte("stale"),
		BaseRevision:  0,
		SchemaVersion: 9,
	})
	require.ErrorIs(t, err, webapi.ErrConflict)

	// The rejected write must not have touched the stored vault.
	assert.Equal(t, []byte("blob-rev-1"), srv.Vault("alice").EncryptedBlob)
	assert.EqualValues(t, 1, srv.Revision("alice"))
}

func TestRetry_TransientServerErrors(t *testing.T) {
	client, srv := newClientAndServer(t, webapi.WithMaxRetries(3))
	seedAuthenticated(t, client, srv)

	srv.FailNext(http.MethodGet, "/status", http.StatusServiceUnavailable, 2)

	status, err := client.GetStatus(context.Background())
	require.NoError(t, err)
	assert.True(t, status.ClientVersionSupported)
}

func TestRetry_GivesUpAfterBudget(t *testing.T) {
	client, srv := newClientAndServer(t, webapi.WithMaxRetries(2))
	seedAuthenticated(t, client, srv)

	srv.FailNext(http.MethodGet, "/status", http.StatusServiceUnavailable, 10)

	_, err := client.GetStatus(context.Background())
	require.Error(t, err)

	var apiErr *webapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
}

func TestRetry_ConflictIsNotRetried(t *testing.T) {
	client, srv := newClientAndServer(t, webapi.WithMaxRetries(5))
	seedAuthenticated(t, client, srv)

	_, err := client.PutVault(context.Background(), webapi.VaultUpdateRequest{
		EncryptedBlob: []byte("stale"),
		BaseRevision:  0,
	})
	require.ErrorIs(t, err, webapi.ErrConflict)
	// One request, no retries: a conflict never resolves by repeating.
	assert.Equal(t, 1, srv.PutCount)
}

func TestUnreachableServer(t *testing.T) {
	srv := servertest.New()
	url := srv.URL()
	srv.Close()

	client, err := webapi.New(url, webapi.WithMaxRetries(0))
	require.NoError(t, err)
	client.SetTokens(webapi.TokenPair{AccessToken: "opaque-token"})

	_, err = client.GetStatus(context.Background())
	require.ErrorIs(t, err, webapi.ErrUnavailable)
	assert.True(t, webapi.IsUnreachable(err))
}

func TestTokenRefresh_NearExpiry(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	srv.TokenTTL = 10 * time.Second // inside the refresh leeway

	client, err := webapi.New(srv.URL(), webapi.WithBaseDelay(time.Millisecond))
	require.NoError(t, err)

	_, err = srv.SeedAccount("alice", "pw")
	require.NoError(t, err)
	srv.SeedVault("alice", []byte("blob"), 9)

	tokens, err := srv.IssueTokens("alice")
	require.NoError(t, err)
	client.SetTokens(tokens)

	srv.TokenTTL = time.Hour
	_, err = client.GetStatus(context.Background())
	require.NoError(t, err)

	// The client exchanged the near-expiry pair before the call.
	refreshed := client.Tokens()
	assert.NotEqual(t, tokens.AccessToken, refreshed.AccessToken)
	assert.NotEqual(t, tokens.RefreshToken, refreshed.RefreshToken)
}
