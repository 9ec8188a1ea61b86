package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aliasvault/client-go/internal/cli/config"
	"github.com/aliasvault/client-go/internal/servertest"
	"github.com/aliasvault/client-go/totp"
)

func testConfig(t *testing.T, srv *servertest.Server) *config.Config {
	t.Helper()
	return &config.Config{
		ServerURL:      srv.URL(),
		DataDir:        t.TempDir(),
		RequestTimeout: 10 * time.Second,
	}
}

func newTestApp(t *testing.T, cfg *config.Config) (*App, *bytes.Buffer) {
	t.Helper()
	out := &bytes.Buffer{}
	app, err := NewApp(context.Background(), cfg, strings.NewReader(""), out)
	require.NoError(t, err)
	t.Cleanup(func() { app.Close() })
	return app, out
}

// stubPassword replaces the terminal password reader with a queue of
// canned answers.
func stubPassword(t *testing.T, passwords ...string) {
	t.Helper()
	old := readPassword
	i := 0
	readPassword = func() ([]byte, error) {
		if i >= len(passwords) {
			return nil, io.EOF
		}
		pw := passwords[i]
		i++
		return []byte(pw), nil
	}
	t.Cleanup(func() { readPassword = old })
}

func (a *App) setInput(s string) {
	a.in = bufio.NewReader(strings.NewReader(s))
}

func run(app *App, args ...string) error {
	root := app.RootCommand()
	root.SetArgs(args)
	root.SetOut(io.Discard)
	root.SetErr(io.Discard)
	return root.ExecuteContext(context.Background())
}

func TestRegisterLoginAddGetFlow(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	app, out := newTestApp(t, testConfig(t, srv))

	stubPassword(t, "correct horse", "correct horse")
	require.NoError(t, run(app, "register", "alice"))
	assert.Contains(t, out.String(), "Account alice created")

	out.Reset()
	stubPassword(t, "correct horse")
	require.NoError(t, run(app, "login", "alice"))
	assert.Contains(t, out.String(), "Logged in as alice")

	// Already unlocked: no password prompt for the mutation itself.
	out.Reset()
	app.setInput("bob\nbob@example.com\n")
	stubPassword(t, "s3cret")
	require.NoError(t, run(app, "add", "Example"))
	assert.Contains(t, out.String(), "Credential for Example saved")

	out.Reset()
	require.NoError(t, run(app, "list"))
	assert.Contains(t, out.String(), "Example")
	assert.Contains(t, out.String(), "bob")

	// The password stays hidden unless asked for.
	out.Reset()
	require.NoError(t, run(app, "get", "Example"))
	assert.NotContains(t, out.String(), "s3cret")
	assert.Contains(t, out.String(), "hidden")

	out.Reset()
	require.NoError(t, run(app, "get", "Example", "--show"))
	assert.Contains(t, out.String(), "Password: s3cret")
	assert.Contains(t, out.String(), "bob@example.com")
}

func TestRegister_PasswordMismatch(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	app, _ := newTestApp(t, testConfig(t, srv))

	stubPassword(t, "one", "two")
	err := run(app, "register", "alice")
	require.ErrorContains(t, err, "passwords do not match")
}

func TestLogin_WrongPasswordMessage(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	app, _ := newTestApp(t, testConfig(t, srv))

	stubPassword(t, "correct horse", "correct horse")
	require.NoError(t, run(app, "register", "alice"))

	stubPassword(t, "battery staple")
	err := run(app, "login", "alice")
	require.ErrorContains(t, err, "invalid username or password")
}

func TestUnlockAcrossRestart(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	cfg := testConfig(t, srv)

	app1, _ := newTestApp(t, cfg)
	stubPassword(t, "correct horse", "correct horse")
	require.NoError(t, run(app1, "register", "alice"))
	stubPassword(t, "correct horse")
	require.NoError(t, run(app1, "login", "alice"))
	app1.setInput("bob\n\n")
	stubPassword(t, "s3cret")
	require.NoError(t, run(app1, "add", "Example"))
	require.NoError(t, app1.Close())

	// A new process: the vault unlocks from the local cache after a
	// password prompt.
	app2, out := newTestApp(t, cfg)

	stubPassword(t, "battery staple")
	err := run(app2, "list")
	require.ErrorContains(t, err, "invalid master password")

	stubPassword(t, "correct horse")
	require.NoError(t, run(app2, "list"))
	assert.Contains(t, out.String(), "Example")
}

func TestStatusCommand(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	app, out := newTestApp(t, testConfig(t, srv))

	require.NoError(t, run(app, "status"))
	assert.Contains(t, out.String(), "No account on this device")

	stubPassword(t, "correct horse", "correct horse")
	require.NoError(t, run(app, "register", "alice"))
	stubPassword(t, "correct horse")
	require.NoError(t, run(app, "login", "alice"))

	out.Reset()
	require.NoError(t, run(app, "status"))
	assert.Contains(t, out.String(), "alice")
	assert.Contains(t, out.String(), "Revision:  1")
}

func TestTotpCommands(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	app, out := newTestApp(t, testConfig(t, srv))

	stubPassword(t, "correct horse", "correct horse")
	require.NoError(t, run(app, "register", "alice"))
	stubPassword(t, "correct horse")
	require.NoError(t, run(app, "login", "alice"))

	secret, err := totp.GenerateSecret()
	require.NoError(t, err)

	out.Reset()
	require.NoError(t, run(app, "totp", "add", "github", secret))
	assert.Contains(t, out.String(), "github saved")

	out.Reset()
	require.NoError(t, run(app, "totp", "show", "github"))
	assert.Regexp(t, regexp.MustCompile(`github: \d{6}`), out.String())

	// The entry hangs off a credential; one was created for the service.
	out.Reset()
	require.NoError(t, run(app, "list"))
	assert.Contains(t, out.String(), "github")

	// An existing credential is reused, not duplicated.
	app.setInput("bob\n\n")
	stubPassword(t, "s3cret")
	require.NoError(t, run(app, "add", "gitlab"))
	require.NoError(t, run(app, "totp", "add", "gitlab", secret))
	out.Reset()
	require.NoError(t, run(app, "list"))
	assert.Equal(t, 1, strings.Count(out.String(), "gitlab"))

	err = run(app, "totp", "add", "bad", "not base32!!!")
	require.ErrorContains(t, err, "invalid secret")
}

func TestDeleteCommand(t *testing.T) {
	srv := servertest.New()
	t.Cleanup(srv.Close)
	app, out := newTestApp(t, testConfig(t, srv))

	stubPassword(t, "correct horse", "correct horse")
	require.NoError(t, run(app, "register", "alice"))
	stubPassword(t, "correct horse")
	require.NoError(t, run(app, "login", "alice"))
	app.setInput("bob\n\n")
	stubPassword(t, "s3cret")
	require.NoError(t, run(app, "add", "Example"))

	// Declining the prompt keeps the credential.
	out.Reset()
	app.setInput("n\n")
	require.NoError(t, run(app, "delete", "Example"))
	assert.Contains(t, out.String(), "Nothing deleted")

	out.Reset()
	app.setInput("y\n")
	require.NoError(t, run(app, "delete", "Example"))
	assert.Contains(t, out.String(), "Credential for Example deleted")

	out.Reset()
	require.NoError(t, run(app, "list"))
	assert.Contains(t, out.String(), "The vault is empty")
}
