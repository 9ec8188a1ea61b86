package cli

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promptApp(input string) (*App, *bytes.Buffer) {
	out := &bytes.Buffer{}
	return &App{in: bufio.NewReader(strings.NewReader(input)), out: out}, out
}

func TestPromptLine_TrimsWhitespace(t *testing.T) {
	app, out := promptApp("  alice  \n")

	got, err := app.promptLine("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
	assert.Equal(t, "Username: ", out.String())
}

func TestPromptLine_PartialLineBeforeEOF(t *testing.T) {
	app, _ := promptApp("alice")

	got, err := app.promptLine("Username: ")
	require.NoError(t, err)
	assert.Equal(t, "alice", got)
}

func TestPromptLine_EmptyInputFails(t *testing.T) {
	app, _ := promptApp("")

	_, err := app.promptLine("Username: ")
	require.Error(t, err)
}

func TestConfirm_DefaultsToNo(t *testing.T) {
	for input, want := range map[string]bool{
		"y\n":    true,
		"Y\n":    true,
		"yes\n":  true,
		"n\n":    false,
		"\n":     false,
		"sure\n": false,
	} {
		app, _ := promptApp(input)
		got, err := app.confirm("Proceed?")
		require.NoError(t, err)
		assert.Equal(t, want, got, "input %q", input)
	}
}

func TestStubbedPasswordReader(t *testing.T) {
	app, out := promptApp("")
	stubPassword(t, "hunter2")

	pw, err := app.promptPassword("Master password: ")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", pw)
	assert.Contains(t, out.String(), "Master password: ")
}
