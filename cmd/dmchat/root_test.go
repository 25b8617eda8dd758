package main

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "dmchat", cmd.Use)
	assert.Contains(t, cmd.Long, "direct-messaging")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"register", "login", "logout", "whoami", "profile", "users", "chat"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)

	credsFlag := cmd.PersistentFlags().Lookup("credentials")
	require.NotNil(t, credsFlag)
	assert.Equal(t, DefaultCredentialsPath(), credsFlag.DefValue)
}

func TestMissingConfigIsFatal(t *testing.T) {
	t.Setenv("DMCHAT_API_URL", "")
	t.Setenv("DMCHAT_API_KEY", "")
	t.Setenv("DMCHAT_PROJECT_ID", "")

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"whoami", "--credentials", filepath.Join(t.TempDir(), "c.yaml")})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DMCHAT_API_URL")
	assert.Contains(t, err.Error(), "DMCHAT_PROJECT_ID")
}

func TestPromptPasswordFromPipe(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.SetIn(bytes.NewBufferString("s3cret\nignored\n"))
	cmd.SetErr(&bytes.Buffer{})

	pw, err := promptPassword(cmd, "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", pw)

	cmd.SetIn(bytes.NewBufferString("no-newline"))
	pw, err = promptPassword(cmd, "Password: ")
	require.NoError(t, err)
	assert.Equal(t, "no-newline", pw)
}

func TestChatRequiresUserArg(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"chat"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	assert.Error(t, cmd.Execute())
}
