package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandHelp(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"--help"})
	require.NoError(t, cmd.Execute())
}

func TestSendCommandRequiresTwoArgs(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"send", "/queue/a"})
	require.Error(t, cmd.Execute())
}

func TestSubscribeCommandRequiresDestination(t *testing.T) {
	cmd := newRootCommand()
	cmd.SetArgs([]string{"subscribe"})
	require.Error(t, cmd.Execute())
}
