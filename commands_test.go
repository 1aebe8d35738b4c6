package stomp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCommandsConnect10OmitsAcceptVersion(t *testing.T) {
	c := NewCommands(V1_0)
	f := c.Connect("user", "pass", nil, []string{V1_0, V1_1}, "broker")
	_, ok := f.Headers.Get(HdrAcceptVersion)
	require.False(t, ok)
	_, ok = f.Headers.Get(HdrHost)
	require.False(t, ok)
	login, _ := f.Headers.Get(HdrLogin)
	require.Equal(t, "user", login)
}

func TestCommandsConnect11IncludesAcceptVersionAndHost(t *testing.T) {
	c := NewCommands(V1_1)
	f := c.Connect("", "", nil, []string{V1_0, V1_1, V1_2}, "broker.local")
	av, ok := f.Headers.Get(HdrAcceptVersion)
	require.True(t, ok)
	require.Equal(t, "1.0,1.1,1.2", av)
	host, ok := f.Headers.Get(HdrHost)
	require.True(t, ok)
	require.Equal(t, "broker.local", host)
}

func TestCommandsStompRejectedUnder10(t *testing.T) {
	c := NewCommands(V1_0)
	_, err := c.Stomp("u", "p", nil, nil, "")
	require.Error(t, err)
}

func TestCommandsSubscribeRequiresIdAbove10(t *testing.T) {
	c := NewCommands(V1_1)
	_, err := c.Subscribe("/q", nil)
	require.Error(t, err)

	f, err := c.Subscribe("/q", map[string]string{HdrID: "sub-0"})
	require.NoError(t, err)
	id, _ := f.Headers.Get(HdrID)
	require.Equal(t, "sub-0", id)
}

func TestCommandsSubscribeIdOptionalUnder10(t *testing.T) {
	c := NewCommands(V1_0)
	f, err := c.Subscribe("/q", nil)
	require.NoError(t, err)
	require.Equal(t, CmdSubscribe, f.Command)
}

func TestCommandsAckRequirements(t *testing.T) {
	c10 := NewCommands(V1_0)
	_, err := c10.Ack(nil)
	require.Error(t, err)
	_, err = c10.Ack(map[string]string{HdrMessageID: "m1"})
	require.NoError(t, err)

	c11 := NewCommands(V1_1)
	_, err = c11.Ack(map[string]string{HdrMessageID: "m1"})
	require.Error(t, err)
	_, err = c11.Ack(map[string]string{HdrMessageID: "m1", HdrSubscription: "s1"})
	require.NoError(t, err)

	c12 := NewCommands(V1_2)
	_, err = c12.Ack(nil)
	require.Error(t, err)
	_, err = c12.Ack(map[string]string{HdrID: "ack1", HdrSubscription: "s1"})
	require.Error(t, err)
	_, err = c12.Ack(map[string]string{HdrID: "ack1"})
	require.NoError(t, err)
}

func TestCommandsNackAbsentUnder10(t *testing.T) {
	c := NewCommands(V1_0)
	_, err := c.Nack(map[string]string{HdrMessageID: "m1"})
	require.Error(t, err)
}

func TestCommandsNackRequirements12(t *testing.T) {
	c := NewCommands(V1_2)
	_, err := c.Nack(map[string]string{HdrID: "ack1"})
	require.NoError(t, err)
}

func TestCommandsBeginCommitAbort(t *testing.T) {
	c := NewCommands(V1_1)
	f := c.Begin("tx-1")
	tx, _ := f.Headers.Get(HdrTransaction)
	require.Equal(t, "tx-1", tx)
	require.Equal(t, CmdBegin, f.Command)

	require.Equal(t, CmdCommit, c.Commit("tx-1").Command)
	require.Equal(t, CmdAbort, c.Abort("tx-1").Command)
}

func TestCommandsSendCarriesBodyAndHeaders(t *testing.T) {
	c := NewCommands(V1_1)
	f := c.Send("/queue/a", map[string]string{HdrContentType: "text/plain"}, []byte("hi"))
	dest, _ := f.Headers.Get(HdrDestination)
	require.Equal(t, "/queue/a", dest)
	require.Equal(t, []byte("hi"), f.Body)
}
