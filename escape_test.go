package stomp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEscapeUnescapeInvolution11(t *testing.T) {
	e := newEscaper(V1_1)
	for _, s := range []string{"plain", "a:b", "a\nb", "a\\b", "a\\b\n:c"} {
		escaped, err := e.Escape(CmdSend, s)
		require.NoError(t, err)
		back, err := e.Unescape(CmdSend, escaped)
		require.NoError(t, err)
		require.Equal(t, s, back)
	}
}

func TestEscapeUnescapeInvolution12IncludesCR(t *testing.T) {
	e := newEscaper(V1_2)
	s := "a\rb\nc:d\\e"
	escaped, err := e.Escape(CmdSend, s)
	require.NoError(t, err)
	back, err := e.Unescape(CmdSend, escaped)
	require.NoError(t, err)
	require.Equal(t, s, back)
}

func TestEscapeV10ForbidsColonAndNewline(t *testing.T) {
	e := newEscaper(V1_0)
	_, err := e.Escape(CmdSend, "a:b")
	require.Error(t, err)

	_, err = e.Escape(CmdSend, "a\nb")
	require.Error(t, err)
}

func TestEscapeV10ConnectIsLiteral(t *testing.T) {
	e := newEscaper(V1_0)
	s, err := e.Escape(CmdConnect, "login:with:colons\nand-newline")
	require.NoError(t, err)
	require.Equal(t, "login:with:colons\nand-newline", s)

	s, err = e.Escape(CmdConnected, "also:literal")
	require.NoError(t, err)
	require.Equal(t, "also:literal", s)
}

func TestUnescapeRejectsTrailingBackslash(t *testing.T) {
	e := newEscaper(V1_1)
	_, err := e.Unescape(CmdSend, "trailing\\")
	require.Error(t, err)
	var frameErr *FrameError
	require.ErrorAs(t, err, &frameErr)
}

func TestUnescapeRejectsUnknownSequence(t *testing.T) {
	e := newEscaper(V1_1)
	_, err := e.Unescape(CmdSend, "bad\\x")
	require.Error(t, err)
}

func TestUnescapeRejectsCRUnder11(t *testing.T) {
	e := newEscaper(V1_1)
	_, err := e.Unescape(CmdSend, "bad\\r")
	require.Error(t, err)
}

func TestEscapeV10LiteralPassesNonForbiddenBytes(t *testing.T) {
	e := newEscaper(V1_0)
	s, err := e.Escape(CmdSend, "no-forbidden-chars")
	require.NoError(t, err)
	require.Equal(t, "no-forbidden-chars", s)
}
