package stomp

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameEncodeSendWithBodyContainingLF(t *testing.T) {
	f := NewFrame(CmdSend, V1_0, HdrDestination, "/queue/world")
	f.Body = []byte("two\nlines")

	b, err := f.Encode()
	require.NoError(t, err)
	require.Equal(t, "SEND\ndestination:/queue/world\n\ntwo\nlines\x00", string(b))
}

func TestFrameEncodeEscaping11(t *testing.T) {
	var h Headers
	h.Add("\n\\", ":\t\n")
	f := &Frame{Command: CmdDisconnect, Headers: h, Version: V1_1, Raw: true}

	b, err := f.Encode()
	require.NoError(t, err)
	require.Equal(t, "DISCONNECT\n\\n\\\\:\\c\t\\n\n\n\x00", string(b))
}

func TestFrameEncodeEscaping12(t *testing.T) {
	var h Headers
	h.Add("\n\\", ":\t\r")
	f := &Frame{Command: CmdDisconnect, Headers: h, Version: V1_2, Raw: true}

	b, err := f.Encode()
	require.NoError(t, err)
	require.Equal(t, "DISCONNECT\n\\n\\\\:\\c\t\\r\n\n\x00", string(b))
}

func TestFrameDuplicateHeadersRoundTrip(t *testing.T) {
	var h Headers
	h.Add("foo", "bar1")
	h.Add("foo", "bar2")
	f := &Frame{Command: CmdSend, Headers: h, Body: []byte("some stuff\nand more"), Version: V1_0, Raw: true}

	b, err := f.Encode()
	require.NoError(t, err)
	require.Equal(t, "SEND\nfoo:bar1\nfoo:bar2\n\nsome stuff\nand more\x00", string(b))

	f.Unraw()
	b, err = f.Encode()
	require.NoError(t, err)
	require.Equal(t, "SEND\nfoo:bar1\n\nsome stuff\nand more\x00", string(b))
}

func TestFrameRoundTripAllVersions(t *testing.T) {
	for _, v := range Versions {
		f := NewFrame(CmdSend, v, HdrDestination, "/queue/a", HdrContentType, "text/plain")
		f.Body = []byte("hello world")

		b, err := f.Encode()
		require.NoError(t, err)

		p := NewParser(v)
		p.Add(b)
		item, err := p.Get()
		require.NoError(t, err)
		require.NotNil(t, item)

		got, ok := item.(Frame)
		require.True(t, ok)
		got.Unraw()

		require.True(t, f.Equal(&got), "round trip frame should equal original")
	}
}

func TestFrameEqualIgnoresVersion(t *testing.T) {
	a := NewFrame(CmdSend, V1_0, HdrDestination, "/q")
	b := NewFrame(CmdSend, V1_2, HdrDestination, "/q")
	require.True(t, a.Equal(b))
}

func TestFrameInfoTruncatesBody(t *testing.T) {
	f := NewFrame(CmdSend, V1_0)
	f.Body = []byte("0123456789012345678901234567890")
	info := f.Info()
	require.Contains(t, info, "...")
	require.Contains(t, info, "SEND frame")
}

func TestHeartBeatEqualAcrossVersions(t *testing.T) {
	require.True(t, HeartBeat{Version: V1_0}.Equal(HeartBeat{Version: V1_2}))
}

func TestFrameEncodeRejectsNonASCIICommandUnder10(t *testing.T) {
	f := NewFrame("SéND", V1_0)
	_, err := f.Encode()
	require.Error(t, err)
	var encErr *EncodingError
	require.ErrorAs(t, err, &encErr)
}
