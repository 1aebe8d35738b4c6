// Package stomp implements the transport-independent core of a STOMP
// (Simple/Streaming Text-Oriented Messaging Protocol) client: the frame
// model and wire codec, an incremental parser, pure command constructors,
// a session state machine, and the failover reconnect protocol.
//
// The core never touches a socket. Transports (see the sibling transport
// and eventloop packages) drive it by feeding bytes to a Parser and
// calling Session methods; the core hands back Frames to encode and send.
package stomp

import "unicode/utf8"

// Protocol versions supported by this library, in ascending order.
const (
	V1_0 = "1.0"
	V1_1 = "1.1"
	V1_2 = "1.2"
)

// DefaultVersion is used by a Session when the caller does not pin one.
const DefaultVersion = V1_0

// Versions lists every version this library understands, in ascending order.
var Versions = []string{V1_0, V1_1, V1_2}

// Client commands.
const (
	CmdConnect     = "CONNECT"
	CmdStomp       = "STOMP"
	CmdDisconnect  = "DISCONNECT"
	CmdSend        = "SEND"
	CmdSubscribe   = "SUBSCRIBE"
	CmdUnsubscribe = "UNSUBSCRIBE"
	CmdAck         = "ACK"
	CmdNack        = "NACK"
	CmdBegin       = "BEGIN"
	CmdCommit      = "COMMIT"
	CmdAbort       = "ABORT"
)

// Server commands.
const (
	CmdConnected = "CONNECTED"
	CmdMessage   = "MESSAGE"
	CmdReceipt   = "RECEIPT"
	CmdError     = "ERROR"
)

// Header names used throughout the core.
const (
	HdrAcceptVersion = "accept-version"
	HdrVersion       = "version"
	HdrHost          = "host"
	HdrLogin         = "login"
	HdrPasscode      = "passcode"
	HdrHeartBeat     = "heart-beat"
	HdrServer        = "server"
	HdrSession       = "session"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrAck           = "ack"
	HdrSubscription  = "subscription"
	HdrMessageID     = "message-id"
	HdrTransaction   = "transaction"
	HdrReceipt       = "receipt"
	HdrReceiptID     = "receipt-id"
	HdrContentType   = "content-type"
	HdrContentLength = "content-length"
	HdrMessage       = "message"
)

// Ack modes for SUBSCRIBE.
const (
	AckAuto             = "auto"
	AckClient           = "client"
	AckClientIndividual = "client-individual"
)

// Wire delimiters.
const (
	lineDelimiter  = '\n'
	frameDelimiter = byte(0)
)

// knownVersion reports whether v is one this library speaks. An empty
// string is treated as DefaultVersion.
func knownVersion(v string) bool {
	if v == "" {
		return true
	}
	for _, k := range Versions {
		if k == v {
			return true
		}
	}
	return false
}

func normalizeVersion(v string) string {
	if v == "" {
		return DefaultVersion
	}
	return v
}

// codec encodes/decodes frame command and header text to/from wire bytes
// for a given protocol version. The body is never touched by a codec: it
// is opaque bytes per spec §4.1.
type codec struct {
	encode func(s string) ([]byte, error)
	decode func(b []byte) (string, error)
}

func asciiEncode(s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return nil, &EncodingError{Version: V1_0, Text: s}
		}
	}
	return []byte(s), nil
}

func asciiDecode(b []byte) (string, error) {
	for _, c := range b {
		if c > 0x7f {
			return "", &EncodingError{Version: V1_0, Text: string(b)}
		}
	}
	return string(b), nil
}

func utf8Encode(s string) ([]byte, error) {
	if !utf8.ValidString(s) {
		return nil, &EncodingError{Version: V1_1, Text: s}
	}
	return []byte(s), nil
}

func utf8Decode(b []byte) (string, error) {
	if !utf8.Valid(b) {
		return "", &EncodingError{Version: V1_1, Text: string(b)}
	}
	return string(b), nil
}

// codecs maps each supported version to its header/command text codec,
// per spec §4.1: ASCII for 1.0, UTF-8 for 1.1 and 1.2.
var codecs = map[string]codec{
	V1_0: {encode: asciiEncode, decode: asciiDecode},
	V1_1: {encode: utf8Encode, decode: utf8Decode},
	V1_2: {encode: utf8Encode, decode: utf8Decode},
}

func codecFor(version string) codec {
	if c, ok := codecs[normalizeVersion(version)]; ok {
		return c
	}
	return codecs[DefaultVersion]
}
