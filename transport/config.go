// Package transport is a blocking, socket-owning STOMP client built on the
// transport-independent stomp package: it dials a broker, negotiates a
// session, and drives a stomp.Session/stomp.Parser pair from a read
// goroutine and an optional heart-beat ticker. Outbound commands are
// methods on Transport and Close closes the connection; received MESSAGE
// and ERROR frames are delivered on the MsgCh and ErrCh channels, and
// there is no Recv or CanRead method.
package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"
)

// Heartbeat is the client/server heart-beat negotiation the CONNECT
// header carries, in STOMP's own "send-ms,recv-ms" wire shape.
type Heartbeat struct {
	Send time.Duration
	Recv time.Duration
}

func (h Heartbeat) header() string {
	return fmt.Sprintf("%d,%d", h.Send.Milliseconds(), h.Recv.Milliseconds())
}

func maxDuration(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// negotiate combines what this client asked for with what the server
// reported in its own heart-beat header, per STOMP 1.1+'s negotiation
// rule: each side's effective interval is the max of the two non-zero
// proposals, or 0 (disabled) if either side proposed 0.
func negotiate(want Heartbeat, serverSendMs, serverRecvMs int) Heartbeat {
	var out Heartbeat
	recv := time.Duration(serverRecvMs) * time.Millisecond
	send := time.Duration(serverSendMs) * time.Millisecond
	if want.Send != 0 && recv != 0 {
		out.Send = maxDuration(want.Send, recv)
	}
	if want.Recv != 0 && send != 0 {
		out.Recv = maxDuration(want.Recv, send)
	}
	return out
}

// Config carries the CONNECT-time session parameters.
type Config struct {
	Host     string
	Login    string
	Passcode string

	// Versions are offered to the broker via accept-version. The zero
	// value offers every version this library understands.
	Versions []string

	Heartbeat Heartbeat

	// Check enables the session's check=true state-phase validation.
	Check bool

	// Logger receives structured debug/warn events. Defaults to
	// logrus.StandardLogger() when nil.
	Logger *logrus.Logger
}

// DefaultConfig returns a Config offering every supported version with no
// heart-beat and host "/".
func DefaultConfig() *Config {
	return &Config{Host: "/"}
}

func (c *Config) logger() *logrus.Logger {
	if c == nil || c.Logger == nil {
		return logrus.StandardLogger()
	}
	return c.Logger
}

// TransportConfig controls how the underlying socket is established.
type TransportConfig struct {
	// Dial creates the underlying connection. Defaults to net.Dial.
	Dial func(network, addr string) (net.Conn, error)

	// TLSConfig, when non-nil, wraps the dialed connection in TLS.
	TLSConfig *tls.Config

	// TLSHandshakeTimeout bounds the TLS handshake. Zero means no timeout.
	TLSHandshakeTimeout time.Duration

	// ReadTimeout bounds each blocking read of the connection. Zero means no deadline.
	ReadTimeout time.Duration
}

// DefaultTransportConfig dials with net.Dial and no TLS.
func DefaultTransportConfig() *TransportConfig {
	return &TransportConfig{Dial: net.Dial}
}
