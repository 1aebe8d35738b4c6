package stomp

import "strings"

// Commands builds validated, version-aware Frames for every STOMP command.
// Every method is a pure function: no I/O, no session state. Session uses
// these as its frame factory once it has done its own state-phase checks.
type Commands struct {
	Version string
}

// NewCommands returns a Commands bound to the given protocol version.
func NewCommands(version string) Commands {
	return Commands{Version: normalizeVersion(version)}
}

func (c Commands) frame(command string, kv ...string) *Frame {
	return NewFrame(command, c.Version, kv...)
}

// Connect builds a CONNECT frame. In 1.1+ it includes accept-version
// (comma-joined candidate list) and host (spec §4.4).
func (c Commands) Connect(login, passcode string, headers map[string]string, versions []string, host string) *Frame {
	return c.connectLike(CmdConnect, login, passcode, headers, versions, host)
}

// Stomp builds a STOMP frame, the 1.1+ synonym for CONNECT introduced to
// disambiguate from the STOMP 1.0 CONNECT wire form.
func (c Commands) Stomp(login, passcode string, headers map[string]string, versions []string, host string) (*Frame, error) {
	if c.Version == V1_0 {
		return nil, &ProtocolError{Reason: "STOMP command requires protocol version 1.1 or later"}
	}
	return c.connectLike(CmdStomp, login, passcode, headers, versions, host), nil
}

func (c Commands) connectLike(command, login, passcode string, headers map[string]string, versions []string, host string) *Frame {
	f := c.frame(command)
	for k, v := range headers {
		f.Headers.Add(k, v)
	}
	if c.Version != V1_0 {
		if len(versions) > 0 {
			f.Headers.Set(HdrAcceptVersion, strings.Join(versions, ","))
		}
		if host != "" {
			f.Headers.Set(HdrHost, host)
		}
	}
	if login != "" {
		f.Headers.Set(HdrLogin, login)
	}
	if passcode != "" {
		f.Headers.Set(HdrPasscode, passcode)
	}
	return f
}

// Disconnect builds a DISCONNECT frame, optionally carrying a receipt header.
func (c Commands) Disconnect(receipt string) *Frame {
	f := c.frame(CmdDisconnect)
	if receipt != "" {
		f.Headers.Set(HdrReceipt, receipt)
	}
	return f
}

// Send builds a SEND frame to destination with the given body and extra headers.
func (c Commands) Send(destination string, headers map[string]string, body []byte) *Frame {
	f := c.frame(CmdSend)
	f.Headers.Set(HdrDestination, destination)
	for k, v := range headers {
		f.Headers.Add(k, v)
	}
	f.Body = body
	return f
}

// Subscribe builds a SUBSCRIBE frame. In 1.1+ an id header is mandatory;
// its absence is a ProtocolError (spec §4.4).
func (c Commands) Subscribe(destination string, headers map[string]string) (*Frame, error) {
	f := c.frame(CmdSubscribe)
	f.Headers.Set(HdrDestination, destination)
	for k, v := range headers {
		f.Headers.Add(k, v)
	}
	if c.Version != V1_0 {
		if _, ok := f.Headers.Get(HdrID); !ok {
			return nil, &ProtocolError{Reason: "SUBSCRIBE requires an id header under STOMP 1.1+"}
		}
	}
	return f, nil
}

// Unsubscribe builds an UNSUBSCRIBE frame for the given token.
func (c Commands) Unsubscribe(headerName, headerValue string) *Frame {
	f := c.frame(CmdUnsubscribe)
	f.Headers.Set(headerName, headerValue)
	return f
}

// Ack builds an ACK frame. Header requirements vary by version (spec §4.4):
// 1.0 requires message-id; 1.1 requires message-id and subscription; 1.2
// requires id and forbids subscription.
func (c Commands) Ack(headers map[string]string) (*Frame, error) {
	return c.ackNack(CmdAck, headers)
}

// Nack builds a NACK frame. NACK does not exist in STOMP 1.0.
func (c Commands) Nack(headers map[string]string) (*Frame, error) {
	if c.Version == V1_0 {
		return nil, &ProtocolError{Reason: "NACK does not exist in STOMP 1.0"}
	}
	return c.ackNack(CmdNack, headers)
}

func (c Commands) ackNack(command string, headers map[string]string) (*Frame, error) {
	f := c.frame(command)
	for k, v := range headers {
		f.Headers.Add(k, v)
	}

	switch c.Version {
	case V1_0:
		if _, ok := f.Headers.Get(HdrMessageID); !ok {
			return nil, &ProtocolError{Reason: command + " requires a message-id header under STOMP 1.0"}
		}
	case V1_1:
		if _, ok := f.Headers.Get(HdrMessageID); !ok {
			return nil, &ProtocolError{Reason: command + " requires a message-id header under STOMP 1.1"}
		}
		if _, ok := f.Headers.Get(HdrSubscription); !ok {
			return nil, &ProtocolError{Reason: command + " requires a subscription header under STOMP 1.1"}
		}
	default: // 1.2
		if _, ok := f.Headers.Get(HdrID); !ok {
			return nil, &ProtocolError{Reason: command + " requires an id header under STOMP 1.2"}
		}
		if _, ok := f.Headers.Get(HdrSubscription); ok {
			return nil, &ProtocolError{Reason: command + " forbids a subscription header under STOMP 1.2"}
		}
	}
	return f, nil
}

// Begin builds a BEGIN frame for the given transaction id.
func (c Commands) Begin(transaction string) *Frame {
	f := c.frame(CmdBegin)
	f.Headers.Set(HdrTransaction, transaction)
	return f
}

// Commit builds a COMMIT frame for the given transaction id.
func (c Commands) Commit(transaction string) *Frame {
	f := c.frame(CmdCommit)
	f.Headers.Set(HdrTransaction, transaction)
	return f
}

// Abort builds an ABORT frame for the given transaction id.
func (c Commands) Abort(transaction string) *Frame {
	f := c.frame(CmdAbort)
	f.Headers.Set(HdrTransaction, transaction)
	return f
}
