package stomp

import (
	"fmt"

	"github.com/google/uuid"
)

// SessionState enumerates the lifecycle a Session walks through: spec §3.
type SessionState int

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Token is a stable correlation handle for a subscription or transaction:
// the header name it was keyed on, and its value (spec §3's "Subscription
// token" and the transaction token implied by begin()/commit()/abort()).
type Token struct {
	Header string
	Value  string
}

// Subscription records everything a Session needs to replay a subscribe
// on reconnect: the token it was registered under, the destination and
// headers as sent, and an opaque caller payload (spec §3).
type Subscription struct {
	Token       Token
	Destination string
	Headers     map[string]string
	Context     interface{}
}

// Locator is a tagged union accepted by Unsubscribe, Commit, and Abort: a
// caller may identify the subscription/transaction to act on by its
// Token, by the original Frame that created it, or by that frame's
// headers. All three must resolve identically (spec §4.5, §9).
type Locator struct {
	token   Token
	hasTok  bool
	headers map[string]string
}

// ByToken builds a Locator from a previously returned Token.
func ByToken(t Token) Locator { return Locator{token: t, hasTok: true} }

// ByFrame builds a Locator from the Frame originally used to subscribe,
// begin, etc.
func ByFrame(f *Frame) Locator { return Locator{headers: f.Headers.Canonical()} }

// ByHeaders builds a Locator from the raw headers map used to subscribe,
// begin, etc.
func ByHeaders(h map[string]string) Locator { return Locator{headers: h} }

// Session is the transport-independent STOMP client state machine: it
// validates commands against the negotiated version and current
// lifecycle state, tracks subscriptions/transactions/receipts, and hands
// back Frames for the caller to send. It performs no I/O and is not safe
// for concurrent mutation (spec §5).
type Session struct {
	check bool

	version         string
	offeredVersions []string
	state           SessionState
	server          string
	id              string

	subs     map[Token]*Subscription
	subOrder []Token

	transactions map[Token]bool

	receipts          map[string]bool
	disconnectReceipt string
}

// NewSession creates a Session. version pins the protocol version offered
// at connect time (empty means DefaultVersion); check, when true, enables
// the state-phase validation described in spec §4.5/§8.
func NewSession(version string, check bool) *Session {
	return &Session{
		check:        check,
		version:      normalizeVersion(version),
		state:        StateDisconnected,
		subs:         make(map[Token]*Subscription),
		transactions: make(map[Token]bool),
		receipts:     make(map[string]bool),
	}
}

// Version reports the session's current (possibly renegotiated) protocol version.
func (s *Session) Version() string { return s.version }

// State reports the session's current lifecycle state.
func (s *Session) State() SessionState { return s.state }

// Server reports the server header recorded from the last CONNECTED frame.
func (s *Session) Server() string { return s.server }

// ID reports the session header recorded from the last CONNECTED frame.
func (s *Session) ID() string { return s.id }

func (s *Session) commands() Commands { return NewCommands(s.version) }

// gate enforces the check=true state-phase validation described in
// spec §4.5/§8: every command other than Connect raises ProtocolError
// when the session is not Connected, provided check is enabled.
func (s *Session) gate() error {
	if !s.check {
		return nil
	}
	if s.state != StateConnected {
		return &ProtocolError{Reason: fmt.Sprintf("command not permitted in state %s", s.state)}
	}
	return nil
}

// Connect builds a CONNECT frame and transitions Disconnected -> Connecting.
// This transition is always guarded, regardless of check, to prevent a
// session from connecting twice concurrently.
func (s *Session) Connect(login, passcode string, headers map[string]string, versions []string, host string) (*Frame, error) {
	if s.state != StateDisconnected {
		return nil, &ProtocolError{Reason: "connect called while not disconnected"}
	}
	if len(versions) > 0 {
		s.offeredVersions = versions
	} else {
		s.offeredVersions = nil
	}
	f := s.commands().Connect(login, passcode, headers, versions, host)
	s.state = StateConnecting
	return f, nil
}

// Connected consumes a CONNECTED frame: negotiates the version (it must
// be one of the versions offered at Connect, or the session's pinned
// version if none were offered), records server/id, and transitions to
// Connected (spec §4.5).
func (s *Session) Connected(frame *Frame) error {
	if s.state != StateConnecting {
		return &ProtocolError{Reason: "connected frame received while not connecting"}
	}

	negotiated := s.version
	if v, ok := frame.Headers.Get(HdrVersion); ok {
		negotiated = v
	}
	if !s.versionAcceptable(negotiated) {
		return &ProtocolError{Reason: fmt.Sprintf("server negotiated unacceptable version %q", negotiated)}
	}

	s.version = negotiated
	s.server, _ = frame.Headers.Get(HdrServer)
	s.id, _ = frame.Headers.Get(HdrSession)
	s.state = StateConnected
	return nil
}

func (s *Session) versionAcceptable(v string) bool {
	if !knownVersion(v) {
		return false
	}
	if len(s.offeredVersions) == 0 {
		return v == s.version || v == normalizeVersion(s.version)
	}
	for _, o := range s.offeredVersions {
		if o == v {
			return true
		}
	}
	return false
}

// Disconnect builds a DISCONNECT frame and transitions to Disconnecting.
// The session finalizes to Disconnected either when the matching RECEIPT
// arrives (if a receipt id was supplied) or when Flush is called.
func (s *Session) Disconnect(receipt string) (*Frame, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	f := s.commands().Disconnect(receipt)
	if receipt != "" {
		s.receipts[receipt] = true
		s.disconnectReceipt = receipt
	}
	s.state = StateDisconnecting
	return f, nil
}

// Send builds a SEND frame, registering receipt if supplied.
func (s *Session) Send(destination string, headers map[string]string, body []byte, receipt string) (*Frame, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	headers = withReceipt(headers, receipt)
	f := s.commands().Send(destination, headers, body)
	s.trackReceipt(receipt)
	return f, nil
}

// Subscribe registers a new subscription and returns the frame to send
// and its token. context is opaque caller payload carried through replay.
func (s *Session) Subscribe(destination string, headers map[string]string, context interface{}) (*Frame, Token, error) {
	if err := s.gate(); err != nil {
		return nil, Token{}, err
	}

	receipt := headers[HdrReceipt]
	f, err := s.commands().Subscribe(destination, headers)
	if err != nil {
		return nil, Token{}, err
	}

	token, err := s.subscriptionToken(Locator{headers: f.Headers.Canonical()})
	if err != nil {
		return nil, Token{}, err
	}
	if _, exists := s.subs[token]; exists {
		return nil, Token{}, &ProtocolError{Reason: "subscription token already in use"}
	}

	s.subs[token] = &Subscription{
		Token:       token,
		Destination: destination,
		Headers:     f.Headers.Canonical(),
		Context:     context,
	}
	s.subOrder = append(s.subOrder, token)
	s.trackReceipt(receipt)
	return f, token, nil
}

// Unsubscribe removes a subscription identified by loc (token, frame, or
// headers — all three resolve identically) and returns the frame to send.
func (s *Session) Unsubscribe(loc Locator, receipt string) (*Frame, Token, error) {
	if err := s.gate(); err != nil {
		return nil, Token{}, err
	}
	token, err := s.subscriptionToken(loc)
	if err != nil {
		return nil, Token{}, err
	}
	if _, ok := s.subs[token]; !ok {
		return nil, Token{}, &ProtocolError{Reason: "unsubscribe of unknown subscription token"}
	}
	delete(s.subs, token)
	s.removeSubOrder(token)

	f := s.commands().Unsubscribe(token.Header, token.Value)
	if receipt != "" {
		f.Headers.Set(HdrReceipt, receipt)
	}
	s.trackReceipt(receipt)
	return f, token, nil
}

func (s *Session) removeSubOrder(token Token) {
	out := s.subOrder[:0:0]
	for _, t := range s.subOrder {
		if t != token {
			out = append(out, t)
		}
	}
	s.subOrder = out
}

// subscriptionToken resolves a Locator to the (header, value) token a
// subscription would have been registered under: id if present, else
// destination in 1.0 only (spec §3, §4.5).
func (s *Session) subscriptionToken(loc Locator) (Token, error) {
	if loc.hasTok {
		return loc.token, nil
	}
	if id, ok := loc.headers[HdrID]; ok {
		return Token{Header: HdrID, Value: id}, nil
	}
	if dest, ok := loc.headers[HdrDestination]; ok {
		if s.version != V1_0 {
			return Token{}, &ProtocolError{Reason: "subscription requires an id header under STOMP 1.1+"}
		}
		return Token{Header: HdrDestination, Value: dest}, nil
	}
	return Token{}, &ProtocolError{Reason: "cannot resolve subscription token: no id or destination header"}
}

// Ack builds an ACK frame for the given headers (message-id/subscription/id
// depending on version), registering receipt if supplied.
func (s *Session) Ack(headers map[string]string, receipt string) (*Frame, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	headers = withReceipt(headers, receipt)
	f, err := s.commands().Ack(headers)
	if err != nil {
		return nil, err
	}
	s.trackReceipt(receipt)
	return f, nil
}

// Nack builds a NACK frame; see Ack.
func (s *Session) Nack(headers map[string]string, receipt string) (*Frame, error) {
	if err := s.gate(); err != nil {
		return nil, err
	}
	headers = withReceipt(headers, receipt)
	f, err := s.commands().Nack(headers)
	if err != nil {
		return nil, err
	}
	s.trackReceipt(receipt)
	return f, nil
}

// Begin starts a new transaction under a transaction id minted via uuid
// (the caller cannot name one), and returns the frame to send plus its
// token.
func (s *Session) Begin(receipt string) (*Frame, Token, error) {
	if err := s.gate(); err != nil {
		return nil, Token{}, err
	}
	id := uuid.NewString()
	token := Token{Header: HdrTransaction, Value: id}
	if _, exists := s.transactions[token]; exists {
		return nil, Token{}, &ProtocolError{Reason: "transaction id collision"}
	}
	s.transactions[token] = true

	f := s.commands().Begin(id)
	if receipt != "" {
		f.Headers.Set(HdrReceipt, receipt)
	}
	s.trackReceipt(receipt)
	return f, token, nil
}

// Commit ends the transaction identified by loc successfully.
func (s *Session) Commit(loc Locator, receipt string) (*Frame, Token, error) {
	return s.endTransaction(s.commands().Commit, loc, receipt)
}

// Abort ends the transaction identified by loc unsuccessfully.
func (s *Session) Abort(loc Locator, receipt string) (*Frame, Token, error) {
	return s.endTransaction(s.commands().Abort, loc, receipt)
}

func (s *Session) endTransaction(build func(string) *Frame, loc Locator, receipt string) (*Frame, Token, error) {
	if err := s.gate(); err != nil {
		return nil, Token{}, err
	}
	token, err := s.transactionToken(loc)
	if err != nil {
		return nil, Token{}, err
	}
	if _, ok := s.transactions[token]; !ok {
		return nil, Token{}, &ProtocolError{Reason: "unknown transaction id"}
	}
	delete(s.transactions, token)

	f := build(token.Value)
	if receipt != "" {
		f.Headers.Set(HdrReceipt, receipt)
	}
	s.trackReceipt(receipt)
	return f, token, nil
}

func (s *Session) transactionToken(loc Locator) (Token, error) {
	if loc.hasTok {
		return loc.token, nil
	}
	if id, ok := loc.headers[HdrTransaction]; ok {
		return Token{Header: HdrTransaction, Value: id}, nil
	}
	return Token{}, &ProtocolError{Reason: "cannot resolve transaction token: no transaction header"}
}

// Message resolves an incoming MESSAGE frame to the subscription token it
// belongs to, using the subscription header or, under 1.0 only when that
// does not match, the destination header. Unknown is a ProtocolError.
func (s *Session) Message(frame *Frame) (Token, error) {
	if sub, ok := frame.Headers.Get(HdrSubscription); ok {
		token := Token{Header: HdrID, Value: sub}
		if _, ok := s.subs[token]; ok {
			return token, nil
		}
	}
	if dest, ok := frame.Headers.Get(HdrDestination); ok && s.version == V1_0 {
		token := Token{Header: HdrDestination, Value: dest}
		if _, ok := s.subs[token]; ok {
			return token, nil
		}
	}
	return Token{}, &ProtocolError{Reason: "message frame does not match a known subscription"}
}

// Receipt verifies that frame's receipt-id was pending and removes it. If
// it was the pending disconnect receipt, the session finalizes to Disconnected.
func (s *Session) Receipt(frame *Frame) (string, error) {
	id, ok := frame.Headers.Get(HdrReceiptID)
	if !ok {
		return "", &ProtocolError{Reason: "RECEIPT frame missing receipt-id header"}
	}
	if !s.receipts[id] {
		return "", &ProtocolError{Reason: "receipt for unknown id " + id}
	}
	delete(s.receipts, id)

	if s.state == StateDisconnecting && id == s.disconnectReceipt {
		s.finalizeDisconnect()
	}
	return id, nil
}

// Replay drains and returns every subscription in insertion order; the
// subscription table is cleared as a side effect (spec §4.5, §8).
func (s *Session) Replay() []Subscription {
	if len(s.subOrder) == 0 {
		return nil
	}
	out := make([]Subscription, 0, len(s.subOrder))
	for _, token := range s.subOrder {
		if sub, ok := s.subs[token]; ok {
			out = append(out, *sub)
		}
	}
	s.subs = make(map[Token]*Subscription)
	s.subOrder = nil
	return out
}

// Flush drops all subscriptions, transactions, and pending receipts
// without emitting frames; if the session was Disconnecting, it
// finalizes to Disconnected (spec §4.5, §5).
func (s *Session) Flush() {
	s.subs = make(map[Token]*Subscription)
	s.subOrder = nil
	s.transactions = make(map[Token]bool)
	s.receipts = make(map[string]bool)
	s.disconnectReceipt = ""
	if s.state == StateDisconnecting {
		s.finalizeDisconnect()
	}
}

func (s *Session) finalizeDisconnect() {
	s.state = StateDisconnected
	s.server = ""
	s.id = ""
	s.disconnectReceipt = ""
}

func (s *Session) trackReceipt(receipt string) {
	if receipt != "" {
		s.receipts[receipt] = true
	}
}

func withReceipt(headers map[string]string, receipt string) map[string]string {
	if receipt == "" {
		return headers
	}
	out := make(map[string]string, len(headers)+1)
	for k, v := range headers {
		out[k] = v
	}
	out[HdrReceipt] = receipt
	return out
}

