package stomp

import (
	"crypto/rand"
	"fmt"
	"math/big"
	mathrand "math/rand"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FailoverBroker is one candidate endpoint named by a failover URI.
type FailoverBroker struct {
	Protocol string // "tcp" or "ssl"
	Host     string
	Port     int
}

func (b FailoverBroker) String() string {
	return fmt.Sprintf("%s://%s:%d", b.Protocol, b.Host, b.Port)
}

// FailoverOptions controls the reconnect schedule emitted by FailoverProtocol.
type FailoverOptions struct {
	InitialReconnectDelay       time.Duration
	MaxReconnectDelay           time.Duration
	UseExponentialBackOff       bool
	BackOffMultiplier           float64
	MaxReconnectAttempts        int // -1 = infinite
	StartupMaxReconnectAttempts int // -1 = use MaxReconnectAttempts; only governs the first attempt sequence
	Randomize                   bool
	PriorityBackup              bool
}

// DefaultFailoverOptions mirrors the defaults implied by spec §4.6's URI grammar.
func DefaultFailoverOptions() FailoverOptions {
	return FailoverOptions{
		InitialReconnectDelay:       10 * time.Millisecond,
		MaxReconnectDelay:           30 * time.Second,
		UseExponentialBackOff:       true,
		BackOffMultiplier:           2.0,
		MaxReconnectAttempts:        -1,
		StartupMaxReconnectAttempts: -1,
		Randomize:                   true,
		PriorityBackup:              false,
	}
}

// FailoverURI is the parsed form of a failover:(...) composite URI.
type FailoverURI struct {
	Brokers []FailoverBroker
	Options FailoverOptions
}

// ParseFailoverURI parses a URI of the form:
//
//	failover:(uri[,uri]*)?[?option=value(&|,option=value)*]
//	uri := (tcp|ssl)://host:port
//
// per spec §4.6.
func ParseFailoverURI(uri string) (*FailoverURI, error) {
	const prefix = "failover:"
	rest := uri
	if strings.HasPrefix(rest, prefix) {
		rest = rest[len(prefix):]
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimPrefix(rest, "(")

	brokerPart := rest
	optionPart := ""
	if idx := strings.Index(rest, ")"); idx >= 0 {
		brokerPart = rest[:idx]
		optionPart = strings.TrimPrefix(rest[idx+1:], "?")
	}

	var brokers []FailoverBroker
	for _, one := range strings.Split(brokerPart, ",") {
		one = strings.TrimSpace(one)
		if one == "" {
			continue
		}
		b, err := parseBrokerURI(one)
		if err != nil {
			return nil, err
		}
		brokers = append(brokers, b)
	}
	if len(brokers) == 0 {
		return nil, &ProtocolError{Reason: "failover URI names no brokers"}
	}

	opts := DefaultFailoverOptions()
	if optionPart != "" {
		if err := parseFailoverOptions(optionPart, &opts); err != nil {
			return nil, err
		}
	}

	return &FailoverURI{Brokers: brokers, Options: opts}, nil
}

func parseBrokerURI(s string) (FailoverBroker, error) {
	schemeSep := strings.Index(s, "://")
	if schemeSep < 0 {
		return FailoverBroker{}, &ProtocolError{Reason: "malformed broker URI: " + s}
	}
	scheme := s[:schemeSep]
	if scheme != "tcp" && scheme != "ssl" {
		return FailoverBroker{}, &ProtocolError{Reason: "unsupported broker scheme: " + scheme}
	}
	hostPort := s[schemeSep+3:]
	colon := strings.LastIndex(hostPort, ":")
	if colon < 0 {
		return FailoverBroker{}, &ProtocolError{Reason: "broker URI missing port: " + s}
	}
	host := hostPort[:colon]
	port, err := strconv.Atoi(hostPort[colon+1:])
	if err != nil || port <= 0 {
		return FailoverBroker{}, &ProtocolError{Reason: "broker URI has invalid port: " + s}
	}
	return FailoverBroker{Protocol: scheme, Host: host, Port: port}, nil
}

func parseFailoverOptions(s string, opts *FailoverOptions) error {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == '&' || r == ',' })
	for _, field := range fields {
		kv := strings.SplitN(field, "=", 2)
		if len(kv) != 2 {
			return &ProtocolError{Reason: "malformed failover option: " + field}
		}
		key, value := kv[0], kv[1]
		var err error
		switch key {
		case "initialReconnectDelay":
			err = setDurationMillis(&opts.InitialReconnectDelay, value)
		case "maxReconnectDelay":
			err = setDurationMillis(&opts.MaxReconnectDelay, value)
		case "useExponentialBackOff":
			opts.UseExponentialBackOff, err = strconv.ParseBool(value)
		case "backOffMultiplier":
			opts.BackOffMultiplier, err = strconv.ParseFloat(value, 64)
		case "maxReconnectAttempts":
			opts.MaxReconnectAttempts, err = strconv.Atoi(value)
		case "startupMaxReconnectAttempts":
			opts.StartupMaxReconnectAttempts, err = strconv.Atoi(value)
		case "randomize":
			opts.Randomize, err = strconv.ParseBool(value)
		case "priorityBackup":
			opts.PriorityBackup, err = strconv.ParseBool(value)
		default:
			// unrecognized options are ignored, matching the source's tolerant parsing.
			continue
		}
		if err != nil {
			return &ProtocolError{Reason: "malformed value for failover option " + key}
		}
	}
	return nil
}

func setDurationMillis(d *time.Duration, value string) error {
	ms, err := strconv.Atoi(value)
	if err != nil {
		return err
	}
	*d = time.Duration(ms) * time.Millisecond
	return nil
}

// FailoverProtocol emits a (broker, delay) schedule honoring the reconnect
// policy in a FailoverURI: exponential backoff with an optional ceiling,
// randomized-without-immediate-repeat or round-robin broker selection, a
// priority-backup mode, and an attempt budget that ends in ConnectionError
// once exhausted (spec §4.6).
//
// A FailoverProtocol is stateful and is not safe for concurrent use.
type FailoverProtocol struct {
	brokers []FailoverBroker
	opts    FailoverOptions

	backoff *backoff.ExponentialBackOff
	rng     *mathrand.Rand

	attempts  int
	firstPass bool
	lastIndex int
	everTried []bool
}

// NewFailoverProtocol builds a FailoverProtocol from a parsed failover URI.
func NewFailoverProtocol(u *FailoverURI) *FailoverProtocol {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = u.Options.InitialReconnectDelay
	bo.MaxInterval = u.Options.MaxReconnectDelay
	bo.Multiplier = u.Options.BackOffMultiplier
	if bo.Multiplier <= 0 {
		bo.Multiplier = 1
	}
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &FailoverProtocol{
		brokers:   u.Brokers,
		opts:      u.Options,
		backoff:   bo,
		rng:       mathrand.New(mathrand.NewSource(seedFromCryptoRand())),
		firstPass: true,
		lastIndex: -1,
		everTried: make([]bool, len(u.Brokers)),
	}
}

// seedFromCryptoRand draws a seed from crypto/rand, generalizing the
// crypto/rand-backed id minting in djoyahoy-stomp/uuid.go to seed a
// non-cryptographic PRNG instead.
func seedFromCryptoRand() int64 {
	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return time.Now().UnixNano()
	}
	return n.Int64()
}

// Next returns the next (broker, delay) attempt, or a ConnectionError once
// the configured attempt budget for this pass is exhausted. The budget is
// counted in full cycles through the broker list (one "attempt" visits
// every listed broker once), matching scenario 6 of the acceptance suite:
// two brokers and a budget of 1 yields exactly two (broker, delay) pairs
// before terminating.
func (f *FailoverProtocol) Next() (FailoverBroker, time.Duration, error) {
	budget := f.opts.MaxReconnectAttempts
	if f.firstPass && f.opts.StartupMaxReconnectAttempts >= 0 {
		budget = f.opts.StartupMaxReconnectAttempts
	}
	if budget >= 0 && f.attempts >= budget*len(f.brokers) {
		return FailoverBroker{}, 0, &ConnectionError{Attempts: f.attempts}
	}

	var delay time.Duration
	if f.attempts == 0 {
		delay = 0
	} else if f.opts.UseExponentialBackOff {
		delay = f.backoff.NextBackOff()
	} else {
		delay = f.opts.InitialReconnectDelay
	}

	idx := f.pickBroker()
	f.lastIndex = idx
	f.everTried[idx] = true
	f.attempts++

	return f.brokers[idx], delay, nil
}

// Connected tells the protocol that a connection was established: the
// attempt counters and backoff curve reset, and startupMaxReconnectAttempts
// no longer governs the budget for the next disconnect's reconnect
// sequence (spec §4.6: it is "used only for the very first attempt
// sequence").
func (f *FailoverProtocol) Connected() {
	f.backoff.Reset()
	f.attempts = 0
	f.lastIndex = -1
	f.firstPass = false
	for i := range f.everTried {
		f.everTried[i] = false
	}
}

func (f *FailoverProtocol) pickBroker() int {
	if f.opts.PriorityBackup && len(f.brokers) > 1 {
		if !f.everTried[0] || f.lastIndex != 0 {
			return 0
		}
		// Primary has already been tried and just failed; fall back.
	}

	if !f.opts.Randomize {
		if f.lastIndex < 0 {
			return 0
		}
		return (f.lastIndex + 1) % len(f.brokers)
	}

	if len(f.brokers) == 1 {
		return 0
	}
	for {
		idx := f.rng.Intn(len(f.brokers))
		if idx != f.lastIndex {
			return idx
		}
	}
}

// Reset clears attempt counters and backoff state and returns the protocol
// to its initial state, so startupMaxReconnectAttempts governs the budget
// again. After a successful connect, use Connected instead, which leaves
// the startup budget out of effect.
func (f *FailoverProtocol) Reset() {
	f.backoff.Reset()
	f.attempts = 0
	f.firstPass = true
	f.lastIndex = -1
	for i := range f.everTried {
		f.everTried[i] = false
	}
}
