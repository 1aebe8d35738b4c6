package transport

import (
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/riftlabs/gostomp"
)

// receipts tracks channels that close when a matching RECEIPT frame
// arrives, letting a caller block on a specific outbound command.
// Generalized from djoyahoy-stomp/client.go's receipts type to sit
// alongside a stomp.Session rather than alongside hand-built frames.
type receipts struct {
	lock   sync.Mutex
	orders map[string]chan struct{}
	closed chan struct{}
}

func newReceipts() *receipts {
	return &receipts{orders: make(map[string]chan struct{}), closed: make(chan struct{})}
}

func (r *receipts) mark(id string) chan struct{} {
	r.lock.Lock()
	defer r.lock.Unlock()
	ch := make(chan struct{})
	r.orders[id] = ch
	return ch
}

func (r *receipts) clear(id string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	if ch, ok := r.orders[id]; ok {
		close(ch)
		delete(r.orders, id)
	}
}

func (r *receipts) shutdown() {
	r.lock.Lock()
	defer r.lock.Unlock()
	select {
	case <-r.closed:
	default:
		close(r.closed)
	}
}

// Transport owns one net.Conn and the stomp.Session/stomp.Parser pair
// that drives it: a read goroutine decodes frames and dispatches them, an
// optional ticker sends heart-beats, and a mutex serializes every
// session-mutating call, satisfying the core's single-writer requirement
// (generalized from djoyahoy-stomp/client.go's Client.read/Client.write).
type Transport struct {
	conn   net.Conn
	sess   *stomp.Session
	parser *stomp.Parser
	logger *logrus.Logger

	sessMu   sync.Mutex
	receipts *receipts
	connGate singleFlight

	MsgCh chan *stomp.Frame
	ErrCh chan *stomp.Frame
}

// Connect dials addr, performs the STOMP handshake, and returns a running
// Transport. conf and trConf may be nil to use their defaults.
func Connect(addr string, conf *Config, trConf *TransportConfig) (*Transport, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if trConf == nil {
		trConf = DefaultTransportConfig()
	}
	logger := conf.logger()

	conn, err := dial(addr, trConf)
	if err != nil {
		return nil, errors.Wrap(err, "transport: dial failed")
	}

	versions := conf.Versions
	if len(versions) == 0 {
		versions = stomp.Versions
	}

	sess := stomp.NewSession(versions[0], conf.Check)
	parser := stomp.NewParser(versions[0])

	connectFrame, err := sess.Connect(conf.Login, conf.Passcode, map[string]string{
		stomp.HdrHeartBeat: conf.Heartbeat.header(),
	}, versions, conf.Host)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "transport: building CONNECT frame")
	}

	if err := writeFrame(conn, connectFrame); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "transport: writing CONNECT frame")
	}

	connected, err := readOneFrame(conn, parser, trConf.ReadTimeout)
	if err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "transport: reading CONNECTED frame")
	}
	if connected.Command == stomp.CmdError {
		conn.Close()
		msg, _ := connected.Headers.Get(stomp.HdrMessage)
		return nil, errors.Errorf("transport: broker rejected connect: %s", msg)
	}
	if err := sess.Connected(connected); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "transport: negotiating session")
	}
	parser.SetVersion(sess.Version())

	hb := Heartbeat{}
	if v, ok := connected.Headers.Get(stomp.HdrHeartBeat); ok {
		var sendMs, recvMs int
		if _, err := fmt.Sscanf(v, "%d,%d", &sendMs, &recvMs); err == nil {
			hb = negotiate(conf.Heartbeat, sendMs, recvMs)
		}
	}

	t := &Transport{
		conn:     conn,
		sess:     sess,
		parser:   parser,
		logger:   logger,
		receipts: newReceipts(),
		MsgCh:    make(chan *stomp.Frame),
		ErrCh:    make(chan *stomp.Frame, 1),
	}

	logger.WithFields(logrus.Fields{"version": sess.Version(), "server": sess.Server()}).Debug("transport: connected")

	go t.readLoop(trConf.ReadTimeout)
	if hb.Send > 0 {
		go t.heartbeatLoop(hb.Send)
	}

	return t, nil
}

func dial(addr string, trConf *TransportConfig) (net.Conn, error) {
	dialFn := trConf.Dial
	if dialFn == nil {
		dialFn = net.Dial
	}
	conn, err := dialFn("tcp", addr)
	if err != nil {
		return nil, err
	}

	if trConf.TLSConfig == nil {
		return conn, nil
	}

	tlsConn := tls.Client(conn, trConf.TLSConfig)
	errc := make(chan error, 1)
	var timer *time.Timer
	if trConf.TLSHandshakeTimeout > 0 {
		timer = time.AfterFunc(trConf.TLSHandshakeTimeout, func() {
			errc <- errors.New("transport: tls handshake timed out")
		})
	}
	go func() {
		err := tlsConn.Handshake()
		if timer != nil {
			timer.Stop()
		}
		errc <- err
	}()
	if err := <-errc; err != nil {
		conn.Close()
		return nil, err
	}
	return tlsConn, nil
}

func writeFrame(conn net.Conn, f *stomp.Frame) error {
	b, err := f.Encode()
	if err != nil {
		return err
	}
	_, err = conn.Write(b)
	return err
}

func readOneFrame(conn net.Conn, parser *stomp.Parser, timeout time.Duration) (*stomp.Frame, error) {
	buf := make([]byte, 4096)
	for {
		item, err := parser.Get()
		if err != nil {
			return nil, err
		}
		if f, ok := item.(stomp.Frame); ok {
			return &f, nil
		}
		if timeout > 0 {
			conn.SetReadDeadline(time.Now().Add(timeout))
		}
		n, err := conn.Read(buf)
		if n > 0 {
			parser.Add(buf[:n])
		}
		if err != nil {
			return nil, err
		}
	}
}

// readLoop decodes frames from the connection until it closes or errors,
// dispatching MESSAGE to MsgCh, correlating RECEIPT with the session and
// any blocked caller, and forwarding ERROR to ErrCh before returning.
func (t *Transport) readLoop(timeout time.Duration) {
	defer close(t.MsgCh)
	defer t.receipts.shutdown()

	buf := make([]byte, 4096)
	for {
		item, err := t.parser.Get()
		if err != nil {
			t.logger.WithError(err).Warn("transport: parser failed, closing read loop")
			return
		}
		if item == nil {
			if timeout > 0 {
				t.conn.SetReadDeadline(time.Now().Add(timeout))
			}
			n, err := t.conn.Read(buf)
			if n > 0 {
				t.parser.Add(buf[:n])
			}
			if err != nil {
				t.logger.WithError(err).Debug("transport: connection closed")
				return
			}
			continue
		}

		switch v := item.(type) {
		case stomp.HeartBeat:
			t.logger.Debug("transport: received heart-beat")
		case stomp.Frame:
			t.dispatch(&v)
			if v.Command == stomp.CmdError {
				return
			}
		}
	}
}

func (t *Transport) dispatch(f *stomp.Frame) {
	switch f.Command {
	case stomp.CmdMessage:
		t.MsgCh <- f
	case stomp.CmdReceipt:
		t.sessMu.Lock()
		id, err := t.sess.Receipt(f)
		t.sessMu.Unlock()
		if err != nil {
			t.logger.WithError(err).Warn("transport: unexpected receipt")
			return
		}
		t.receipts.clear(id)
	case stomp.CmdError:
		t.logger.WithField("frame", f.Info()).Warn("transport: broker sent ERROR")
		select {
		case t.ErrCh <- f:
		default:
		}
	default:
		t.logger.WithField("command", f.Command).Warn("transport: unexpected frame from broker")
	}
}

// heartbeatLoop sends the bare newline heart-beat sentinel at the
// negotiated interval. A heart-beat is not a Session operation: it
// carries no frame, so it bypasses the session entirely.
func (t *Transport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		t.sessMu.Lock()
		_, err := t.conn.Write([]byte{'\n'})
		t.sessMu.Unlock()
		if err != nil {
			t.logger.WithError(err).Warn("transport: heart-beat write failed, stopping")
			return
		}
	}
}

// Close shuts down the read goroutine and closes the underlying connection.
func (t *Transport) Close() error {
	return t.conn.Close()
}

// doWithReceipt mints a receipt id, runs build under the session lock, and
// (if wantReceipt) blocks until the matching RECEIPT arrives or the
// connection closes. Adapted from djoyahoy-stomp/client.go's
// doWithReceipt, generalized to build a stomp.Frame via the session
// instead of fixed header assignment.
func (t *Transport) doWithReceipt(wantReceipt bool, build func(receipt string) (*stomp.Frame, stomp.Token, error)) (stomp.Token, error) {
	receipt := ""
	var ch chan struct{}
	if wantReceipt {
		receipt = uuid.NewString()
		ch = t.receipts.mark(receipt)
	}

	t.sessMu.Lock()
	f, token, err := build(receipt)
	t.sessMu.Unlock()
	if err != nil {
		if wantReceipt {
			t.receipts.clear(receipt)
		}
		return stomp.Token{}, err
	}

	if err := writeFrame(t.conn, f); err != nil {
		if wantReceipt {
			t.receipts.clear(receipt)
		}
		return stomp.Token{}, errors.Wrap(err, "transport: writing frame")
	}

	if wantReceipt {
		select {
		case <-ch:
		case <-t.receipts.closed:
			return token, errors.New("transport: connection closed while awaiting receipt")
		}
	}
	return token, nil
}

// Send transmits a SEND frame.
func (t *Transport) Send(destination string, headers map[string]string, body []byte, wantReceipt bool) error {
	_, err := t.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		f, err := t.sess.Send(destination, headers, body, receipt)
		return f, stomp.Token{}, err
	})
	return err
}

// Subscribe issues a SUBSCRIBE frame and returns its token.
func (t *Transport) Subscribe(destination string, headers map[string]string, context interface{}, wantReceipt bool) (stomp.Token, error) {
	return t.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		h := headers
		if receipt != "" {
			h = withHeader(headers, stomp.HdrReceipt, receipt)
		}
		return t.sess.Subscribe(destination, h, context)
	})
}

// Unsubscribe issues an UNSUBSCRIBE frame for the given token.
func (t *Transport) Unsubscribe(token stomp.Token, wantReceipt bool) error {
	_, err := t.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		return t.sess.Unsubscribe(stomp.ByToken(token), receipt)
	})
	return err
}

// Ack acknowledges a delivered message.
func (t *Transport) Ack(headers map[string]string, wantReceipt bool) error {
	_, err := t.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		f, err := t.sess.Ack(headers, receipt)
		return f, stomp.Token{}, err
	})
	return err
}

// Nack negatively acknowledges a delivered message.
func (t *Transport) Nack(headers map[string]string, wantReceipt bool) error {
	_, err := t.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		f, err := t.sess.Nack(headers, receipt)
		return f, stomp.Token{}, err
	})
	return err
}

// Begin starts a transaction and returns a Tx for committing/aborting it.
func (t *Transport) Begin(wantReceipt bool) (*Tx, error) {
	token, err := t.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		return t.sess.Begin(receipt)
	})
	if err != nil {
		return nil, err
	}
	return &Tx{transport: t, token: token}, nil
}

// Disconnect sends DISCONNECT and waits for the matching RECEIPT before
// closing the connection, single-flighted so concurrent callers collapse
// onto one attempt (supplements stompest's @exclusive decorator, see
// singleFlight).
func (t *Transport) Disconnect() error {
	return t.connGate.do(func() error {
		_, err := t.doWithReceipt(true, func(receipt string) (*stomp.Frame, stomp.Token, error) {
			f, err := t.sess.Disconnect(receipt)
			return f, stomp.Token{}, err
		})
		closeErr := t.conn.Close()
		if err != nil {
			return err
		}
		return closeErr
	})
}

func withHeader(h map[string]string, key, value string) map[string]string {
	out := make(map[string]string, len(h)+1)
	for k, v := range h {
		out[k] = v
	}
	out[key] = value
	return out
}

