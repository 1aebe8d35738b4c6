package transport

import (
	"bufio"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/riftlabs/gostomp"
)

// fakeBroker serves one connection side of a net.Pipe, reading and
// replying to frames the way a minimal STOMP 1.1 broker would.
type fakeBroker struct {
	conn   net.Conn
	reader *bufio.Reader
}

func newFakeBroker(conn net.Conn) *fakeBroker {
	return &fakeBroker{conn: conn, reader: bufio.NewReader(conn)}
}

func (b *fakeBroker) readFrame(t *testing.T) *stomp.Frame {
	t.Helper()
	parser := stomp.NewParser(stomp.V1_1)
	buf := make([]byte, 4096)
	for {
		item, err := parser.Get()
		require.NoError(t, err)
		if f, ok := item.(stomp.Frame); ok {
			return &f
		}
		n, err := b.conn.Read(buf)
		require.NoError(t, err)
		parser.Add(buf[:n])
	}
}

func (b *fakeBroker) send(t *testing.T, f *stomp.Frame) {
	t.Helper()
	enc, err := f.Encode()
	require.NoError(t, err)
	_, err = b.conn.Write(enc)
	require.NoError(t, err)
}

func dialPair() (net.Conn, net.Conn) {
	return net.Pipe()
}

func TestConnectNegotiatesVersionAndSession(t *testing.T) {
	client, server := dialPair()
	broker := newFakeBroker(server)

	done := make(chan struct{})
	go func() {
		defer close(done)
		frame := broker.readFrame(t)
		require.Equal(t, stomp.CmdConnect, frame.Command)
		broker.send(t, stomp.NewFrame(stomp.CmdConnected, stomp.V1_1, stomp.HdrVersion, "1.1", stomp.HdrSession, "sess-1"))
	}()

	trConf := &TransportConfig{Dial: func(network, addr string) (net.Conn, error) {
		return client, nil
	}}
	tr, err := Connect("broker:0", &Config{Host: "/", Versions: []string{stomp.V1_0, stomp.V1_1}}, trConf)
	require.NoError(t, err)
	defer tr.Close()

	<-done
	require.Equal(t, "1.1", tr.sess.Version())
	require.Equal(t, "sess-1", tr.sess.ID())
}

func TestSendWaitsForMatchingReceipt(t *testing.T) {
	client, server := dialPair()
	broker := newFakeBroker(server)

	go func() {
		connectFrame := broker.readFrame(t)
		require.Equal(t, stomp.CmdConnect, connectFrame.Command)
		broker.send(t, stomp.NewFrame(stomp.CmdConnected, stomp.V1_1, stomp.HdrVersion, "1.1"))

		sendFrame := broker.readFrame(t)
		require.Equal(t, stomp.CmdSend, sendFrame.Command)
		receiptID, ok := sendFrame.Headers.Get(stomp.HdrReceipt)
		require.True(t, ok)
		broker.send(t, stomp.NewFrame(stomp.CmdReceipt, stomp.V1_1, stomp.HdrReceiptID, receiptID))
	}()

	trConf := &TransportConfig{Dial: func(network, addr string) (net.Conn, error) {
		return client, nil
	}}
	tr, err := Connect("broker:0", &Config{Host: "/", Versions: []string{stomp.V1_1}}, trConf)
	require.NoError(t, err)
	defer tr.Close()

	errCh := make(chan error, 1)
	go func() { errCh <- tr.Send("/queue/a", nil, []byte("hi"), true) }()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after receipt arrived")
	}
}

func TestDispatchRoutesMessageToChannel(t *testing.T) {
	client, server := dialPair()
	broker := newFakeBroker(server)

	go func() {
		broker.readFrame(t)
		broker.send(t, stomp.NewFrame(stomp.CmdConnected, stomp.V1_1, stomp.HdrVersion, "1.1"))
		broker.send(t, stomp.NewFrame(stomp.CmdMessage, stomp.V1_1,
			stomp.HdrSubscription, "sub-1", stomp.HdrMessageID, "m-1", stomp.HdrDestination, "/q"))
	}()

	trConf := &TransportConfig{Dial: func(network, addr string) (net.Conn, error) {
		return client, nil
	}}
	tr, err := Connect("broker:0", &Config{Host: "/", Versions: []string{stomp.V1_1}}, trConf)
	require.NoError(t, err)
	defer tr.Close()

	select {
	case msg := <-tr.MsgCh:
		require.Equal(t, stomp.CmdMessage, msg.Command)
		sub, _ := msg.Headers.Get(stomp.HdrSubscription)
		require.Equal(t, "sub-1", sub)
	case <-time.After(2 * time.Second):
		t.Fatal("MESSAGE frame was not dispatched")
	}
}

func TestSingleFlightCollapsesConcurrentDisconnects(t *testing.T) {
	var sf singleFlight
	calls := make(chan struct{}, 10)

	results := make(chan error, 5)
	for i := 0; i < 5; i++ {
		go func() {
			results <- sf.do(func() error {
				calls <- struct{}{}
				time.Sleep(20 * time.Millisecond)
				return nil
			})
		}()
	}

	for i := 0; i < 5; i++ {
		require.NoError(t, <-results)
	}
	close(calls)
	n := 0
	for range calls {
		n++
	}
	require.Equal(t, 1, n, "only one attempt should have actually run")
}
