// Package eventloop drives a transport.Transport with callbacks instead
// of channels: a single goroutine reads MESSAGE/ERROR off the transport
// and hands each to a registered callback, following the way
// Jxck-go-spdy's read.go/write.go split a connection into independent
// read and write goroutines that hand decoded frames off across a
// boundary rather than blocking the caller on direct channel reads.
package eventloop

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/riftlabs/gostomp"
	"github.com/riftlabs/gostomp/transport"
)

// Handlers are the callbacks a Loop dispatches to. Any left nil are
// skipped.
type Handlers struct {
	OnMessage    func(*stomp.Frame)
	OnError      func(*stomp.Frame)
	OnDisconnect func(error)
}

// Loop runs a transport.Transport's MsgCh/ErrCh through a Handlers set on
// a dedicated goroutine until Stop is called or the transport closes.
type Loop struct {
	tr       *transport.Transport
	handlers Handlers
	logger   *logrus.Logger

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New starts a Loop over tr. logger may be nil to use logrus's standard
// logger.
func New(tr *transport.Transport, handlers Handlers, logger *logrus.Logger) *Loop {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	l := &Loop{
		tr:       tr,
		handlers: handlers,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go l.run()
	return l
}

func (l *Loop) run() {
	defer close(l.doneCh)
	for {
		select {
		case <-l.stopCh:
			return
		case msg, ok := <-l.tr.MsgCh:
			if !ok {
				l.disconnected(nil)
				return
			}
			if l.handlers.OnMessage != nil {
				l.handlers.OnMessage(msg)
			}
		case errFrame, ok := <-l.tr.ErrCh:
			if !ok {
				l.disconnected(nil)
				return
			}
			if l.handlers.OnError != nil {
				l.handlers.OnError(errFrame)
			}
		}
	}
}

func (l *Loop) disconnected(err error) {
	l.logger.WithError(err).Debug("eventloop: transport closed")
	if l.handlers.OnDisconnect != nil {
		l.handlers.OnDisconnect(err)
	}
}

// Stop ends the loop goroutine without closing the underlying transport.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
}
