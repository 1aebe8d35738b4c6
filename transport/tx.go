package transport

import (
	"github.com/pkg/errors"

	"github.com/riftlabs/gostomp"
)

// ErrTxDone is returned when a committed or aborted transaction is used
// again.
var ErrTxDone = errors.New("transport: transaction has already been committed or aborted")

// Tx represents an in-progress transaction begun by Transport.Begin.
// Adapted from djoyahoy-stomp/tx.go's Tx, generalized to carry a
// stomp.Token rather than a bare string transaction id.
type Tx struct {
	transport *Transport
	token     stomp.Token
	done      bool
}

// Commit commits the transaction, optionally waiting for a RECEIPT.
func (t *Tx) Commit(wantReceipt bool) error {
	if t.done {
		return ErrTxDone
	}
	defer func() { t.done = true }()

	_, err := t.transport.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		return t.transport.sess.Commit(stomp.ByToken(t.token), receipt)
	})
	return err
}

// Abort aborts the transaction. Unlike Commit it never returns ErrTxDone,
// so it is safe to call unconditionally from a defer after a successful
// Commit.
func (t *Tx) Abort(wantReceipt bool) error {
	if t.done {
		return nil
	}
	defer func() { t.done = true }()

	_, err := t.transport.doWithReceipt(wantReceipt, func(receipt string) (*stomp.Frame, stomp.Token, error) {
		return t.transport.sess.Abort(stomp.ByToken(t.token), receipt)
	})
	return err
}

// Send sends a message scoped to this transaction.
func (t *Tx) Send(destination string, headers map[string]string, body []byte, wantReceipt bool) error {
	if t.done {
		return ErrTxDone
	}
	return t.transport.Send(destination, withHeader(headers, stomp.HdrTransaction, t.token.Value), body, wantReceipt)
}

// Ack acknowledges a message scoped to this transaction.
func (t *Tx) Ack(headers map[string]string, wantReceipt bool) error {
	if t.done {
		return ErrTxDone
	}
	return t.transport.Ack(withHeader(headers, stomp.HdrTransaction, t.token.Value), wantReceipt)
}

// Nack negatively acknowledges a message scoped to this transaction.
func (t *Tx) Nack(headers map[string]string, wantReceipt bool) error {
	if t.done {
		return ErrTxDone
	}
	return t.transport.Nack(withHeader(headers, stomp.HdrTransaction, t.token.Value), wantReceipt)
}
