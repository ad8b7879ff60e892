// Package mail delivers the out-of-band messages of the account-security
// flows: reset links, email change codes and change notices.
package mail

import (
	"context"
	"errors"
	"sync"
)

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
	// Kind names the flow that produced the message, e.g. "password_reset".
	Kind string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Outbox keeps messages in memory. It backs tests and the development
// server; FailNext makes the next Send fail once.
type Outbox struct {
	mu       sync.Mutex
	messages []Message
	failNext error
}

func NewOutbox() *Outbox {
	return &Outbox{}
}

func (o *Outbox) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.failNext != nil {
		err := o.failNext
		o.failNext = nil
		return err
	}
	o.messages = append(o.messages, msg)
	return nil
}

// FailNext arranges for the next Send to return err.
func (o *Outbox) FailNext(err error) {
	if err == nil {
		err = errors.New("outbox: injected failure")
	}
	o.mu.Lock()
	o.failNext = err
	o.mu.Unlock()
}

// Messages returns a copy of everything sent so far.
func (o *Outbox) Messages() []Message {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]Message, len(o.messages))
	copy(out, o.messages)
	return out
}

// Last returns the most recent message to addr.
func (o *Outbox) Last(addr string) (Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.messages) - 1; i >= 0; i-- {
		if o.messages[i].To == addr {
			return o.messages[i], true
		}
	}
	return Message{}, false
}
