package feed

import (
	"context"
)

// Bus - change notifications per channel.
//
// A subscription holds at most one pending notification: a publish that finds one already
// pending is folded into it. Subscribers react by reloading state, so a folded notification
// loses nothing.
type Bus interface {
	Publish(ctx context.Context, channel string, payload string) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type Subscription interface {
	Notifications() <-chan string
	Close() error
}

// mailbox - a one-slot notification queue that never blocks the sender.
type mailbox struct {
	ch chan string
}

func newMailbox() *mailbox {
	return &mailbox{ch: make(chan string, 1)}
}

func (that *mailbox) post(payload string) {
	select {
	case that.ch <- payload:
	default:
	}
}
