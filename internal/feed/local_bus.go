package feed

import (
	"context"
	"sync"
)

// LocalBus - in-process Bus for single-instance deployments.
type LocalBus struct {
	mu          sync.RWMutex
	subscribers map[string]map[*localSubscription]struct{}
}

func NewLocalBus() *LocalBus {
	return &LocalBus{
		subscribers: make(map[string]map[*localSubscription]struct{}),
	}
}

func (that *LocalBus) Publish(_ context.Context, channel string, payload string) error {
	that.mu.RLock()
	defer that.mu.RUnlock()

	for sub := range that.subscribers[channel] {
		sub.box.post(payload)
	}

	return nil
}

func (that *LocalBus) Subscribe(_ context.Context, channel string) (Subscription, error) {
	sub := &localSubscription{bus: that, channel: channel, box: newMailbox()}

	that.mu.Lock()
	defer that.mu.Unlock()

	if that.subscribers[channel] == nil {
		that.subscribers[channel] = make(map[*localSubscription]struct{})
	}
	that.subscribers[channel][sub] = struct{}{}

	return sub, nil
}

func (that *LocalBus) unsubscribe(sub *localSubscription) {
	that.mu.Lock()
	defer that.mu.Unlock()

	delete(that.subscribers[sub.channel], sub)
	if len(that.subscribers[sub.channel]) == 0 {
		delete(that.subscribers, sub.channel)
	}
}

type localSubscription struct {
	bus     *LocalBus
	channel string
	box     *mailbox
	once    sync.Once
}

func (that *localSubscription) Notifications() <-chan string {
	return that.box.ch
}

func (that *localSubscription) Close() error {
	that.once.Do(func() {
		that.bus.unsubscribe(that)
	})

	return nil
}
