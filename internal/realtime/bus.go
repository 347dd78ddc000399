package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
)

// ErrBusClosed is returned by a bus that has been closed.
var ErrBusClosed = errors.New("realtime bus closed")

// Envelope is one event routed to a topic across instances.
type Envelope struct {
	Topic string          `json:"topic"`
	Event json.RawMessage `json:"event"`
}

// Bus carries envelopes between service instances. Subscribe blocks until
// ctx is done or the bus fails.
type Bus interface {
	Name() string
	Publish(ctx context.Context, env Envelope) error
	Subscribe(ctx context.Context, deliver func(Envelope)) error
	Close() error
}

// LocalBus delivers envelopes inside a single process.
type LocalBus struct {
	ch        chan Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func NewLocalBus(buffer int) *LocalBus {
	return &LocalBus{ch: make(chan Envelope, buffer), done: make(chan struct{})}
}

func (b *LocalBus) Name() string { return "local" }

func (b *LocalBus) Publish(ctx context.Context, env Envelope) error {
	select {
	case <-b.done:
		return ErrBusClosed
	default:
	}
	select {
	case b.ch <- env:
		return nil
	case <-b.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (b *LocalBus) Subscribe(ctx context.Context, deliver func(Envelope)) error {
	for {
		select {
		case env := <-b.ch:
			deliver(env)
		case <-b.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func (b *LocalBus) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
