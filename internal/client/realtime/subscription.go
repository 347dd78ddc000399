package realtime

import (
	"log"
	"sync"

	"community-chat/internal/models"
)

// State is the lifecycle of a Subscription. Rejected and closed are terminal.
type State string

const (
	StatePending   State = "pending"
	StateConfirmed State = "confirmed"
	StateRejected  State = "rejected"
	StateClosed    State = "closed"
)

// Handler receives decoded events of one topic.
type Handler func(models.Event)

// Subscription is the handle of one topic on a Conn.
type Subscription struct {
	Topic string

	mu      sync.Mutex
	state   State
	handler Handler
}

func newSubscription(topic string, handler Handler) *Subscription {
	return &Subscription{Topic: topic, state: StatePending, handler: handler}
}

// State reports the current lifecycle state. A zero Subscription is pending.
func (s *Subscription) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == "" {
		return StatePending
	}
	return s.state
}

// Live reports whether the subscription is pending or confirmed.
func (s *Subscription) Live() bool {
	switch s.State() {
	case StatePending, StateConfirmed:
		return true
	default:
		return false
	}
}

func (s *Subscription) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateRejected || s.state == StateClosed {
		return
	}
	s.state = state
}

func (s *Subscription) deliver(event models.Event) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()
	if handler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Printf("realtime handler panic: topic=%s type=%s panic=%v", s.Topic, event.Type(), r)
		}
	}()
	handler(event)
}
