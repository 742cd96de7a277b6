package bus

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const subscriberBuffer = 256

type subscriber struct {
	topic   string
	handler Handler
	queue   chan Message
	done    chan struct{}
	once    sync.Once
}

func (s *subscriber) loop() {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.queue:
			s.handler(msg)
		}
	}
}

func (s *subscriber) stop() {
	s.once.Do(func() { close(s.done) })
}

type subscription struct {
	m   *Memory
	sub *subscriber
}

func (s subscription) Unsubscribe() {
	s.m.remove(s.sub)
}

// Memory is an in-process broker. Each subscriber has its own ordered
// delivery goroutine; messages are dropped for a subscriber whose queue is
// full.
type Memory struct {
	logger *slog.Logger

	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

var _ Broker = (*Memory)(nil)

// NewMemory creates an in-process broker.
func NewMemory(logger *slog.Logger) *Memory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Memory{logger: logger, subs: make(map[*subscriber]struct{})}
}

// Publish delivers msg to every subscriber of msg.Topic.
func (m *Memory) Publish(ctx context.Context, msg Message) error {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now()
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	for sub := range m.subs {
		if sub.topic != msg.Topic {
			continue
		}
		select {
		case sub.queue <- msg:
		default:
			m.logger.Warn("bus subscriber queue full, dropping message", "topic", msg.Topic, "kind", msg.Kind)
		}
	}
	return nil
}

// Subscribe registers h for topic.
func (m *Memory) Subscribe(topic string, h Handler) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	sub := &subscriber{
		topic:   topic,
		handler: h,
		queue:   make(chan Message, subscriberBuffer),
		done:    make(chan struct{}),
	}
	m.subs[sub] = struct{}{}
	go sub.loop()
	return subscription{m: m, sub: sub}, nil
}

func (m *Memory) remove(sub *subscriber) {
	m.mu.Lock()
	delete(m.subs, sub)
	m.mu.Unlock()
	sub.stop()
}

// Close stops every subscriber.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for sub := range m.subs {
		sub.stop()
		delete(m.subs, sub)
	}
	return nil
}
