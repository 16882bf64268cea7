// Package brokeremu implements the in-process broker emulation test
// fixture (C11): a deliberately approximate mock of an AMQP 1.0 message
// bus with queues and topics-with-subscriptions, per spec.md §4.10. It
// has no teacher counterpart in the pack; the HTTP management plane
// follows the gin idiom used throughout this kernel's other actors, and
// the data-plane frame recognizer is hand-rolled as the spec permits.
package brokeremu

import "sync"

// Broker holds the emulator's pub/sub state: named queues (FIFO lists)
// and named topics, each fanning out to a set of named subscriptions.
type Broker struct {
	mu     sync.Mutex
	queues map[string][][]byte
	topics map[string]map[string][][]byte
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		queues: make(map[string][][]byte),
		topics: make(map[string]map[string][][]byte),
	}
}

// PublishQueue appends payload to the named queue's FIFO.
func (b *Broker) PublishQueue(name string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[name] = append(b.queues[name], payload)
}

// DrainQueue removes and returns everything currently queued under name.
func (b *Broker) DrainQueue(name string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	msgs := b.queues[name]
	delete(b.queues, name)
	return msgs
}

// EnsureSubscription creates subscription sub of topic if absent. A
// subscription must exist before PublishTopic can fan a message into
// it, mirroring the emulator's Attach-before-Transfer ordering.
func (b *Broker) EnsureSubscription(topic, sub string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.topics[topic] == nil {
		b.topics[topic] = make(map[string][][]byte)
	}
	if _, ok := b.topics[topic][sub]; !ok {
		b.topics[topic][sub] = nil
	}
}

// PublishTopic fans payload out to every existing subscription of topic.
// Subscriptions attached after the publish do not retroactively see it.
func (b *Broker) PublishTopic(topic string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	for sub, msgs := range subs {
		subs[sub] = append(msgs, payload)
	}
}

// DrainSubscription removes and returns everything pending for
// topic/subscription, as the connection-timeout tick would serialize
// into transfer frames.
func (b *Broker) DrainSubscription(topic, sub string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	if subs == nil {
		return nil
	}
	msgs := subs[sub]
	subs[sub] = nil
	return msgs
}
