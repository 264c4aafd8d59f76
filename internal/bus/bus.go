// Package bus is the relay's internal publish-subscribe fabric. Topics are
// constructed by callers (config/{account}, trade/{master}/{slave},
// sync/{master}/{slave}) and never parsed by the bus itself. Publish is
// fire-and-forget: a send that cannot be delivered is handed to a failure
// channel instead of returning an error to the caller.
package bus

import (
	"errors"
	"sync"

	"github.com/sankey-copier/relay-server/internal/wire"
)

var (
	errNoSubscriber         = errors.New("no subscriber for topic")
	errSubscriberBufferFull = errors.New("subscriber buffer full")
)

// SendFailure describes one publish attempt the bus could not deliver.
type SendFailure struct {
	Topic    string
	Payload  []byte
	Error    string
	Attempts int
}

// Publisher is the narrow interface the router and the retry worker depend
// on, so tests can substitute an in-memory implementation.
type Publisher interface {
	PublishToTopic(topic string, msg any) error
	PublishRaw(topic string, payload []byte) error
}

const subscriberBuffer = 64

// Bus is the default Publisher: an in-process topic registry plus an
// unbounded failure channel drained by a persister.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]chan []byte
	nextID      int

	failures chan SendFailure
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]map[int]chan []byte),
		failures:    make(chan SendFailure, 4096),
	}
}

// Failures exposes the channel of undeliverable publishes, for the
// persister task to drain.
func (b *Bus) Failures() <-chan SendFailure {
	return b.failures
}

// Subscribe registers a channel to receive every payload published to
// topic. The returned func removes the subscription.
func (b *Bus) Subscribe(topic string) (<-chan []byte, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan []byte, subscriberBuffer)
	id := b.nextID
	b.nextID++

	if b.subscribers[topic] == nil {
		b.subscribers[topic] = make(map[int]chan []byte)
	}
	b.subscribers[topic][id] = ch

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if subs, ok := b.subscribers[topic]; ok {
			delete(subs, id)
			if len(subs) == 0 {
				delete(b.subscribers, topic)
			}
		}
		close(ch)
	}
	return ch, unsubscribe
}

// PublishToTopic encodes msg as a wire body and publishes it.
func (b *Bus) PublishToTopic(topic string, msg any) error {
	body, err := wire.EncodeBody(msg)
	if err != nil {
		b.recordFailure(topic, nil, err)
		return nil
	}
	return b.PublishRaw(topic, body)
}

// PublishRaw hands payload to every current subscriber of topic. A topic
// with no subscribers, or a subscriber whose buffer is full, is recorded as
// a send failure; PublishRaw itself always returns nil, since publish is
// fire-and-forget from the caller's point of view.
func (b *Bus) PublishRaw(topic string, payload []byte) error {
	if err := b.TryDeliver(topic, payload); err != nil {
		b.recordFailure(topic, payload, err)
	}
	return nil
}

// TryDeliver is PublishRaw's synchronous counterpart: it returns the actual
// delivery outcome instead of swallowing it into the failure channel. The
// retry worker uses this directly, since it needs to know whether a given
// retry attempt succeeded.
func (b *Bus) TryDeliver(topic string, payload []byte) error {
	b.mu.RLock()
	subs := b.subscribers[topic]
	targets := make([]chan []byte, 0, len(subs))
	for _, ch := range subs {
		targets = append(targets, ch)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return errNoSubscriber
	}

	var failed bool
	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
			failed = true
		}
	}
	if failed {
		return errSubscriberBufferFull
	}
	return nil
}

func (b *Bus) recordFailure(topic string, payload []byte, err error) {
	f := SendFailure{Topic: topic, Payload: payload, Error: err.Error(), Attempts: 1}
	select {
	case b.failures <- f:
	default:
		// failure channel buffer is full; hand the record to a goroutine so
		// the publish never blocks and the failure is still persisted.
		go func() { b.failures <- f }()
	}
}
