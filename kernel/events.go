package kernel

import (
	"sync"
	"sync/atomic"

	"github.com/filechunkpro/filechunk-pro/common"
)

// Handler receives events published on a topic.
type Handler func(payload interface{})

type handlerEntry struct {
	id      common.EventHandlerID
	handler Handler
}

// EventBus is the topic-based, synchronous dispatcher spec §4.G requires:
// handlers for one topic run in registration order, a handler panic is
// caught and logged (never aborts dispatch to the remaining handlers),
// and per-topic FIFO is preserved because Emit is never reordered.
// Modelled as the multimap spec §9 design notes call for -- topic ->
// ordered handler list, keyed by an opaque id so Off never needs to
// compare closures.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]handlerEntry
	nextID   uint64
	logger   common.ILogger
}

func NewEventBus(logger common.ILogger) *EventBus {
	if logger == nil {
		logger = common.NullLogger{}
	}
	return &EventBus{handlers: make(map[string][]handlerEntry), logger: logger}
}

// On registers handler on topic and returns a token for Off.
func (b *EventBus) On(topic string, handler Handler) common.EventHandlerID {
	id := common.EventHandlerID(atomic.AddUint64(&b.nextID, 1))
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handlerEntry{id: id, handler: handler})
	return id
}

// Off removes the handler previously returned by On, if still registered.
func (b *EventBus) Off(topic string, id common.EventHandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.handlers[topic]
	for i, e := range list {
		if e.id == id {
			b.handlers[topic] = append(list[:i], list[i+1:]...)
			return
		}
	}
}

// Emit dispatches payload synchronously to every handler on topic, in
// registration order. A handler panic is recovered, logged, and dispatch
// continues with the next handler -- spec §4.G: "handler exceptions are
// caught and logged but do not abort dispatch."
func (b *EventBus) Emit(topic string, payload interface{}) {
	b.mu.RLock()
	// copy the slice header under the lock so a handler calling On/Off
	// from within its own callback cannot race the iteration below.
	list := make([]handlerEntry, len(b.handlers[topic]))
	copy(list, b.handlers[topic])
	b.mu.RUnlock()

	for _, e := range list {
		b.dispatchOne(topic, e, payload)
	}
}

func (b *EventBus) dispatchOne(topic string, e handlerEntry, payload interface{}) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Log(common.LogError, "event handler panicked on topic "+topic)
		}
	}()
	e.handler(payload)
}
