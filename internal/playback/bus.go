package playback

import (
	"log/slog"
	"sync"
)

// Listener receives published events. Listeners run synchronously on the
// publishing goroutine and must not call back into the Engine; hand off
// to another goroutine for anything heavier than a state update.
type Listener func(Event)

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	fn Listener
}

// bus is a multicast channel from the engine to its subscribers. Each
// listener is isolated: a panicking subscriber is logged and delivery to
// the rest continues.
type bus struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
	log  *slog.Logger
}

func newBus(log *slog.Logger) *bus {
	return &bus{
		subs: make(map[*Subscription]struct{}),
		log:  log,
	}
}

func (b *bus) subscribe(fn Listener) *Subscription {
	sub := &Subscription{fn: fn}
	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()
	return sub
}

// unsubscribe removes a subscription. Removing an absent or already
// removed subscription is a no-op.
func (b *bus) unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	b.mu.Lock()
	delete(b.subs, sub)
	b.mu.Unlock()
}

func (b *bus) publish(e Event) {
	b.mu.Lock()
	listeners := make([]Listener, 0, len(b.subs))
	for sub := range b.subs {
		listeners = append(listeners, sub.fn)
	}
	b.mu.Unlock()

	for _, fn := range listeners {
		b.deliver(fn, e)
	}
}

func (b *bus) deliver(fn Listener, e Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event subscriber panicked", "event", e, "panic", r)
		}
	}()
	fn(e)
}

func (b *bus) clear() {
	b.mu.Lock()
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()
}
