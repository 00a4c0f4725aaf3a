package events

import (
	"sync"
	"sync/atomic"
)

// Bus is a lightweight pub/sub broker using channels.
type Bus struct {
	mu      sync.RWMutex
	subs    map[Event][]chan any
	dropped atomic.Uint64
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[Event][]chan any)}
}

// Subscribe registers a listener for an event and returns the channel and an unsubscribe function.
func (b *Bus) Subscribe(e Event, buffer int) (<-chan any, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan any, buffer)
	b.subs[e] = append(b.subs[e], ch)

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			subs := b.subs[e]
			for i, c := range subs {
				if c == ch {
					close(c)
					b.subs[e] = append(subs[:i], subs[i+1:]...)
					break
				}
			}
		})
	}

	return ch, unsub
}

// SubscribeMany registers one channel for several events.
func (b *Bus) SubscribeMany(buffer int, es ...Event) (<-chan Envelope, func()) {
	out := make(chan Envelope, buffer)
	var unsubs []func()
	var wg sync.WaitGroup
	for _, e := range es {
		ch, unsub := b.Subscribe(e, buffer)
		unsubs = append(unsubs, unsub)
		wg.Add(1)
		go func(e Event, ch <-chan any) {
			defer wg.Done()
			for payload := range ch {
				select {
				case out <- Envelope{Event: e, Payload: payload}:
				default:
					b.dropped.Add(1)
				}
			}
		}(e, ch)
	}
	var once sync.Once
	return out, func() {
		once.Do(func() {
			for _, u := range unsubs {
				u()
			}
			wg.Wait()
			close(out)
		})
	}
}

// Envelope tags a payload with its topic.
type Envelope struct {
	Event   Event `json:"event"`
	Payload any   `json:"payload"`
}

// Publish fans out the payload without blocking; slow subscribers miss events.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[e] {
		select {
		case ch <- payload:
		default:
			b.dropped.Add(1)
		}
	}
}

// Dropped returns how many deliveries were skipped because a subscriber was full.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}
