package stream

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Broadcaster fans a value stream out to any number of subscribers. A new
// subscriber immediately receives the latest published value (replay-latest),
// then every subsequent publish. A slow subscriber never blocks a publisher:
// when its buffer is full the oldest queued value is dropped.
type Broadcaster[T any] struct {
	mu        sync.Mutex
	subs      map[int]chan T
	nextID    int
	latest    T
	hasLatest bool
	closed    bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{subs: map[int]chan T{}}
}

func (b *Broadcaster[T]) Publish(v T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.latest = v
	b.hasLatest = true
	for _, ch := range b.subs {
		send(ch, v)
	}
}

// Subscribe registers a new subscriber whose channel is closed when ctx ends
// or the broadcaster closes.
func (b *Broadcaster[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, subscriberBuffer)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.hasLatest {
		send(ch, b.latest)
	}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.unsubscribe(id)
	}()
	return ch
}

func (b *Broadcaster[T]) Latest() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest, b.hasLatest
}

func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

func (b *Broadcaster[T]) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		close(ch)
		delete(b.subs, id)
	}
}

// send enqueues without blocking, evicting the oldest value under pressure.
func send[T any](ch chan T, v T) {
	for {
		select {
		case ch <- v:
			return
		default:
			select {
			case <-ch:
			default:
			}
		}
	}
}
