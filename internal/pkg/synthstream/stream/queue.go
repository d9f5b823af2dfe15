package stream

import (
	"sync"
	"sync/atomic"

	"github.com/gammazero/deque"
)

const (
	DefaultMaxBytes = 4 << 20
	DefaultMaxItems = 8192
)

// Limits bounds the queue. Zero fields take the defaults.
type Limits struct {
	MaxBytes int
	MaxItems int
}

// Observer is told about items the queue discards. Calls are made with the
// queue lock held and must not call back into the queue.
type Observer interface {
	Evicted(bytes int)
	Dropped(kind Kind)
	Stale(n int)
}

type nopObserver struct{}

func (nopObserver) Evicted(int)  {}
func (nopObserver) Dropped(Kind) {}
func (nopObserver) Stale(int)    {}

// Queue is the bounded, generation-fenced mailbox between producers and the
// consumer. It owns the readable generation: items tagged with any other
// generation are never admitted and never returned. Once a generation's Done
// has been pushed nothing more is admitted for it.
type Queue struct {
	mu         sync.Mutex
	items      deque.Deque[*Item]
	audioBytes int

	maxBytes int
	maxItems int
	obs      Observer

	current atomic.Uint64
	ended   uint64
}

// NewQueue returns an idle queue. obs may be nil.
func NewQueue(limits Limits, obs Observer) *Queue {
	if limits.MaxBytes <= 0 {
		limits.MaxBytes = DefaultMaxBytes
	}
	if limits.MaxItems <= 0 {
		limits.MaxItems = DefaultMaxItems
	}
	if obs == nil {
		obs = nopObserver{}
	}
	return &Queue{
		maxBytes: limits.MaxBytes,
		maxItems: limits.MaxItems,
		obs:      obs,
	}
}

// Current returns the readable generation, 0 when idle.
func (q *Queue) Current() uint64 {
	return q.current.Load()
}

// Begin makes g the readable generation and discards everything queued.
func (q *Queue) Begin(g uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current.Store(g)
	q.ended = 0
	q.clearLocked()
}

// Abandon returns the queue to idle if g is still the readable generation.
// It reports whether it did.
func (q *Queue) Abandon(g uint64) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.current.CompareAndSwap(g, 0) {
		return false
	}
	q.clearLocked()
	return true
}

// Reset unconditionally returns the queue to idle.
func (q *Queue) Reset() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.current.Store(0)
	q.clearLocked()
}

// Clear discards queued items if g is the readable generation.
func (q *Queue) Clear(g uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if cur := q.current.Load(); cur == 0 || cur != g {
		return
	}
	q.clearLocked()
}

// PushAudio enqueues payload for generation gen. The queue takes ownership
// of payload.
func (q *Queue) PushAudio(gen uint64, payload []byte) bool {
	if len(payload) == 0 {
		return false
	}
	return q.push(&Item{Kind: KindAudio, Generation: gen, Payload: payload})
}

// PushMarker enqueues an index, done or error marker for generation gen.
func (q *Queue) PushMarker(kind Kind, gen uint64, value int) bool {
	return q.push(&Item{Kind: kind, Generation: gen, Value: value})
}

func (q *Queue) push(it *Item) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if cur := q.current.Load(); cur == 0 || it.Generation != cur || it.Generation == q.ended {
		return false
	}
	if it.Kind == KindDone {
		q.ended = it.Generation
	}

	size := len(it.Payload)
	for q.audioBytes+size > q.maxBytes || q.items.Len() >= q.maxItems {
		if !q.evictOldestAudioLocked() {
			q.obs.Dropped(it.Kind)
			return false
		}
	}

	q.items.PushBack(it)
	q.audioBytes += size
	return true
}

func (q *Queue) evictOldestAudioLocked() bool {
	for i := 0; i < q.items.Len(); i++ {
		it := q.items.At(i)
		if it.Kind != KindAudio {
			continue
		}
		n := it.Unread()
		q.audioBytes = max(q.audioBytes-n, 0)
		q.items.Remove(i)
		q.obs.Evicted(n)
		return true
	}
	return false
}

// Pull hands the consumer the next item of the readable generation. For
// audio it copies up to len(buf) bytes and pops the item once drained; for
// markers it pops the item and returns its kind and value with n == 0.
// KindNone means there is nothing to read right now.
func (q *Queue) Pull(buf []byte) (n int, kind Kind, value int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.current.Load()
	if cur == 0 {
		q.clearLocked()
		return 0, KindNone, 0
	}

	stale := 0
	for q.items.Len() > 0 && q.items.Front().Generation != cur {
		it := q.items.PopFront()
		if it.Kind == KindAudio {
			q.audioBytes = max(q.audioBytes-it.Unread(), 0)
		}
		stale++
	}
	if stale > 0 {
		q.obs.Stale(stale)
	}

	if q.items.Len() == 0 {
		return 0, KindNone, 0
	}

	front := q.items.Front()
	if front.Kind != KindAudio {
		q.items.PopFront()
		return 0, front.Kind, front.Value
	}

	n = copy(buf, front.Payload[front.cursor:])
	front.cursor += n
	q.audioBytes = max(q.audioBytes-n, 0)
	if front.Unread() == 0 {
		q.items.PopFront()
	}
	return n, KindAudio, front.Value
}

// Len returns the number of queued items.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

// Buffered returns the unread audio bytes held by the queue.
func (q *Queue) Buffered() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.audioBytes
}

func (q *Queue) clearLocked() {
	q.items.Clear()
	q.audioBytes = 0
}
