package session

import (
	"sync"

	"github.com/gammazero/deque"
)

type commandKind int

const (
	cmdSpeak commandKind = iota
	cmdQuit
)

// command is one queued request. snapshot is the cancel token it was
// issued under; it is only executed if the token is unchanged at dequeue.
type command struct {
	kind     commandKind
	snapshot uint64
	text     string
}

type commandQueue struct {
	mu    sync.Mutex
	items deque.Deque[command]
	wake  chan struct{}
}

func newCommandQueue() *commandQueue {
	return &commandQueue{wake: make(chan struct{}, 1)}
}

func (q *commandQueue) push(c command) {
	q.mu.Lock()
	q.items.PushBack(c)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *commandQueue) pop() (command, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.items.Len() == 0 {
		return command{}, false
	}
	return q.items.PopFront(), true
}

func (q *commandQueue) clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.Clear()
}

func (q *commandQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}
