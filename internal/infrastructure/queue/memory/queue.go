package memory

import (
	"container/heap"
	"context"
	"sync"

	"github.com/mkropachev/ragpipe/internal/core/ports"
)

// Queue is an in-process priority queue transport, used by tests and
// single-node deployments. Higher priority dequeues first; equal priorities
// dequeue in enqueue order.
type Queue struct {
	mu   sync.Mutex
	cond *sync.Cond

	items taskHeap
	seq   uint64
	dead  []ports.TaskMessage
}

func New() *Queue {
	q := &Queue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

func (q *Queue) Enqueue(_ context.Context, msg ports.TaskMessage) error {
	q.mu.Lock()
	q.seq++
	heap.Push(&q.items, queuedItem{msg: msg, seq: q.seq})
	q.mu.Unlock()
	q.cond.Signal()
	return nil
}

// Dequeue blocks until a message is available or ctx is done.
func (q *Queue) Dequeue(ctx context.Context) (ports.TaskMessage, error) {
	stop := context.AfterFunc(ctx, func() {
		q.cond.Broadcast()
	})
	defer stop()

	q.mu.Lock()
	defer q.mu.Unlock()
	for q.items.Len() == 0 {
		if err := ctx.Err(); err != nil {
			return ports.TaskMessage{}, err
		}
		q.cond.Wait()
	}
	item := heap.Pop(&q.items).(queuedItem)
	return item.msg, nil
}

// Ack is a no-op: delivery removes the message.
func (q *Queue) Ack(context.Context, ports.TaskMessage) error { return nil }

// Nack returns the message to the queue for redelivery.
func (q *Queue) Nack(ctx context.Context, msg ports.TaskMessage) error {
	return q.Enqueue(ctx, msg)
}

func (q *Queue) DeadLetter(_ context.Context, msg ports.TaskMessage) error {
	q.mu.Lock()
	q.dead = append(q.dead, msg)
	q.mu.Unlock()
	return nil
}

// DeadLetters returns a copy of everything dead-lettered so far.
func (q *Queue) DeadLetters() []ports.TaskMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]ports.TaskMessage(nil), q.dead...)
}

// Len reports queued (not in-flight) messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Len()
}

type queuedItem struct {
	msg ports.TaskMessage
	seq uint64
}

type taskHeap []queuedItem

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].msg.Priority != h[j].msg.Priority {
		return h[i].msg.Priority > h[j].msg.Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(queuedItem)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
