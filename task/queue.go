package task

import (
	"sync"
)

// Queue feeds accepted tasks to the worker pool in submission order.
// There are no priorities: a deploy queued behind a long scan waits
// its turn. Enqueue never waits for a worker to be free, only for the
// queue goroutine to take the task.
type Queue struct {
	mu      sync.Mutex
	pending []*Task

	submit chan *Task
	ready  chan *Task
}

func NewQueue() *Queue {
	return &Queue{
		submit: make(chan *Task),
		ready:  make(chan *Task),
	}
}

// Len reports how many tasks are queued but not yet handed to a
// worker.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) Enqueue(t *Task) {
	q.submit <- t
}

// Ready is the channel workers receive from. It is closed when the
// loop exits.
func (q *Queue) Ready() <-chan *Task {
	return q.ready
}

// Loop shuttles tasks from Enqueue to Ready until stop closes. Only
// the loop goroutine moves the head of the queue, so handing a task
// to a worker and accepting a new submission never race.
func (q *Queue) Loop(stop chan struct{}) {
	defer func() {
		close(q.ready)
		// a Submit racing shutdown must not hang its caller
		select {
		case <-q.submit:
		default:
		}
	}()
	for {
		head, ready := q.head()
		select {
		case <-stop:
			return
		case t := <-q.submit:
			q.mu.Lock()
			q.pending = append(q.pending, t)
			q.mu.Unlock()
		case ready <- head:
			q.mu.Lock()
			q.pending = q.pending[1:]
			q.mu.Unlock()
		}
	}
}

// head returns the next task and the channel to offer it on. When
// nothing is queued both are nil, and a send on a nil channel blocks
// forever, which disables that select arm.
func (q *Queue) head() (*Task, chan *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	return q.pending[0], q.ready
}
