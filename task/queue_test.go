package task

import (
	"testing"
	"time"
)

func TestQueue(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	q := NewQueue()
	go q.Loop(stop)

	if q.Len() != 0 {
		t.Errorf("Fresh queue has length %d (!= 0)", q.Len())
	}

	select {
	case <-q.Ready():
		t.Error("Value from q.Ready before any values enqueued")
	default:
	}

	q.Enqueue(newTask(1, TypeScan, "scan", "tester", "dep"))

	// This should proceed eventually
	select {
	case got := <-q.Ready():
		if got.ID != 1 {
			t.Errorf("Dequeued odd task: %#v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueued task never became ready")
	}

	// This should not proceed, because the queue is empty
	select {
	case got := <-q.Ready():
		t.Errorf("Dequeued from empty queue: %#v", got)
	default:
	}
}

func TestQueueFIFO(t *testing.T) {
	stop := make(chan struct{})
	defer close(stop)
	q := NewQueue()
	go q.Loop(stop)

	for i := 1; i <= 5; i++ {
		q.Enqueue(newTask(ID(i), TypeScan, "scan", "tester", "dep"))
	}
	for i := 1; i <= 5; i++ {
		select {
		case got := <-q.Ready():
			if got.ID != ID(i) {
				t.Fatalf("expected task %d next, got %d", i, got.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("task %d never became ready", i)
		}
	}
}
