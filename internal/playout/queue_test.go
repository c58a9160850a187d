package playout

import (
	"fmt"
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue()
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop on empty queue should fail")
	}
	for i := range 3 {
		q.Push([]byte{byte(i)})
	}
	if q.Len() != 3 {
		t.Fatalf("Len = %d, want 3", q.Len())
	}
	for i := range 3 {
		buf, ok := q.TryPop()
		if !ok || buf[0] != byte(i) {
			t.Errorf("pop %d = %v, %v", i, buf, ok)
		}
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d after draining", q.Len())
	}
}

func TestQueue_compactionKeepsOrder(t *testing.T) {
	q := NewQueue()
	const n = 5000
	for i := range n {
		q.Push([]byte(fmt.Sprint(i)))
	}
	for i := range n / 2 {
		buf, _ := q.TryPop()
		if string(buf) != fmt.Sprint(i) {
			t.Fatalf("pop %d = %s", i, buf)
		}
	}
	q.Push([]byte("tail"))
	for i := n / 2; i < n; i++ {
		buf, _ := q.TryPop()
		if string(buf) != fmt.Sprint(i) {
			t.Fatalf("pop %d = %s", i, buf)
		}
	}
	if buf, _ := q.TryPop(); string(buf) != "tail" {
		t.Errorf("last = %s, want tail", buf)
	}
}

func TestQueue_concurrentProducer(t *testing.T) {
	q := NewQueue()
	const n = 1000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := range n {
			q.Push([]byte(fmt.Sprint(i)))
		}
	}()

	next := 0
	for next < n {
		buf, ok := q.TryPop()
		if !ok {
			continue
		}
		if string(buf) != fmt.Sprint(next) {
			t.Fatalf("got %s, want %d", buf, next)
		}
		next++
	}
	wg.Wait()
}
