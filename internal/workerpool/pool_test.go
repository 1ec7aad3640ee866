package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatchRunsOnWorker(t *testing.T) {
	p := New(2)
	defer p.Shutdown()

	done := make(chan int, 1)
	p.Dispatch(42, func(fd int) { done <- fd })

	select {
	case fd := <-done:
		if fd != 42 {
			t.Errorf("got fd %d, want 42", fd)
		}
	case <-time.After(time.Second):
		t.Fatal("dispatch never ran")
	}
}

func TestDispatchConcurrency(t *testing.T) {
	const n = 200
	p := New(8)
	defer p.Shutdown()

	var count int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		p.Dispatch(i, func(fd int) {
			atomic.AddInt64(&count, 1)
			wg.Done()
		})
	}

	waitCh := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
	case <-time.After(5 * time.Second):
		t.Fatal("not all jobs completed")
	}

	if got := atomic.LoadInt64(&count); got != n {
		t.Errorf("count = %d, want %d", got, n)
	}
}

func TestDefaultSizeWhenNonPositive(t *testing.T) {
	p := New(0)
	defer p.Shutdown()

	done := make(chan struct{})
	p.Dispatch(1, func(fd int) { close(done) })

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool with default size never ran job")
	}
}
