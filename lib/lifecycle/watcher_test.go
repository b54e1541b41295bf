package lifecycle

import (
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"
)

func TestShutdownRunsHooksInOrder(t *testing.T) {
	w := NewWatcher()

	var order []string
	w.Register("first", func() { order = append(order, "first") })
	w.Register("second", func() { order = append(order, "second") })

	w.Shutdown()

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("hooks ran as %v, want [first second]", order)
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	w := NewWatcher()

	var runs atomic.Int32
	w.Register("count", func() { runs.Add(1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.Shutdown()
		}()
	}
	wg.Wait()

	if runs.Load() != 1 {
		t.Fatalf("hook ran %d times, want exactly once", runs.Load())
	}

	select {
	case <-w.Done():
	default:
		t.Fatal("Done not closed after shutdown")
	}
}

func TestSignalTriggersShutdown(t *testing.T) {
	w := NewWatcher()

	ran := make(chan struct{})
	w.Register("signal", func() { close(ran) })

	if err := syscall.Kill(syscall.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("send signal: %v", err)
	}

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("signal did not trigger shutdown")
	}
	w.Wait()
}
