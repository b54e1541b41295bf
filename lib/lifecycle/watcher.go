// Package lifecycle coordinates signal-driven shutdown. A Watcher collects
// named hooks (store disposal, queue close) and runs them exactly once, in
// registration order, when the process receives an interrupt or termination
// signal or when Shutdown is called directly.
package lifecycle

import (
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/ValentinKolb/sKV/lib/logging"
)

// Hook is a named shutdown action. Hooks must be idempotent: a direct
// Shutdown call can race signal delivery.
type Hook struct {
	Name string
	Fn   func()
}

// Watcher runs registered hooks once on shutdown.
//
// Thread-safety: all methods are safe for concurrent use.
type Watcher struct {
	mu    sync.Mutex
	hooks []Hook

	once  sync.Once
	sigCh chan os.Signal
	done  chan struct{}

	logger logging.Logger
}

// NewWatcher creates a watcher and starts listening for SIGINT and SIGTERM.
func NewWatcher() *Watcher {
	w := &Watcher{
		sigCh:  make(chan os.Signal, 1),
		done:   make(chan struct{}),
		logger: logging.New("lifecycle"),
	}

	signal.Notify(w.sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-w.sigCh:
			w.logger.Infof("received %s, shutting down", sig)
			w.Shutdown()
		case <-w.done:
		}
	}()

	return w
}

// Register appends a shutdown hook. Hooks registered after Shutdown has run
// are never executed.
func (w *Watcher) Register(name string, fn func()) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.hooks = append(w.hooks, Hook{Name: name, Fn: fn})
}

// Shutdown runs all registered hooks in registration order. It is idempotent;
// concurrent and repeated calls run the hooks exactly once.
func (w *Watcher) Shutdown() {
	w.once.Do(func() {
		signal.Stop(w.sigCh)

		w.mu.Lock()
		hooks := make([]Hook, len(w.hooks))
		copy(hooks, w.hooks)
		w.mu.Unlock()

		for _, hook := range hooks {
			w.logger.Debugf("running shutdown hook %q", hook.Name)
			hook.Fn()
		}

		close(w.done)
	})
}

// Done returns a channel that is closed once shutdown has completed.
func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until shutdown has completed.
func (w *Watcher) Wait() {
	<-w.done
}
