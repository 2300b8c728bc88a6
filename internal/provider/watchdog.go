package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/littlehelper/littlehelper/internal/fault"
)

// watchdog cancels a stream that has been quiet for longer than idle.
type watchdog struct {
	mu     sync.Mutex
	timer  *time.Timer
	idle   time.Duration
	fired  bool
	cancel context.CancelFunc
}

// withWatchdog derives a context that is cancelled when kick has not been
// called for idle. stop must be called when the stream ends.
func withWatchdog(ctx context.Context, idle time.Duration) (context.Context, *watchdog) {
	ctx, cancel := context.WithCancel(ctx)
	w := &watchdog{idle: idle, cancel: cancel}
	if idle > 0 {
		w.timer = time.AfterFunc(idle, w.expire)
	}
	return ctx, w
}

func (w *watchdog) expire() {
	w.mu.Lock()
	w.fired = true
	w.mu.Unlock()
	w.cancel()
}

func (w *watchdog) kick() {
	if w.timer != nil {
		w.timer.Reset(w.idle)
	}
}

func (w *watchdog) stop() {
	if w.timer != nil {
		w.timer.Stop()
	}
	w.cancel()
}

// err rewrites a cancellation caused by the watchdog into a timeout.
func (w *watchdog) err(err error) error {
	w.mu.Lock()
	fired := w.fired
	w.mu.Unlock()
	if fired && err != nil {
		return fmt.Errorf("stream idle for %s: %w", w.idle, fault.ErrTimeout)
	}
	return err
}
