// Package interrupt converges the two external cancellation sources —
// SIGINT/SIGTERM and the .mco/cancel file — onto a single callback.
package interrupt

import (
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/fsnotify/fsnotify"
)

// CancelFileName inside the state directory triggers cancellation when
// created while a task runs.
const CancelFileName = "cancel"

// Notifier invokes fn exactly once on the first interrupt from either
// source. A second signal force-exits the process, matching the usual
// double-ctrl-C contract.
type Notifier struct {
	once    sync.Once
	sigCh   chan os.Signal
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
}

// Start begins watching. stateDir is the .mco directory; an empty
// stateDir disables the cancel-file source (signal handling remains).
func Start(stateDir string, fn func()) *Notifier {
	n := &Notifier{
		sigCh:  make(chan os.Signal, 2),
		stopCh: make(chan struct{}),
	}
	signal.Notify(n.sigCh, syscall.SIGINT, syscall.SIGTERM)

	fire := func() { n.once.Do(fn) }

	go func() {
		select {
		case <-n.sigCh:
			fire()
		case <-n.stopCh:
			return
		}
		// Second signal → force exit.
		select {
		case <-n.sigCh:
			os.Exit(130)
		case <-n.stopCh:
		}
	}()

	if stateDir != "" {
		if watcher, err := fsnotify.NewWatcher(); err == nil {
			if err := watcher.Add(stateDir); err == nil {
				n.watcher = watcher
				go n.watchCancelFile(stateDir, fire)
			} else {
				watcher.Close()
			}
		}
	}
	return n
}

func (n *Notifier) watchCancelFile(stateDir string, fire func()) {
	cancelPath := filepath.Join(stateDir, CancelFileName)
	// A cancel file left over from before the watch began still counts.
	if _, err := os.Stat(cancelPath); err == nil {
		fire()
		return
	}
	for {
		select {
		case event, ok := <-n.watcher.Events:
			if !ok {
				return
			}
			if event.Name == cancelPath && event.Op.Has(fsnotify.Create) {
				fire()
				return
			}
		case <-n.watcher.Errors:
		case <-n.stopCh:
			return
		}
	}
}

// Stop detaches both sources. The callback will not fire afterwards
// unless it already has.
func (n *Notifier) Stop() {
	signal.Stop(n.sigCh)
	close(n.stopCh)
	if n.watcher != nil {
		_ = n.watcher.Close()
	}
}
