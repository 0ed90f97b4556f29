package watcher

import (
	"log/slog"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce batches bursts of filesystem events into one refresh.
const DefaultDebounce = 500 * time.Millisecond

// Watcher observes dashboard module roots and invokes a callback after
// filesystem changes settle. Watching is best-effort: unreadable roots are
// logged and skipped, watch errors never stop the loop.
type Watcher struct {
	fw       *fsnotify.Watcher
	log      *slog.Logger
	debounce time.Duration
	onChange func()
	done     chan struct{}
}

// New starts watching the given directories. onChange runs on the watcher
// goroutine and must not block for long.
func New(log *slog.Logger, roots []string, onChange func()) (*Watcher, error) {
	return newWithDebounce(log, roots, onChange, DefaultDebounce)
}

func newWithDebounce(log *slog.Logger, roots []string, onChange func(), debounce time.Duration) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		if err := fw.Add(root); err != nil {
			log.Warn("cannot watch module root", "root", root, "error", err)
		}
	}
	w := &Watcher{
		fw:       fw,
		log:      log,
		debounce: debounce,
		onChange: onChange,
		done:     make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if !relevant(ev) {
				continue
			}
			w.log.Debug("filesystem change", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				if !timer.Stop() {
					<-timer.C
				}
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.log.Warn("watch error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			w.onChange()
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// relevant filters to events that can change module discovery or marker
// presence.
func relevant(ev fsnotify.Event) bool {
	return ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Remove) ||
		ev.Op.Has(fsnotify.Rename) || ev.Op.Has(fsnotify.Write)
}

// Close stops the watch loop and releases the underlying watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
