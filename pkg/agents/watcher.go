package agents

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads the registry's definition directory when its JSON files
// change. Events are debounced so editors that write in several steps
// trigger a single reload.
type Watcher struct {
	registry *Registry
	watcher  *fsnotify.Watcher
	debounce time.Duration
	done     chan struct{}
	stopOnce sync.Once
	timerMu  sync.Mutex
	timer    *time.Timer
}

// NewWatcher creates a watcher over the registry's agents directory.
func NewWatcher(r *Registry) (*Watcher, error) {
	if r.dir == "" {
		return nil, fmt.Errorf("registry has no agents directory configured")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := fw.Add(r.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("failed to watch agents dir: %w", err)
	}

	return &Watcher{
		registry: r,
		watcher:  fw,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start begins processing filesystem events.
func (w *Watcher) Start() {
	go w.eventLoop()
	w.registry.logger.Info().Str("dir", w.registry.dir).Msg("Agent definition watcher started")
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() {
		close(w.done)
	})

	w.timerMu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) eventLoop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(event.Name, ".json") {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.scheduleReload()
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.registry.logger.Error().Err(err).Msg("Agent watcher error")

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) scheduleReload() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() {
		select {
		case <-w.done:
			return
		default:
		}
		if err := w.registry.reloadDir(); err != nil {
			w.registry.logger.Error().Err(err).Msg("Agent definition reload failed")
			return
		}
		w.registry.logger.Info().Msg("Agent definitions reloaded")
	})
}
