package job

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watcher streams checkpoint files as they are renamed into the checkpoints
// directory. Used by `mcoda jobs tail`.
type Watcher struct {
	fsw    *fsnotify.Watcher
	events chan string
	done   chan struct{}
}

func WatchCheckpoints(workspaceRoot, jobID string) (*Watcher, error) {
	dir := CheckpointsDir(workspaceRoot, jobID)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	w := &Watcher{
		fsw:    fsw,
		events: make(chan string, 16),
		done:   make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

// Checkpoints yields paths of newly committed checkpoint files.
func (w *Watcher) Checkpoints() <-chan string {
	return w.events
}

func (w *Watcher) loop() {
	defer close(w.events)
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			// Atomic checkpoint commits surface as Create (rename target) on
			// most platforms; Rename covers the rest.
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			name := filepath.Base(event.Name)
			if strings.HasPrefix(name, ".") {
				continue
			}
			if _, ok := parseCheckpointFileName(name); !ok {
				continue
			}
			select {
			case w.events <- event.Name:
			case <-w.done:
				return
			}
		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.fsw.Close()
}
