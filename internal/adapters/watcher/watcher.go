// Package watcher reloads the study area when its local file changes.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last event before the
// handler runs.
const DefaultDebounce = 500 * time.Millisecond

// Event represents a change of the watched file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per settled change. Calls never overlap.
type Handler func(ctx context.Context, event Event) error

// Config holds watcher configuration.
type Config struct {
	File     string // study-area file
	Debounce time.Duration
}

// Watcher watches one study-area file. The parent directory is watched so
// that editors replacing the file through a rename are seen, and writes to
// SQLite sidecar files (-wal, -journal) count as changes of a GeoPackage.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	handler   Handler
	logger    *slog.Logger
	file      string
	debounce  time.Duration

	mu      sync.Mutex
	pending *Operation
	timer   *time.Timer

	runMu  sync.Mutex
	wg     sync.WaitGroup
	stopCh chan struct{}
	once   sync.Once
}

// New creates a watcher for cfg.File.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	if cfg.File == "" {
		return nil, errors.New("watcher: no file configured")
	}
	file, err := filepath.Abs(cfg.File)
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		fsWatcher: fsWatcher,
		handler:   handler,
		logger:    logger,
		file:      file,
		debounce:  cfg.Debounce,
		stopCh:    make(chan struct{}),
	}, nil
}

// File returns the absolute path of the watched file.
func (w *Watcher) File() string {
	return w.file
}

// Start watches the directory of the file until ctx is done or Stop is
// called.
func (w *Watcher) Start(ctx context.Context) error {
	dir := filepath.Dir(w.file)
	if err := w.fsWatcher.Add(dir); err != nil {
		return err
	}
	w.logger.Info("watching study area file", "path", w.file)

	w.wg.Add(1)
	go w.eventLoop(ctx)
	return nil
}

// Stop stops the watcher and waits for a running handler to return.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.stopCh)
		err = w.fsWatcher.Close()

		w.mu.Lock()
		if w.timer != nil {
			w.timer.Stop()
		}
		w.pending = nil
		w.mu.Unlock()

		w.wg.Wait()
		w.runMu.Lock()
		//nolint:staticcheck // empty critical section waits for a running handler
		w.runMu.Unlock()
	})
	return err
}

func (w *Watcher) eventLoop(ctx context.Context) {
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if op, relevant := w.classify(event); relevant {
				w.schedule(ctx, op)
			}

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// classify maps an fsnotify event to an operation on the watched file.
func (w *Watcher) classify(event fsnotify.Event) (Operation, bool) {
	path, err := filepath.Abs(event.Name)
	if err != nil {
		path = filepath.Clean(event.Name)
	}

	switch path {
	case w.file:
		if event.Op == fsnotify.Chmod {
			return 0, false
		}
		return fsnotifyOpToOperation(event.Op), true
	case w.file + "-wal", w.file + "-journal":
		if event.Op.Has(fsnotify.Write) || event.Op.Has(fsnotify.Create) {
			return OpModify, true
		}
	}
	return 0, false
}

// schedule records op and restarts the debounce timer. A delete followed by
// a create within the quiet period settles as a create; a delete always
// overrides earlier changes.
func (w *Watcher) schedule(ctx context.Context, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case w.pending == nil:
		w.pending = &op
	case *w.pending == OpDelete && op == OpCreate:
		*w.pending = OpCreate
	case op == OpDelete:
		*w.pending = OpDelete
	}

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, func() { w.fire(ctx) })
}

func (w *Watcher) fire(ctx context.Context) {
	w.mu.Lock()
	pending := w.pending
	w.pending = nil
	w.mu.Unlock()

	if pending == nil || ctx.Err() != nil {
		return
	}
	select {
	case <-w.stopCh:
		return
	default:
	}

	w.runMu.Lock()
	defer w.runMu.Unlock()

	event := Event{Path: w.file, Operation: *pending}
	w.logger.Info("study area file changed", "path", event.Path, "operation", event.Operation.String())
	if err := w.handler(ctx, event); err != nil {
		w.logger.Error("handler error",
			"path", event.Path,
			"operation", event.Operation.String(),
			"error", err,
		)
	}
}

// fsnotifyOpToOperation converts fsnotify.Op to our Operation type. A
// rename moves the file away, so it counts as a delete.
func fsnotifyOpToOperation(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}
