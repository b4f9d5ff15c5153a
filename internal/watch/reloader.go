// Package watch hot-reloads a checkpoint file into a live state tree.
//
// The Reloader watches the file's directory, debounces bursts of events and
// then decodes the file and loads it into the target tree. Loads are
// partial, so a checkpoint that only covers part of the model (or was
// written by a slightly different architecture) still updates what it can.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/born-ml/statetree/internal/loader"
	"github.com/born-ml/statetree/internal/metrics"
	"github.com/born-ml/statetree/internal/selector"
	"github.com/born-ml/statetree/internal/serialization"
	"github.com/born-ml/statetree/internal/state"
	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period after the last file event before a
// reload starts.
const DefaultDebounce = 500 * time.Millisecond

// Result describes one reload attempt.
type Result struct {
	Path     string
	Stats    state.LoadStats
	RunID    string
	Duration time.Duration
	Err      error
}

// Reloader keeps a target tree in sync with a checkpoint file.
type Reloader struct {
	path     string
	target   *state.Tree
	mapper   loader.Mapper
	selector *selector.Selector
	readOpts serialization.ReaderOptions
	debounce time.Duration
	recorder metrics.Recorder
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	mu       sync.Mutex // serializes reloads
	trigger  chan struct{}
	results  chan Result
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Reloader.
type Option func(*Reloader)

// WithDebounce sets the quiet period before a reload.
func WithDebounce(d time.Duration) Option {
	return func(r *Reloader) {
		if d > 0 {
			r.debounce = d
		}
	}
}

// WithRecorder reports reloads and loads to rec.
func WithRecorder(rec metrics.Recorder) Option {
	return func(r *Reloader) {
		if rec != nil {
			r.recorder = rec
		}
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Reloader) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithMapper renames checkpoint keys before they are matched against the
// target. The selector, if any, sees the renamed keys.
func WithMapper(m loader.Mapper) Option {
	return func(r *Reloader) {
		r.mapper = m
	}
}

// WithSelector restricts reloads to the leaves sel matches.
func WithSelector(sel *selector.Selector) Option {
	return func(r *Reloader) {
		r.selector = sel
	}
}

// WithReaderOptions sets checkpoint validation options.
func WithReaderOptions(opts serialization.ReaderOptions) Option {
	return func(r *Reloader) {
		r.readOpts = opts
	}
}

// New creates a Reloader for the checkpoint at path. Nothing is watched
// until Start.
func New(path string, target *state.Tree, opts ...Option) (*Reloader, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve checkpoint path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	r := &Reloader{
		path:     absPath,
		target:   target,
		debounce: DefaultDebounce,
		recorder: metrics.NoopRecorder{},
		logger:   slog.Default(),
		watcher:  watcher,
		trigger:  make(chan struct{}, 1),
		results:  make(chan Result, 16),
		stopChan: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reloads delivers the result of every reload triggered by a file event.
// Results are dropped while the channel is full. The channel is closed by
// Stop.
func (r *Reloader) Reloads() <-chan Result {
	return r.results
}

// Start begins watching. The directory is watched rather than the file so
// that atomic replacements are seen.
func (r *Reloader) Start(ctx context.Context) error {
	dir := filepath.Dir(r.path)
	if err := r.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch checkpoint directory %s: %w", dir, err)
	}

	r.logger.Info("Starting checkpoint watcher", "path", r.path, "debounce", r.debounce)

	r.wg.Add(2)
	go r.watchLoop(ctx)
	go r.reloadLoop(ctx)
	return nil
}

// Stop ends watching and waits for an in-flight reload to finish.
func (r *Reloader) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stopChan)
		err = r.watcher.Close()
		r.wg.Wait()
		close(r.results)
		r.logger.Info("Stopped checkpoint watcher", "path", r.path)
	})
	return err
}

func (r *Reloader) watchLoop(ctx context.Context) {
	defer r.wg.Done()
	name := filepath.Base(r.path)

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			switch {
			case event.Has(fsnotify.Write), event.Has(fsnotify.Create), event.Has(fsnotify.Rename):
				r.logger.Debug("Checkpoint change detected", "file", event.Name, "op", event.Op.String())
				r.triggerReload()
			case event.Has(fsnotify.Remove):
				r.logger.Warn("Checkpoint file removed", "file", event.Name)
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("Checkpoint watcher error", "error", err)
		}
	}
}

func (r *Reloader) triggerReload() {
	select {
	case r.trigger <- struct{}{}:
	default:
		// Reload already pending
	}
}

// reloadLoop runs reloads on its own goroutine, one at a time, after the
// debounce period has passed without new events.
func (r *Reloader) reloadLoop(ctx context.Context) {
	defer r.wg.Done()
	timer := time.NewTimer(r.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stopChan:
			return
		case <-r.trigger:
			timer.Reset(r.debounce)
		case <-timer.C:
			res := r.ReloadNow()
			select {
			case r.results <- res:
			default:
				r.logger.Warn("Dropping reload result, consumer is behind", "path", r.path)
			}
		}
	}
}

// ReloadNow reads the checkpoint and loads it into the target immediately.
func (r *Reloader) ReloadNow() Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	res := Result{Path: r.path}
	res.Stats, res.RunID, res.Err = r.reload()
	res.Duration = time.Since(start)

	r.recorder.IncReload(metrics.Result(res.Err == nil))
	if res.Err != nil {
		r.logger.Error("Failed to reload checkpoint", "path", r.path, "error", res.Err)
		return res
	}
	r.recorder.ObserveLoad("watch", res.Stats, res.Duration)
	r.logger.Info("Checkpoint reloaded",
		"path", r.path,
		"run_id", res.RunID,
		"copied", res.Stats.Copied,
		"skipped", res.Stats.Skipped,
		"incompatible", res.Stats.Incompatible,
		"duration", res.Duration)
	return res
}

func (r *Reloader) reload() (state.LoadStats, string, error) {
	ckpt, err := serialization.Read(r.path, r.readOpts)
	if err != nil {
		return state.LoadStats{}, "", err
	}
	src := ckpt.Tree
	if r.mapper != nil {
		if src, err = loader.Remap(src, r.mapper); err != nil {
			return state.LoadStats{}, "", err
		}
	}
	if r.selector != nil {
		if src, err = r.selector.Select(src); err != nil {
			return state.LoadStats{}, "", err
		}
	}
	return r.target.LoadWithStats(src), ckpt.Header.RunID, nil
}
