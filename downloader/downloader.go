// Package downloader is the engine's top-level coordinator: it owns a
// registry of tasks, bounds how many may run concurrently across the whole
// process (separate from each task's own per-server connection limit), and
// forwards every task's events to listeners registered on the Downloader
// itself.
//
// Grounded on the teacher engine's Downloader/DownloaderGetters.go
// (task registry, GetAllDownloads) and StartDownload.go's top-level
// scheduling, with the teacher's ad hoc goroutine-counting replaced by
// golang.org/x/sync/semaphore.
package downloader

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"paradl/internal/events"
	"paradl/internal/task"
	"paradl/internal/udmconfig"
)

// Config bounds the Downloader's process-wide concurrency.
type Config struct {
	MaxConcurrentDownloads int
}

// Downloader is the engine's process-wide entry point.
type Downloader struct {
	cfg    Config
	logger *zap.SugaredLogger

	sem *semaphore.Weighted

	mu    sync.Mutex
	tasks map[string]*task.Task

	emitter *events.Emitter
}

// New constructs a Downloader. logger may be nil.
func New(cfg Config, logger *zap.SugaredLogger) *Downloader {
	if cfg.MaxConcurrentDownloads <= 0 {
		cfg.MaxConcurrentDownloads = 3
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Downloader{
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		tasks:   make(map[string]*task.Task),
		emitter: events.NewEmitter(),
	}
}

// Events exposes the Downloader's own emitter, to which every task's events
// are forwarded.
func (d *Downloader) Events() *events.Emitter { return d.emitter }

// Download registers a new task for urls and starts it in its own goroutine,
// bounded by the Downloader's MaxConcurrentDownloads semaphore. It returns
// immediately with the task's id; observe progress via Events or Info.
func (d *Downloader) Download(ctx context.Context, urls []string, filename string, cfg udmconfig.Config) (string, error) {
	t := task.New(task.Options{URLs: urls, Filename: filename, Config: cfg}, d.logger)

	d.mu.Lock()
	d.tasks[t.ID()] = t
	d.mu.Unlock()

	t.Events().OnAny(func(ev events.Event) {
		d.emitter.Emit(ev)
	})

	go func() {
		defer d.release(t.ID())
		if err := d.sem.Acquire(ctx, 1); err != nil {
			return
		}
		defer d.sem.Release(1)
		if err := t.Start(ctx); err != nil {
			d.logger.Warnw("task finished with error", "task", t.ID(), "err", err)
		}
	}()

	return t.ID(), nil
}

// DownloadAndWait starts a download and blocks until it finishes, returning
// its final Info.
func (d *Downloader) DownloadAndWait(ctx context.Context, urls []string, filename string, cfg udmconfig.Config) (task.Info, error) {
	t := task.New(task.Options{URLs: urls, Filename: filename, Config: cfg}, d.logger)

	d.mu.Lock()
	d.tasks[t.ID()] = t
	d.mu.Unlock()

	t.Events().OnAny(func(ev events.Event) {
		d.emitter.Emit(ev)
	})

	defer d.release(t.ID())

	if err := d.sem.Acquire(ctx, 1); err != nil {
		return task.Info{}, err
	}
	defer d.sem.Release(1)

	err := t.Start(ctx)
	return t.Info(), err
}

// release removes id from the registry once its task's scheduled job has
// finished, per the engine's ownership contract: the Downloader owns a task
// only until completion.
func (d *Downloader) release(id string) {
	d.mu.Lock()
	delete(d.tasks, id)
	d.mu.Unlock()
}

// Get returns a registered task by id.
func (d *Downloader) Get(id string) (*task.Task, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	t, ok := d.tasks[id]
	return t, ok
}

// All returns Info for every registered task.
func (d *Downloader) All() []task.Info {
	d.mu.Lock()
	ts := make([]*task.Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		ts = append(ts, t)
	}
	d.mu.Unlock()

	infos := make([]task.Info, len(ts))
	for i, t := range ts {
		infos[i] = t.Info()
	}
	return infos
}

// Pause pauses a single task.
func (d *Downloader) Pause(id string) error {
	t, ok := d.Get(id)
	if !ok {
		return fmt.Errorf("downloader: unknown task %q", id)
	}
	t.Pause()
	return nil
}

// Resume resumes a single task.
func (d *Downloader) Resume(id string) error {
	t, ok := d.Get(id)
	if !ok {
		return fmt.Errorf("downloader: unknown task %q", id)
	}
	t.Resume()
	return nil
}

// Cancel cancels a single task.
func (d *Downloader) Cancel(id string) error {
	t, ok := d.Get(id)
	if !ok {
		return fmt.Errorf("downloader: unknown task %q", id)
	}
	t.Cancel()
	return nil
}

// PauseAll pauses every registered task.
func (d *Downloader) PauseAll() {
	for _, t := range d.snapshot() {
		t.Pause()
	}
}

// ResumeAll resumes every registered task.
func (d *Downloader) ResumeAll() {
	for _, t := range d.snapshot() {
		t.Resume()
	}
}

// CancelAll cancels every registered task, used on interrupt so in-flight
// sidecars are flushed before the process exits.
func (d *Downloader) CancelAll() {
	for _, t := range d.snapshot() {
		t.Cancel()
	}
}

func (d *Downloader) snapshot() []*task.Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	ts := make([]*task.Task, 0, len(d.tasks))
	for _, t := range d.tasks {
		ts = append(ts, t)
	}
	return ts
}
