// Package task implements the Download Task: the orchestrator of a single
// download. It probes size and range support, constructs the Chunk Manager,
// dispatches segment fetches through a bounded-concurrency scheduler,
// rotates among mirror URLs, maintains aggregate progress with smoothed
// speed and ETA, honors pause/resume/cancel, and publishes lifecycle
// events.
//
// Grounded on the teacher engine's StartDownload.go (StartDownload /
// Prefetch / executeDownloadStrategy / CheckPreferences) for the start
// sequence, and DownloadMultiStream.go / DownloadSingleStream.go for the
// segmented-vs-single-stream branch.
package task

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"paradl/internal/chunkmgr"
	"paradl/internal/control"
	"paradl/internal/engineerr"
	"paradl/internal/events"
	"paradl/internal/fetcher"
	"paradl/internal/ratelimit"
	"paradl/internal/udmconfig"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusPaused      Status = "paused"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusCancelled   Status = "cancelled"
)

// ProgressSnapshot is the engine's progress data, clamped and zeroed per
// the spec's invariants.
type ProgressSnapshot struct {
	TotalBytes      int64
	DownloadedBytes int64
	Percent         float64
	Speed           float64
	ETA             float64
}

// Info is the observer-facing mapping of a task's current state.
type Info struct {
	ID         string
	URLs       []string
	Filename   string
	OutputPath string
	TotalSize  int64
	Segments   []control.Segment
	Status     Status
	Progress   ProgressSnapshot
	Err        error
	StartTime  *time.Time
	EndTime    *time.Time
}

// Options configures a single download.
type Options struct {
	URLs     []string
	Filename string
	Config   udmconfig.Config
}

// Task orchestrates one download end to end.
type Task struct {
	id   string
	opts Options

	emitter *events.Emitter
	logger  *zap.SugaredLogger

	mu   sync.Mutex
	info Info

	pauseCtl   *pauseController
	cancelled  atomic.Bool
	cancelFunc context.CancelFunc

	chunkMgr *chunkmgr.Manager
	fetcher  *fetcher.Fetcher
	limiter  *ratelimit.Limiter

	progress        *progressTracker
	lastEmitPercent float64
	lastEmitTime    time.Time

	urlIdx atomic.Uint64

	autosaveStop chan struct{}
	autosaveDone chan struct{}
	saving       atomic.Bool
}

const maxAllFailedRounds = 5
const allFailedBackoffBase = 2 * time.Second

// New constructs a Task in the pending state. Call Start to run it.
func New(opts Options, logger *zap.SugaredLogger) *Task {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	id := uuid.NewString()
	t := &Task{
		id:       id,
		opts:     opts,
		emitter:  events.NewEmitter(),
		logger:   logger.With("task", id),
		pauseCtl: newPauseController(),
	}
	t.info = Info{
		ID:     id,
		URLs:   opts.URLs,
		Status: StatusPending,
	}
	t.limiter = ratelimit.New(opts.Config.MaxDownloadSpeed)
	return t
}

func (t *Task) ID() string { return t.id }

// Events exposes the task's event emitter for subscription.
func (t *Task) Events() *events.Emitter { return t.emitter }

// Info returns a snapshot copy of the task's current observable state.
func (t *Task) Info() Info {
	t.mu.Lock()
	defer t.mu.Unlock()
	cp := t.info
	cp.Segments = append([]control.Segment(nil), t.info.Segments...)
	return cp
}

func (t *Task) setStatus(s Status) {
	t.mu.Lock()
	t.info.Status = s
	t.mu.Unlock()
}

// Pause requests the scheduling loop stop dispatching new segments. In-flight
// fetches continue.
func (t *Task) Pause() {
	t.pauseCtl.Pause()
	t.setStatus(StatusPaused)
	t.emitter.Emit(events.Event{Type: events.Pause, TaskID: t.id})
}

// Resume clears the pause flag.
func (t *Task) Resume() {
	t.pauseCtl.Resume()
	t.setStatus(StatusDownloading)
	t.emitter.Emit(events.Event{Type: events.Resume, TaskID: t.id})
}

// Cancel trips the abort flag and cancels the task's context, aborting
// in-flight fetches.
func (t *Task) Cancel() {
	if !t.cancelled.CompareAndSwap(false, true) {
		return
	}
	if t.cancelFunc != nil {
		t.cancelFunc()
	}
}

func (t *Task) isCancelled() bool { return t.cancelled.Load() }

// Start runs the task's full lifecycle synchronously: probe, plan, dispatch,
// and finalize. The Downloader runs this in its own scheduler slot.
func (t *Task) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	t.cancelFunc = cancel
	defer cancel()

	now := time.Now()
	t.mu.Lock()
	t.info.Status = StatusDownloading
	t.info.StartTime = &now
	t.mu.Unlock()
	t.progress = newProgressTracker(now)

	err := t.run(ctx)
	if err != nil {
		t.fail(err)
		return err
	}
	return nil
}

func (t *Task) fail(err error) {
	t.mu.Lock()
	t.info.Status = StatusFailed
	t.info.Err = err
	now := time.Now()
	t.info.EndTime = &now
	t.mu.Unlock()

	if t.chunkMgr != nil {
		t.stopAutosave()
		_ = t.chunkMgr.SaveProgress()
		_ = t.chunkMgr.Cleanup(false)
	}
	t.logger.Warnw("download failed", "err", err)
	t.emitter.Emit(events.Event{Type: events.Error, TaskID: t.id, Data: err})
}

func (t *Task) run(ctx context.Context) error {
	if len(t.opts.URLs) == 0 {
		return engineerr.New(engineerr.NoUrls, errors.New("no URLs provided"))
	}

	cfg := t.opts.Config
	f := fetcher.New(fetcher.Config{
		Timeout:    cfg.Timeout,
		Retries:    cfg.Retries,
		RetryDelay: cfg.RetryDelay,
		Headers:    cfg.Headers,
	}, t.onRedirect, t.logger)
	t.fetcher = f

	firstURL := t.opts.URLs[0]
	size, err := f.ProbeSize(ctx, firstURL)
	if err != nil {
		return err
	}

	filename := t.opts.Filename
	if filename == "" {
		filename = fetcher.FilenameFromURL(firstURL)
	}
	outputDir := cfg.OutputDirectory
	if outputDir == "" {
		outputDir = "."
	}
	outputPath := filepath.Join(outputDir, filename)

	t.mu.Lock()
	t.info.Filename = filename
	t.info.OutputPath = outputPath
	t.info.TotalSize = size
	t.mu.Unlock()

	t.chunkMgr = chunkmgr.New()
	if err := t.chunkMgr.Initialize(chunkmgr.InitParams{
		TotalSize:       size,
		SegmentSize:     cfg.SegmentSize,
		MaxSplits:       cfg.Split,
		OutputPath:      outputPath,
		FileAllocation:  cfg.FileAllocation,
		ResumeDownloads: cfg.ResumeDownloads,
		AlwaysResume:    cfg.AlwaysResume,
		URLs:            t.opts.URLs,
	}); err != nil {
		return err
	}

	t.startAutosave(cfg.AutoSaveInterval, cfg.ResumeDownloads)

	t.mu.Lock()
	t.info.Segments = t.chunkMgr.Segments()
	t.mu.Unlock()
	t.emitter.Emit(events.Event{Type: events.Start, TaskID: t.id})

	rangeSupported := f.ProbeRangeSupport(ctx, firstURL)

	var runErr error
	if !rangeSupported {
		runErr = t.runSingleStream(ctx)
	} else {
		runErr = t.runSegmented(ctx)
	}

	t.stopAutosave()

	if t.isCancelled() {
		_ = t.chunkMgr.SaveProgress()
		_ = t.chunkMgr.Cleanup(false)
		t.mu.Lock()
		t.info.Status = StatusCancelled
		now := time.Now()
		t.info.EndTime = &now
		t.mu.Unlock()
		t.emitter.Emit(events.Event{Type: events.Cancel, TaskID: t.id})
		return nil
	}

	if runErr != nil {
		_ = t.chunkMgr.Cleanup(false)
		return runErr
	}

	t.emitProgress(true)
	t.mu.Lock()
	t.info.Status = StatusCompleted
	now := time.Now()
	t.info.EndTime = &now
	t.info.Segments = t.chunkMgr.Segments()
	t.mu.Unlock()

	if err := t.chunkMgr.Cleanup(true); err != nil {
		t.logger.Warnw("cleanup after completion failed", "err", err)
	}
	t.emitter.Emit(events.Event{Type: events.Complete, TaskID: t.id})
	return nil
}

func (t *Task) onRedirect(from, to string) {
	t.emitter.Emit(events.Event{Type: events.Redirect, TaskID: t.id, Data: events.RedirectData{From: from, To: to}})
}

func (t *Task) nextURL() string {
	urls := t.opts.URLs
	i := t.urlIdx.Add(1) - 1
	return urls[int(i%uint64(len(urls)))]
}

// runSingleStream handles the no-range-support path: the whole body is
// fetched in one request and streamed through segment 0's writeChunkAt,
// starting at that segment's existing downloadedBytes. On success every
// segment of the layout is marked completed, since the one stream covered
// them all.
func (t *Task) runSingleStream(ctx context.Context) error {
	idx := 0
	t.chunkMgr.MarkDownloading(idx)
	segs := t.chunkMgr.Segments()
	base := segs[idx].DownloadedBytes
	offset := base

	writeChunk := func(chunk []byte) error {
		if err := t.limiter.WaitN(ctx, len(chunk)); err != nil {
			return err
		}
		if err := t.chunkMgr.WriteChunkAt(idx, offset, chunk); err != nil {
			return err
		}
		offset += int64(len(chunk))
		return nil
	}
	reportBytes := func(cumulative int64) {
		t.chunkMgr.UpdateSegmentProgress(idx, base+cumulative)
		t.emitProgress(false)
	}

	url := t.opts.URLs[0]
	err := t.fetcher.FetchFull(ctx, url, writeChunk, reportBytes)
	if err != nil {
		if t.isCancelled() || engineerr.Is(err, engineerr.Cancelled) {
			return nil
		}
		t.chunkMgr.MarkFailed(idx)
		t.emitter.Emit(events.Event{Type: events.SegmentError, TaskID: t.id, Data: events.SegmentData{Index: idx, Err: err}})
		return err
	}

	for i := range segs {
		if err := t.chunkMgr.MarkCompleted(i); err != nil {
			return err
		}
	}
	t.emitter.Emit(events.Event{Type: events.SegmentComplete, TaskID: t.id, Data: events.SegmentData{Index: idx}})
	return nil
}

// runSegmented drains pending segments into a bounded-concurrency scheduler,
// dispatching each to a mirror URL in round-robin order, until the Chunk
// Manager reports all segments complete or the task is cancelled.
func (t *Task) runSegmented(ctx context.Context) error {
	maxConn := t.opts.Config.MaxConnectionsPerServer
	if maxConn <= 0 {
		maxConn = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConn)

	failedRounds := 0

	for {
		if t.isCancelled() || ctx.Err() != nil {
			break
		}
		if err := t.waitIfPaused(ctx); err != nil {
			break
		}
		if t.chunkMgr.AllCompleted() {
			break
		}

		idx, ok := t.chunkMgr.GetNextPending()
		if !ok {
			downloading, failed, pending := t.chunkMgr.CountByStatus()
			if downloading > 0 {
				// in-flight work remains; wait briefly for it to progress
				select {
				case <-ctx.Done():
				case <-time.After(100 * time.Millisecond):
				}
				continue
			}
			if pending == 0 && failed > 0 {
				// every remaining segment has exhausted its fetcher retry
				// budget: back off and give them another round rather than
				// stalling forever (resolves the "all segments failed" open
				// question).
				if failedRounds >= maxAllFailedRounds {
					// downloading == 0 here, so every dispatched fetch has
					// already returned; g.Wait() surfaces any of their errors
					// instead of masking them with AllSegmentsFailed.
					if err := g.Wait(); err != nil {
						return err
					}
					return engineerr.New(engineerr.AllSegmentsFailed, fmt.Errorf("%d segments failed after %d retry rounds", failed, failedRounds))
				}
				backoff := allFailedBackoffBase * time.Duration(1<<uint(failedRounds))
				select {
				case <-ctx.Done():
				case <-time.After(backoff):
				}
				t.chunkMgr.ResetFailedToPending()
				failedRounds++
				continue
			}
			// nothing pending, nothing downloading, nothing failed: done
			break
		}

		t.chunkMgr.MarkDownloading(idx)
		url := t.nextURL()
		segs := t.chunkMgr.Segments()
		seg := segs[idx]

		g.Go(func() error {
			return t.fetchSegment(ctx, idx, seg, url)
		})

		if gctx.Err() != nil {
			break
		}
	}

	waitErr := g.Wait()

	t.mu.Lock()
	t.info.Segments = t.chunkMgr.Segments()
	t.mu.Unlock()

	if t.isCancelled() {
		return nil
	}
	if waitErr != nil {
		return waitErr
	}
	if !t.chunkMgr.AllCompleted() {
		return engineerr.New(engineerr.AllSegmentsFailed, errors.New("download loop exited without completing all segments"))
	}
	return nil
}

func (t *Task) waitIfPaused(ctx context.Context) error {
	for t.pauseCtl.IsPaused() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.pauseCtl.notify():
		case <-time.After(100 * time.Millisecond):
		}
		if t.isCancelled() {
			return ctx.Err()
		}
	}
	return nil
}

func (t *Task) fetchSegment(ctx context.Context, i int, seg control.Segment, url string) error {
	t.emitter.Emit(events.Event{Type: events.SegmentStart, TaskID: t.id, Data: events.SegmentData{Index: i, StartByte: seg.StartByte, EndByte: seg.EndByte}})

	base := seg.DownloadedBytes
	offset := base
	startByte := seg.StartByte + base

	writeChunk := func(chunk []byte) error {
		if err := t.limiter.WaitN(ctx, len(chunk)); err != nil {
			return err
		}
		if err := t.chunkMgr.WriteChunkAt(i, offset, chunk); err != nil {
			return err
		}
		offset += int64(len(chunk))
		return nil
	}
	reportBytes := func(cumulative int64) {
		t.chunkMgr.UpdateSegmentProgress(i, base+cumulative)
		t.emitProgress(false)
	}

	err := t.fetcher.FetchRange(ctx, url, startByte, seg.EndByte, writeChunk, reportBytes)
	if err != nil {
		if t.isCancelled() || engineerr.Is(err, engineerr.Cancelled) {
			return nil
		}
		t.chunkMgr.MarkFailed(i)
		t.emitter.Emit(events.Event{Type: events.SegmentError, TaskID: t.id, Data: events.SegmentData{Index: i, Err: err}})
		return nil // segment failures don't abort the task; see runSegmented
	}

	if err := t.chunkMgr.MarkCompleted(i); err != nil {
		return err
	}
	bytesWritten := offset - base
	t.emitter.Emit(events.Event{Type: events.SegmentComplete, TaskID: t.id, Data: events.SegmentData{Index: i, StartByte: seg.StartByte, EndByte: seg.EndByte, BytesWritten: bytesWritten}})
	return nil
}

// emitProgress recomputes aggregate progress and publishes a Progress event
// when forced, or the percent has moved by >=1, or >=1000ms have elapsed
// since the last emission.
func (t *Task) emitProgress(forced bool) {
	now := time.Now()
	downloaded := t.chunkMgr.TotalDownloaded()
	total := t.chunkMgr.TotalSize()

	t.progress.sample(now, downloaded)
	speed := t.progress.speed()
	snap := snapshot(total, downloaded, speed)

	t.mu.Lock()
	t.info.Progress = ProgressSnapshot(snap)
	shouldEmit := forced ||
		abs(snap.Percent-t.lastEmitPercent) >= 1 ||
		now.Sub(t.lastEmitTime) >= time.Second
	if shouldEmit {
		t.lastEmitPercent = snap.Percent
		t.lastEmitTime = now
	}
	t.mu.Unlock()

	if shouldEmit {
		t.emitter.Emit(events.Event{Type: events.Progress, TaskID: t.id, Data: events.ProgressData{
			TotalBytes:      snap.TotalBytes,
			DownloadedBytes: snap.DownloadedBytes,
			Percent:         snap.Percent,
			Speed:           snap.Speed,
			ETA:             snap.ETA,
		}})
	}
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func (t *Task) startAutosave(interval time.Duration, enabled bool) {
	if !enabled || interval <= 0 {
		return
	}
	t.autosaveStop = make(chan struct{})
	t.autosaveDone = make(chan struct{})
	go func() {
		defer close(t.autosaveDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.autosaveStop:
				return
			case <-ticker.C:
				if t.saving.CompareAndSwap(false, true) {
					if err := t.chunkMgr.SaveProgress(); err != nil {
						t.logger.Warnw("autosave failed", "err", err)
					}
					t.saving.Store(false)
				}
			}
		}
	}()
}

func (t *Task) stopAutosave() {
	if t.autosaveStop == nil {
		return
	}
	close(t.autosaveStop)
	<-t.autosaveDone
	t.autosaveStop = nil
}
