// Package chunkmgr is the segmentation and resume-reconciliation authority:
// it computes the initial segment layout, reconciles a loaded control
// record against the current target size, tracks per-segment status and
// byte counters, mediates all writes through the File Writer, and triggers
// persistence into the Control Store.
//
// Grounded on the teacher engine's DivideChunks.go (nominal-width
// segmentation, clamped last segment) and the ChunkManager/initializeChunks
// shape in DownloadMultiStream.go, generalized from a fixed thread count to
// the split/segmentSize formula and extended with control-record
// reconciliation the teacher never needed (it resumes by inspecting leftover
// partial chunk files rather than a structured sidecar).
package chunkmgr

import (
	"sync"
	"time"

	"paradl/internal/control"
	"paradl/internal/engineerr"
	"paradl/internal/filewriter"
	"paradl/internal/udmconfig"
)

// InitParams are the inputs to Initialize, mirroring the spec's Chunk
// Manager initialization inputs exactly.
type InitParams struct {
	TotalSize       int64
	SegmentSize     int64
	MaxSplits       int
	OutputPath      string
	FileAllocation  udmconfig.Allocation
	ResumeDownloads bool
	AlwaysResume    bool
	URLs            []string
}

// Manager is a single task's segmentation authority. Its counters and
// segment slice are mutated under mu because, unlike the cooperative
// single-threaded runtime the spec assumes, segment fetches here run as
// concurrent goroutines - the engine supplies the mutual exclusion the spec
// calls for hosts using OS threads to provide.
type Manager struct {
	mu sync.Mutex

	segments  []control.Segment
	totalSize int64
	totalDone int64 // task-wide aggregate downloaded bytes

	writer *filewriter.Writer
	store  *control.Store

	resumeEnabled bool
	outputPath    string
	filename      string
	urls          []string
	createdAt     time.Time
}

// New constructs a Manager; call Initialize before using it.
func New() *Manager {
	return &Manager{}
}

// Initialize opens the output file and establishes the segment layout,
// either adopted from a resumable control record or computed fresh. The
// output file is probed and the control record loaded before the writer
// opens the file, so a ResumeRequired failure leaves the file untouched.
func (m *Manager) Initialize(p InitParams) error {
	exists, size := filewriter.Exists(p.OutputPath)

	m.store = control.New(p.OutputPath)
	m.resumeEnabled = p.ResumeDownloads
	m.outputPath = p.OutputPath
	m.urls = p.URLs
	m.totalSize = p.TotalSize

	var rec *control.Record
	var haveRecord bool
	if p.ResumeDownloads {
		rec, haveRecord = m.store.Load()
	}

	if p.ResumeDownloads && p.AlwaysResume && exists && size > 0 && !haveRecord {
		return engineerr.New(engineerr.ResumeRequired, errResumeRequired)
	}

	writer, err := filewriter.Open(p.OutputPath, p.TotalSize, p.FileAllocation)
	if err != nil {
		return engineerr.New(engineerr.IO, err)
	}
	m.writer = writer

	if haveRecord && len(rec.Segments) > 0 {
		spanTotal := spanOf(rec.Segments)
		if spanTotal != p.TotalSize {
			if p.AlwaysResume {
				writer.Close()
				return engineerr.New(engineerr.ResumeMismatch, errResumeMismatch)
			}
			m.buildFresh(p.TotalSize, p.SegmentSize, p.MaxSplits)
		} else {
			m.adopt(rec)
		}
	} else {
		m.buildFresh(p.TotalSize, p.SegmentSize, p.MaxSplits)
	}

	if m.filename == "" {
		m.filename = basename(p.OutputPath)
	}
	if m.createdAt.IsZero() {
		m.createdAt = time.Now()
	}

	if m.resumeEnabled {
		if err := m.saveLocked(); err != nil {
			return engineerr.New(engineerr.IO, err)
		}
	}
	return nil
}

// adopt normalizes a loaded record's segments: downloadedBytes is clamped to
// [0, fullSize], and status becomes completed when the clamped value equals
// fullSize, else pending - any downloading state from a crashed run becomes
// pending.
func (m *Manager) adopt(rec *control.Record) {
	segs := make([]control.Segment, len(rec.Segments))
	var total int64
	for i, s := range rec.Segments {
		full := s.FullSize()
		if s.DownloadedBytes < 0 {
			s.DownloadedBytes = 0
		}
		if s.DownloadedBytes > full {
			s.DownloadedBytes = full
		}
		if s.DownloadedBytes == full {
			s.Status = control.StatusCompleted
		} else {
			s.Status = control.StatusPending
		}
		segs[i] = s
		total += s.DownloadedBytes
	}
	m.segments = segs
	m.totalDone = total
	if m.totalDone > m.totalSize {
		m.totalDone = m.totalSize
	}
	m.filename = rec.Filename
	m.urls = rec.URLs
	m.createdAt = rec.CreatedAt
}

// buildFresh computes the initial segment layout per the spec's formula.
func (m *Manager) buildFresh(totalSize, segmentSize int64, maxSplits int) {
	if segmentSize <= 0 {
		segmentSize = 1
	}
	maxSegmentsBySize := totalSize / segmentSize
	if maxSegmentsBySize < 1 {
		maxSegmentsBySize = 1
	}
	target := maxSplits
	if target <= 0 || int64(target) > maxSegmentsBySize {
		target = int(maxSegmentsBySize)
	}
	if target < 1 {
		target = 1
	}

	width := (totalSize + int64(target) - 1) / int64(target) // ceil
	segs := make([]control.Segment, 0, target)
	var start int64
	for i := 0; start < totalSize; i++ {
		end := start + width - 1
		if end > totalSize-1 {
			end = totalSize - 1
		}
		segs = append(segs, control.Segment{
			Index:     i,
			StartByte: start,
			EndByte:   end,
			Status:    control.StatusPending,
		})
		start = end + 1
	}
	m.segments = segs
	m.totalDone = 0
}

func spanOf(segs []control.Segment) int64 {
	if len(segs) == 0 {
		return 0
	}
	return segs[len(segs)-1].EndByte + 1
}

func basename(p string) string {
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '/' || p[i] == '\\' {
			return p[i+1:]
		}
	}
	return p
}

// Segments returns a copy of the current segment slice.
func (m *Manager) Segments() []control.Segment {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]control.Segment, len(m.segments))
	copy(out, m.segments)
	return out
}

// TotalSize returns the target's total byte size.
func (m *Manager) TotalSize() int64 { return m.totalSize }

// TotalDownloaded returns the task-wide aggregate downloaded byte count.
func (m *Manager) TotalDownloaded() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalDone
}

// GetNextPending returns the first pending segment's index, in ascending
// index order.
func (m *Manager) GetNextPending() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.segments {
		if m.segments[i].Status == control.StatusPending {
			return i, true
		}
	}
	return 0, false
}

// MarkDownloading transitions segment i to downloading.
func (m *Manager) MarkDownloading(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[i].Status = control.StatusDownloading
}

// MarkFailed transitions segment i to failed.
func (m *Manager) MarkFailed(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.segments[i].Status = control.StatusFailed
}

// MarkCompleted sets segment i to completed, brings its downloadedBytes up
// to the segment's full size, folds any residual delta into the task total,
// and persists the updated record.
func (m *Manager) MarkCompleted(i int) error {
	m.mu.Lock()
	seg := &m.segments[i]
	full := seg.FullSize()
	delta := full - seg.DownloadedBytes
	seg.DownloadedBytes = full
	seg.Status = control.StatusCompleted
	m.applyDeltaLocked(delta)
	err := m.saveIfEnabledLocked()
	m.mu.Unlock()
	return err
}

// WriteChunkAt computes segment i's absolute file position and forwards the
// write to the File Writer. It does not mutate any counters.
func (m *Manager) WriteChunkAt(i int, offsetWithinSegment int64, data []byte) error {
	m.mu.Lock()
	pos := m.segments[i].StartByte + offsetWithinSegment
	writer := m.writer
	m.mu.Unlock()
	_, err := writer.WriteAt(pos, data)
	if err != nil {
		return engineerr.New(engineerr.IO, err)
	}
	return nil
}

// UpdateSegmentProgress sets segment i's downloadedBytes to the supplied
// cumulative value (a set, not an add - the caller already folded in the
// segment's pre-existing base) and applies the resulting delta to the
// task-wide counter.
func (m *Manager) UpdateSegmentProgress(i int, cumulativeForSegment int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seg := &m.segments[i]
	delta := cumulativeForSegment - seg.DownloadedBytes
	seg.DownloadedBytes = cumulativeForSegment
	m.applyDeltaLocked(delta)
}

func (m *Manager) applyDeltaLocked(delta int64) {
	m.totalDone += delta
	if m.totalDone < 0 {
		m.totalDone = 0
	}
	if m.totalDone > m.totalSize {
		m.totalDone = m.totalSize
	}
}

// AllCompleted reports whether every segment is completed.
func (m *Manager) AllCompleted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.segments {
		if s.Status != control.StatusCompleted {
			return false
		}
	}
	return true
}

// CountByStatus returns how many segments are currently downloading, failed
// and pending, used by the task scheduler to detect an all-failed stall.
func (m *Manager) CountByStatus() (downloading, failed, pending int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.segments {
		switch s.Status {
		case control.StatusDownloading:
			downloading++
		case control.StatusFailed:
			failed++
		case control.StatusPending:
			pending++
		}
	}
	return
}

// ResetFailedToPending resets every failed segment back to pending, part of
// the back-off-and-retry policy for the "all remaining segments failed"
// open question. It returns the number of segments reset.
func (m *Manager) ResetFailedToPending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for i := range m.segments {
		if m.segments[i].Status == control.StatusFailed {
			m.segments[i].Status = control.StatusPending
			n++
		}
	}
	return n
}

// SaveProgress writes the current record to the control store, if resume is
// enabled.
func (m *Manager) SaveProgress() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveIfEnabledLocked()
}

func (m *Manager) saveIfEnabledLocked() error {
	if !m.resumeEnabled {
		return nil
	}
	return m.saveLocked()
}

func (m *Manager) saveLocked() error {
	rec := &control.Record{
		Version:      control.CurrentVersion,
		URLs:         m.urls,
		Filename:     m.filename,
		OutputPath:   m.outputPath,
		TotalSize:    m.totalSize,
		Segments:     append([]control.Segment(nil), m.segments...),
		CreatedAt:    m.createdAt,
		LastModified: time.Now(),
	}
	return m.store.Save(rec)
}

// Cleanup closes the writer and, on success with resume enabled, deletes the
// control file.
func (m *Manager) Cleanup(success bool) error {
	m.mu.Lock()
	writer := m.writer
	m.mu.Unlock()

	var closeErr error
	if writer != nil {
		closeErr = writer.Close()
	}
	if success && m.resumeEnabled {
		if err := m.store.Delete(); err != nil {
			return err
		}
	}
	return closeErr
}

// ControlPath exposes the sidecar's path, used by the CLI to locate a
// most-recently-modified sidecar for a candidate resume target.
func (m *Manager) ControlPath() string { return m.store.Path() }

var (
	errResumeRequired = sentinelErr("alwaysResume set and output file exists with no valid control record")
	errResumeMismatch = sentinelErr("alwaysResume set and control record's segment span does not match current total size")
)

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
