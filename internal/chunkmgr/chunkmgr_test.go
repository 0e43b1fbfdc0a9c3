package chunkmgr

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paradl/internal/control"
	"paradl/internal/engineerr"
	"paradl/internal/udmconfig"
)

func newTarget(t *testing.T) string {
	return filepath.Join(t.TempDir(), "file.bin")
}

func TestBuildFreshSegmentsCoverWholeFile(t *testing.T) {
	m := New()
	target := newTarget(t)
	require.NoError(t, m.Initialize(InitParams{
		TotalSize:       1000,
		SegmentSize:     300,
		MaxSplits:       8,
		OutputPath:      target,
		FileAllocation:  udmconfig.AllocationNone,
		ResumeDownloads: false,
		URLs:            []string{"https://example.com/f"},
	}))
	defer m.Cleanup(true)

	segs := m.Segments()
	require.NotEmpty(t, segs)

	var total int64
	for i, s := range segs {
		assert.Equal(t, i, s.Index)
		assert.LessOrEqual(t, s.StartByte, s.EndByte)
		total += s.FullSize()
		if i > 0 {
			assert.Equal(t, segs[i-1].EndByte+1, s.StartByte, "segments must be contiguous")
		}
	}
	assert.EqualValues(t, 1000, total)
	assert.EqualValues(t, 999, segs[len(segs)-1].EndByte)
}

func TestMaxSplitsBoundedBySegmentSize(t *testing.T) {
	m := New()
	target := newTarget(t)
	require.NoError(t, m.Initialize(InitParams{
		TotalSize:   1000,
		SegmentSize: 600, // only 1 full segment fits at maxSplits granularity
		MaxSplits:   8,
		OutputPath:  target,
	}))
	defer m.Cleanup(true)

	segs := m.Segments()
	assert.Len(t, segs, 1)
}

func TestUpdateSegmentProgressIsASetNotAnAdd(t *testing.T) {
	m := New()
	target := newTarget(t)
	require.NoError(t, m.Initialize(InitParams{
		TotalSize:   100,
		SegmentSize: 50,
		MaxSplits:   2,
		OutputPath:  target,
	}))
	defer m.Cleanup(true)

	m.UpdateSegmentProgress(0, 20)
	assert.EqualValues(t, 20, m.TotalDownloaded())

	// A second report with a larger cumulative value should apply only the
	// delta, not stack the two reports.
	m.UpdateSegmentProgress(0, 35)
	assert.EqualValues(t, 35, m.TotalDownloaded())

	m.UpdateSegmentProgress(1, 10)
	assert.EqualValues(t, 45, m.TotalDownloaded())
}

func TestMarkCompletedClampsToFullSegmentSize(t *testing.T) {
	m := New()
	target := newTarget(t)
	require.NoError(t, m.Initialize(InitParams{
		TotalSize:   100,
		SegmentSize: 50,
		MaxSplits:   2,
		OutputPath:  target,
	}))
	defer m.Cleanup(true)

	m.UpdateSegmentProgress(0, 10)
	require.NoError(t, m.MarkCompleted(0))

	segs := m.Segments()
	assert.Equal(t, control.StatusCompleted, segs[0].Status)
	assert.EqualValues(t, segs[0].FullSize(), segs[0].DownloadedBytes)
	assert.EqualValues(t, 50, m.TotalDownloaded())
}

func TestResumeAdoptsValidRecordAndNormalizesDownloadingToPending(t *testing.T) {
	target := newTarget(t)
	require.NoError(t, os.WriteFile(target, make([]byte, 100), 0o644))

	store := control.New(target)
	require.NoError(t, store.Save(&control.Record{
		Version:    control.CurrentVersion,
		OutputPath: target,
		TotalSize:  100,
		Segments: []control.Segment{
			{Index: 0, StartByte: 0, EndByte: 49, DownloadedBytes: 50, Status: control.StatusCompleted},
			{Index: 1, StartByte: 50, EndByte: 99, DownloadedBytes: 20, Status: control.StatusDownloading},
		},
	}))

	m := New()
	require.NoError(t, m.Initialize(InitParams{
		TotalSize:       100,
		SegmentSize:     50,
		MaxSplits:       2,
		OutputPath:      target,
		ResumeDownloads: true,
	}))
	defer m.Cleanup(true)

	segs := m.Segments()
	assert.Equal(t, control.StatusCompleted, segs[0].Status)
	assert.Equal(t, control.StatusPending, segs[1].Status, "a crashed downloading segment must reload as pending")
	assert.EqualValues(t, 70, m.TotalDownloaded())
}

func TestAlwaysResumeWithoutRecordFailsWithResumeRequired(t *testing.T) {
	target := newTarget(t)
	require.NoError(t, os.WriteFile(target, make([]byte, 100), 0o644))

	m := New()
	err := m.Initialize(InitParams{
		TotalSize:       100,
		SegmentSize:     50,
		MaxSplits:       2,
		OutputPath:      target,
		ResumeDownloads: true,
		AlwaysResume:    true,
	})
	require.Error(t, err)
	assert.True(t, engineerr.Is(err, engineerr.ResumeRequired))
}

func TestAlwaysResumeWithMismatchedSpanFails(t *testing.T) {
	target := newTarget(t)
	store := control.New(target)
	require.NoError(t, store.Save(&control.Record{
		Version:    control.CurrentVersion,
		OutputPath: target,
		TotalSize:  50,
		Segments: []control.Segment{
			{Index: 0, StartByte: 0, EndByte: 49, Status: control.StatusPending},
		},
	}))

	m := New()
	err := m.Initialize(InitParams{
		TotalSize:       100, // differs from the record's 50-byte span
		SegmentSize:     50,
		MaxSplits:       2,
		OutputPath:      target,
		ResumeDownloads: true,
		AlwaysResume:    true,
	})
	require.Error(t, err)
	assert.True(t, engineerr.Is(err, engineerr.ResumeMismatch))
}

func TestAllSegmentsFailedBackoffHelpers(t *testing.T) {
	m := New()
	target := newTarget(t)
	require.NoError(t, m.Initialize(InitParams{
		TotalSize:   100,
		SegmentSize: 50,
		MaxSplits:   2,
		OutputPath:  target,
	}))
	defer m.Cleanup(true)

	m.MarkDownloading(0)
	m.MarkFailed(0)
	m.MarkFailed(1)

	downloading, failed, pending := m.CountByStatus()
	assert.Zero(t, downloading)
	assert.Equal(t, 2, failed)
	assert.Zero(t, pending)

	reset := m.ResetFailedToPending()
	assert.Equal(t, 2, reset)

	_, _, pending = m.CountByStatus()
	assert.Equal(t, 2, pending)
}
