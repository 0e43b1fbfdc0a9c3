package task

import "time"

const speedRingSize = 10

// progressTracker smooths instantaneous throughput over a ring of the last
// 10 samples and derives ETA, grounded on the teacher engine's
// monitorMultiStreamProgress polling-and-diffing pattern
// (DownloadMultiStream.go), generalized from one instantaneous sample to a
// moving average per the spec.
type progressTracker struct {
	startTime time.Time

	lastSampleTime  time.Time
	lastSampleBytes int64

	ring  [speedRingSize]float64
	count int
	idx   int
}

func newProgressTracker(start time.Time) *progressTracker {
	return &progressTracker{startTime: start, lastSampleTime: start}
}

// sample pushes a new instantaneous-speed reading (downloaded bytes this
// interval / elapsed ms of this interval * 1000) onto the ring.
func (p *progressTracker) sample(now time.Time, downloaded int64) {
	dt := now.Sub(p.lastSampleTime)
	if dt <= 0 {
		return
	}
	delta := downloaded - p.lastSampleBytes
	instantaneous := float64(delta) / dt.Seconds()

	p.ring[p.idx] = instantaneous
	p.idx = (p.idx + 1) % speedRingSize
	if p.count < speedRingSize {
		p.count++
	}

	p.lastSampleTime = now
	p.lastSampleBytes = downloaded
}

// speed returns the moving average of recorded samples, or 0 if none.
func (p *progressTracker) speed() float64 {
	if p.count == 0 {
		return 0
	}
	var sum float64
	for i := 0; i < p.count; i++ {
		sum += p.ring[i]
	}
	return sum / float64(p.count)
}

// Snapshot computes a ProgressSnapshot for the given aggregate state.
func snapshot(totalBytes, downloadedBytes int64, speed float64) ProgressSnapshot {
	if downloadedBytes > totalBytes {
		downloadedBytes = totalBytes
	}
	var percent float64
	if totalBytes > 0 {
		percent = 100 * float64(downloadedBytes) / float64(totalBytes)
	}
	if percent > 100 {
		percent = 100
	}
	var eta float64
	done := totalBytes > 0 && downloadedBytes >= totalBytes
	if done {
		speed = 0
	} else if speed > 0 {
		remaining := totalBytes - downloadedBytes
		eta = float64(remaining) / speed
	}
	return ProgressSnapshot{
		TotalBytes:      totalBytes,
		DownloadedBytes: downloadedBytes,
		Percent:         percent,
		Speed:           speed,
		ETA:             eta,
	}
}
