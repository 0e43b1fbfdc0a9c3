package task

import "sync"

// pauseController manages pause/resume state, grounded directly on the
// teacher engine's PauseController (PauseControl.go). The scheduling loop
// still polls IsPaused at ~100ms granularity per the spec (so cancellation
// is observed promptly even while paused), but notify caches one channel per
// pause episode so it wakes immediately on Resume instead of waiting out the
// rest of a tick.
type pauseController struct {
	mu       sync.Mutex
	isPaused bool
	resumeCh chan struct{}
}

func newPauseController() *pauseController {
	return &pauseController{}
}

func (pc *pauseController) Pause() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if pc.isPaused {
		return
	}
	pc.isPaused = true
	pc.resumeCh = make(chan struct{})
}

func (pc *pauseController) Resume() {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.isPaused {
		return
	}
	pc.isPaused = false
	close(pc.resumeCh)
	pc.resumeCh = nil
}

func (pc *pauseController) IsPaused() bool {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	return pc.isPaused
}

// notify returns the current pause episode's channel, closed the next time
// Resume is called, for use in a select alongside a cancellation check. If
// no pause is in effect it returns an already-closed channel.
func (pc *pauseController) notify() <-chan struct{} {
	pc.mu.Lock()
	defer pc.mu.Unlock()
	if !pc.isPaused {
		closed := make(chan struct{})
		close(closed)
		return closed
	}
	return pc.resumeCh
}
