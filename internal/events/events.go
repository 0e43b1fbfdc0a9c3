// Package events is the minimal typed pub/sub primitive the download engine
// requires of its hosts: registration of listeners and synchronous,
// same-goroutine publication. It generalizes the teacher engine's fixed
// Callbacks struct (DownloaderModels.go) into an open listener registry.
package events

import "sync"

// Type enumerates the lifecycle events the engine publishes.
type Type string

const (
	Start          Type = "start"
	Progress       Type = "progress"
	SegmentStart   Type = "segment_start"
	SegmentComplete Type = "segment_complete"
	SegmentError   Type = "segment_error"
	Redirect       Type = "redirect"
	Pause          Type = "pause"
	Resume         Type = "resume"
	Cancel         Type = "cancel"
	Complete       Type = "complete"
	Error          Type = "error"
)

// Event is the envelope delivered to listeners. Data carries a
// type-specific payload (ProgressData, SegmentData, RedirectData, error, or
// nil) that callers type-assert based on Type.
type Event struct {
	Type   Type
	TaskID string
	Data   any
}

// ProgressData is the payload of a Progress event.
type ProgressData struct {
	TotalBytes      int64
	DownloadedBytes int64
	Percent         float64
	Speed           float64
	ETA             float64
}

// SegmentData is the payload of SegmentStart/SegmentComplete/SegmentError.
type SegmentData struct {
	Index        int
	StartByte    int64
	EndByte      int64
	BytesWritten int64
	Err          error
}

// RedirectData is the payload of a Redirect event.
type RedirectData struct {
	From string
	To   string
}

// Handler receives a published Event. Handlers run synchronously on the
// publisher's goroutine - ordering guarantees in the download engine rely on
// this (a listener observing SegmentComplete has already seen the counter
// update that produced it).
type Handler func(Event)

// Emitter is a minimal, lock-protected registry of per-type handlers plus a
// wildcard registry for handlers that want every event (used by the
// Downloader to forward each task's events to its own listeners).
type Emitter struct {
	mu       sync.Mutex
	handlers map[Type][]Handler
	wildcard []Handler
}

func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[Type][]Handler)}
}

// On registers h to run whenever an event of type t is published.
func (e *Emitter) On(t Type, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[t] = append(e.handlers[t], h)
}

// OnAny registers h to run for every published event, regardless of type.
func (e *Emitter) OnAny(h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.wildcard = append(e.wildcard, h)
}

// Emit publishes ev synchronously to every matching handler: first the
// wildcard listeners, then the type-specific ones, in registration order.
func (e *Emitter) Emit(ev Event) {
	e.mu.Lock()
	wildcard := append([]Handler(nil), e.wildcard...)
	specific := append([]Handler(nil), e.handlers[ev.Type]...)
	e.mu.Unlock()

	for _, h := range wildcard {
		h(ev)
	}
	for _, h := range specific {
		h(ev)
	}
}
