package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOnReceivesOnlyMatchingType(t *testing.T) {
	e := NewEmitter()
	var gotProgress, gotComplete int
	e.On(Progress, func(Event) { gotProgress++ })
	e.On(Complete, func(Event) { gotComplete++ })

	e.Emit(Event{Type: Progress})
	e.Emit(Event{Type: Progress})
	e.Emit(Event{Type: Complete})

	assert.Equal(t, 2, gotProgress)
	assert.Equal(t, 1, gotComplete)
}

func TestOnAnyReceivesEverythingBeforeSpecific(t *testing.T) {
	e := NewEmitter()
	var order []string
	e.On(Progress, func(Event) { order = append(order, "specific") })
	e.OnAny(func(Event) { order = append(order, "wildcard") })

	e.Emit(Event{Type: Progress})

	assert.Equal(t, []string{"wildcard", "specific"}, order)
}

func TestEmitWithNoHandlersIsSafe(t *testing.T) {
	e := NewEmitter()
	assert.NotPanics(t, func() { e.Emit(Event{Type: Start}) })
}
