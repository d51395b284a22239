package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderedEmitterAssignsSequence(t *testing.T) {
	collect := NewCollectEmitter()
	em := NewOrderedEmitter(collect)

	em.Emit(StreamEvent{Type: EventSession, Content: "abc"})
	em.Emit(StreamEvent{Type: EventToolStarted, Tool: "google_search"})
	em.Emit(StreamEvent{Type: EventToolFinished, Tool: "google_search"})
	em.Emit(StreamEvent{Type: EventDone})

	events := collect.Events()
	require.Len(t, events, 4)
	for i, event := range events {
		assert.Equal(t, i, event.Seq)
	}
}

func TestOrderedEmitterDropsAfterDone(t *testing.T) {
	collect := NewCollectEmitter()
	em := NewOrderedEmitter(collect)

	em.Emit(StreamEvent{Type: EventAnswerToken, Token: "hi"})
	em.Emit(StreamEvent{Type: EventDone})
	em.Emit(StreamEvent{Type: EventDone})
	em.Emit(StreamEvent{Type: EventAnswerToken, Token: "late"})

	events := collect.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventDone, events[1].Type)
}
