package sse_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/transport/sse"
)

func collect(t *testing.T, input string) []sse.Event {
	t.Helper()
	var events []sse.Event
	err := sse.ReadEvents(strings.NewReader(input), func(ev sse.Event) error {
		events = append(events, ev)
		return nil
	})
	require.NoError(t, err)
	return events
}

func TestReadEvents_ParsesNamedEvents(t *testing.T) {
	input := "event: turn_status\ndata: {\"status\":\"narration\"}\n\n" +
		"event: done\ndata: {\"status\":\"completed\"}\n\n"

	events := collect(t, input)
	require.Len(t, events, 2)
	assert.Equal(t, sse.Event{Event: "turn_status", Data: `{"status":"narration"}`}, events[0])
	assert.Equal(t, sse.Event{Event: "done", Data: `{"status":"completed"}`}, events[1])
}

func TestReadEvents_JoinsMultipleDataLines(t *testing.T) {
	input := "event: chunk\ndata: first\ndata: second\n\n"

	events := collect(t, input)
	require.Len(t, events, 1)
	assert.Equal(t, "first\nsecond", events[0].Data)
}

func TestReadEvents_SkipsCommentsAndBareNames(t *testing.T) {
	input := ": keepalive comment\n\n" +
		"event: orphan_without_data\n\n" +
		"data: payload\n\n"

	events := collect(t, input)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[0].Event)
	assert.Equal(t, "payload", events[0].Data)
}

func TestReadEvents_FlushesTrailingEventWithoutBlankLine(t *testing.T) {
	input := "event: last\ndata: tail"

	events := collect(t, input)
	require.Len(t, events, 1)
	assert.Equal(t, sse.Event{Event: "last", Data: "tail"}, events[0])
}

func TestReadEvents_CallbackErrorStopsStream(t *testing.T) {
	input := "event: one\ndata: 1\n\nevent: two\ndata: 2\n\n"

	boom := errors.New("stop here")
	seen := 0
	err := sse.ReadEvents(strings.NewReader(input), func(sse.Event) error {
		seen++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, seen)
}
