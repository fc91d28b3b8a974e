package sse_test

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"narrator-server/internal/transport/sse"
)

func TestNewStream_SetsEventStreamHeaders(t *testing.T) {
	rec := httptest.NewRecorder()

	stream, err := sse.NewStream(rec, zap.NewNop())
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "no", rec.Header().Get("X-Accel-Buffering"))
	assert.Equal(t, 200, rec.Code)
}

func TestStream_EmitWritesEventAndDataLines(t *testing.T) {
	rec := httptest.NewRecorder()

	stream, err := sse.NewStream(rec, zap.NewNop())
	require.NoError(t, err)

	type payload struct {
		Text string `json:"text"`
	}
	require.NoError(t, stream.Emit("continuation_chunk", payload{Text: "hello"}))
	require.NoError(t, stream.Emit("done", payload{Text: "bye"}))
	stream.Close()

	body := rec.Body.String()
	assert.Contains(t, body, "event: continuation_chunk\ndata: {\"text\":\"hello\"}\n\n")
	assert.Contains(t, body, "event: done\ndata: {\"text\":\"bye\"}\n\n")
}

func TestStream_EmitAfterCloseIsNoOp(t *testing.T) {
	rec := httptest.NewRecorder()

	stream, err := sse.NewStream(rec, zap.NewNop())
	require.NoError(t, err)
	stream.Close()

	before := rec.Body.Len()
	require.NoError(t, stream.Emit("late", map[string]string{"text": "dropped"}))
	assert.Equal(t, before, rec.Body.Len())
}

func TestStream_EmitRejectsUnmarshalablePayload(t *testing.T) {
	rec := httptest.NewRecorder()

	stream, err := sse.NewStream(rec, zap.NewNop())
	require.NoError(t, err)
	defer stream.Close()

	assert.Error(t, stream.Emit("bad", make(chan int)))
}
