package playback_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"narrator-server/internal/models"
	"narrator-server/internal/playback"
)

func mustPayload(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func audioChunkPayload(t *testing.T, audio string, chars string, starts, ends []float64) []byte {
	t.Helper()
	alignment := &models.AudioAlignment{
		CharacterStartTimesSecs: starts,
		CharacterEndTimesSecs:   ends,
	}
	for _, c := range chars {
		alignment.Characters = append(alignment.Characters, string(c))
	}
	return mustPayload(t, models.AudioChunk{
		AudioB64:  base64.StdEncoding.EncodeToString([]byte(audio)),
		Alignment: alignment,
	})
}

func TestSynchronizer_TextAssemblyFromChunks(t *testing.T) {
	s := playback.NewSynchronizer(0)

	// Each chunk carries the whole narration so far and replaces the
	// previous one.
	require.NoError(t, s.HandleEvent(models.EventContinuationChunk, mustPayload(t, models.TextPayload{Text: "The door "})))
	assert.Equal(t, "The door ", s.Text())
	require.NoError(t, s.HandleEvent(models.EventContinuationChunk, mustPayload(t, models.TextPayload{Text: "The door opens."})))
	assert.Equal(t, "The door opens.", s.Text())

	// The final text wins over the streamed chunks.
	require.NoError(t, s.HandleEvent(models.EventContinuationComplete, mustPayload(t, models.TextPayload{Text: "The door opens wide."})))
	assert.Equal(t, "The door opens wide.", s.Text())
}

func TestSynchronizer_AudioChunksAccumulate(t *testing.T) {
	s := playback.NewSynchronizer(0)

	require.NoError(t, s.HandleEvent(models.EventAudioChunk,
		audioChunkPayload(t, "AAA", "Hi", []float64{0.0, 0.2}, []float64{0.2, 0.4})))
	require.NoError(t, s.HandleEvent(models.EventAudioChunk,
		audioChunkPayload(t, "BBB", "!", []float64{0.4}, []float64{0.5})))

	assert.Equal(t, []byte("AAABBB"), s.Buffer().Unplayed())
	assert.Equal(t, 1, s.SpokenCharacters(250*time.Millisecond))
	assert.Equal(t, 3, s.SpokenCharacters(time.Second))
}

func TestSynchronizer_CharactersCountOnceTheyEnd(t *testing.T) {
	s := playback.NewSynchronizer(0)
	require.NoError(t, s.HandleEvent(models.EventAudioChunk,
		audioChunkPayload(t, "A", "Hi", []float64{0.0, 0.5}, []float64{0.5, 1.0})))

	// At position zero the first character is still being voiced, so
	// nothing counts as spoken and nothing is highlighted yet.
	assert.Equal(t, 0, s.SpokenCharacters(0))
	assert.Equal(t, -1, s.HighlightedWord(0))
	assert.Equal(t, 1, s.SpokenCharacters(600*time.Millisecond))
	assert.Equal(t, 2, s.SpokenCharacters(time.Second))
}

func TestSynchronizer_LookaheadAdvancesHighlight(t *testing.T) {
	s := playback.NewSynchronizer(0)
	require.NoError(t, s.HandleEvent(models.EventAudioChunk,
		audioChunkPayload(t, "A", "ab", []float64{0.0, 0.5}, []float64{0.5, 1.0})))

	// At 480ms the first character has not finished, but the 30ms
	// lookahead reaches its 500ms end.
	assert.Equal(t, 1, s.SpokenCharacters(480*time.Millisecond))
	assert.Equal(t, 0, s.SpokenCharacters(400*time.Millisecond))
}

func TestSynchronizer_NoAlignmentMeansNoHighlight(t *testing.T) {
	s := playback.NewSynchronizer(0)
	require.NoError(t, s.HandleEvent(models.EventContinuationComplete,
		mustPayload(t, models.TextPayload{Text: "Silent narration."})))

	assert.Equal(t, 0, s.SpokenCharacters(10*time.Second))
	assert.Equal(t, -1, s.HighlightedWord(10*time.Second))
}

func TestSynchronizer_WordsHideStageDirections(t *testing.T) {
	s := playback.NewSynchronizer(0)
	require.NoError(t, s.HandleEvent(models.EventContinuationComplete,
		mustPayload(t, models.TextPayload{Text: "Run! [door slams] Hide now."})))

	words := s.Words()
	require.Len(t, words, 4)
	assert.Equal(t, "Run!", words[0].Text)
	assert.False(t, words[0].Hidden)
	assert.Equal(t, "[door slams]", words[1].Text)
	assert.True(t, words[1].Hidden)
	assert.Equal(t, "Hide", words[2].Text)
	assert.Equal(t, "now.", words[3].Text)
}

func TestSynchronizer_HighlightSkipsHiddenWords(t *testing.T) {
	s := playback.NewSynchronizer(0)
	text := "Go [pause] on"
	require.NoError(t, s.HandleEvent(models.EventContinuationComplete,
		mustPayload(t, models.TextPayload{Text: text})))

	// Voice the whole text: one aligned character per text character.
	alignment := &models.AudioAlignment{}
	for i, c := range text {
		alignment.Characters = append(alignment.Characters, string(c))
		alignment.CharacterStartTimesSecs = append(alignment.CharacterStartTimesSecs, float64(i)*0.1)
		alignment.CharacterEndTimesSecs = append(alignment.CharacterEndTimesSecs, float64(i+1)*0.1)
	}
	payload := mustPayload(t, models.AudioChunk{
		AudioB64:  base64.StdEncoding.EncodeToString([]byte("A")),
		Alignment: alignment,
	})
	require.NoError(t, s.HandleEvent(models.EventAudioChunk, payload))

	words := s.Words()
	require.Len(t, words, 3)

	// While the hidden stage direction is voiced the highlight stays on
	// the previous visible word.
	midHidden := time.Duration(float64(time.Second) * 0.6)
	assert.Equal(t, 0, s.HighlightedWord(midHidden))

	// Once the final word is voiced the highlight moves past the hidden
	// one.
	assert.Equal(t, 2, s.HighlightedWord(time.Duration(float64(time.Second)*1.25)))
}

func TestSynchronizer_ImageAndTurnEvents(t *testing.T) {
	s := playback.NewSynchronizer(0)

	require.NoError(t, s.HandleEvent(models.EventImageComplete, mustPayload(t, models.ImageCompletePayload{
		Image: &models.GeneratedImage{URL: "http://example.test/images/turn-1.jpeg"},
	})))
	assert.Equal(t, "http://example.test/images/turn-1.jpeg", s.ImageURL())

	assert.False(t, s.TurnDone())
	require.NoError(t, s.HandleEvent(models.EventTurnComplete, mustPayload(t, models.TurnCompletePayload{})))
	assert.True(t, s.TurnDone())
}

func TestSynchronizer_UnknownEventIgnored(t *testing.T) {
	s := playback.NewSynchronizer(0)
	assert.NoError(t, s.HandleEvent("future_event", []byte(`{"x":1}`)))
}
