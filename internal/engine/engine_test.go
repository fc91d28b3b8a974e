package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"narrator-server/internal/ai"
	"narrator-server/internal/config"
	"narrator-server/internal/engine"
	"narrator-server/internal/imagegen"
	"narrator-server/internal/mocks"
	"narrator-server/internal/models"
	"narrator-server/internal/speech"
	"narrator-server/internal/storage"
)

type recordedEvent struct {
	name    string
	payload any
}

// recordingEmitter captures events in emission order.
type recordingEmitter struct {
	mu     sync.Mutex
	events []recordedEvent
}

func (r *recordingEmitter) Emit(event string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, recordedEvent{name: event, payload: payload})
	return nil
}

func (r *recordingEmitter) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.name
	}
	return out
}

func (r *recordingEmitter) index(event string) int {
	for i, name := range r.names() {
		if name == event {
			return i
		}
	}
	return -1
}

func (r *recordingEmitter) count(event string) int {
	n := 0
	for _, name := range r.names() {
		if name == event {
			n++
		}
	}
	return n
}

type engineFixture struct {
	repo     *mocks.MockGameRepository
	mailbox  *mocks.MockResponseMailbox
	store    *mocks.MockImageStore
	aiClient *mocks.MockAIClient
	imageGen *mocks.MockImageGenerator
	synth    *mocks.MockSynthesizer
	engine   *engine.TurnEngine
	game     *models.Game
}

func newFixture(t *testing.T) *engineFixture {
	t.Helper()

	game := &models.Game{
		ID:       uuid.New(),
		JoinCode: "ABC234",
		Status:   models.GameStatusLobby,
		Premise:  "A haunted lighthouse",
		Players: []models.Player{
			{ID: uuid.New(), Name: "Ana", IsHost: true},
			{ID: uuid.New(), Name: "Boris"},
		},
	}

	f := &engineFixture{
		repo:     &mocks.MockGameRepository{},
		mailbox:  &mocks.MockResponseMailbox{},
		store:    &mocks.MockImageStore{},
		aiClient: &mocks.MockAIClient{},
		imageGen: &mocks.MockImageGenerator{},
		synth:    &mocks.MockSynthesizer{},
		game:     game,
	}

	logger := zap.NewNop()
	prompts, err := ai.NewPromptProvider(t.TempDir(), logger)
	require.NoError(t, err)

	cfg := config.TurnConfig{
		StreamContinuation:   true,
		ResponseTimeout:      500 * time.Millisecond,
		ResponsePollInterval: 10 * time.Millisecond,
		AudioAckTimeout:      50 * time.Millisecond,
	}

	f.engine = engine.NewTurnEngine(
		f.repo, f.mailbox, f.store,
		f.aiClient, prompts, f.imageGen, f.synth,
		nil, cfg, logger,
	)
	return f
}

func (f *engineFixture) gameID() string {
	return f.game.ID.String()
}

// scriptNarration makes the AI mock stream the document in small chunks.
func (f *engineFixture) scriptNarration(doc string) {
	f.aiClient.On("GenerateTextStream",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
	).Run(func(args mock.Arguments) {
		handler := args.Get(5).(func(string) error)
		for i := 0; i < len(doc); i += 7 {
			end := i + 7
			if end > len(doc) {
				end = len(doc)
			}
			_ = handler(doc[i:end])
		}
	}).Return(ai.UsageInfo{}, nil)
}

func (f *engineFixture) scriptSpeechSuccess() {
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			onChunk := args.Get(3).(speech.ChunkFunc)
			_ = onChunk(models.AudioChunk{AudioB64: "QUJD", Index: 0})
		}).
		Return(&models.AudioAlignment{}, nil)
}

func TestRunTurn_CompletesWithoutImageOrRequests(t *testing.T) {
	f := newFixture(t)
	f.scriptNarration("<turn><continuation>The lamp flickers once.</continuation></turn>")
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.AudioAlignment{}, nil)
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)
	f.repo.On("AppendTurn", mock.Anything, f.gameID(), mock.Anything).Return(f.game, nil).Once()

	em := &recordingEmitter{}
	require.NoError(t, f.engine.RunTurn(context.Background(), f.gameID(), em))

	names := em.names()
	require.NotEmpty(t, names)

	assert.Equal(t, models.EventDone, names[len(names)-1], "done is always last")
	assert.Equal(t, models.EventTurnComplete, names[len(names)-2], "turn_complete precedes done")

	assert.Greater(t, em.count(models.EventContinuationChunk), 0)
	assert.Less(t, em.index(models.EventContinuationChunk), em.index(models.EventContinuationComplete))

	assert.Equal(t, -1, em.index(models.EventImagePrompt), "no image prompt in this turn")
	assert.Equal(t, -1, em.index(models.EventRequestsReceived))
	assert.Equal(t, -1, em.index(models.EventTurnError))

	f.repo.AssertExpectations(t)
}

func TestRunTurn_ChunksCarryCumulativeContinuation(t *testing.T) {
	f := newFixture(t)
	text := "The keeper's log ends mid-sentence."
	f.scriptNarration("<turn><continuation><![CDATA[" + text + "]]></continuation></turn>")
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.AudioAlignment{}, nil)
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)
	f.repo.On("AppendTurn", mock.Anything, f.gameID(), mock.Anything).Return(f.game, nil)

	em := &recordingEmitter{}
	require.NoError(t, f.engine.RunTurn(context.Background(), f.gameID(), em))

	// Every chunk carries the whole narration so far: each one extends
	// the previous and the last one is the complete text.
	var chunks []string
	for _, ev := range em.events {
		if ev.name == models.EventContinuationChunk {
			chunks = append(chunks, ev.payload.(models.TextPayload).Text)
		}
	}
	require.NotEmpty(t, chunks)
	prev := ""
	for _, chunk := range chunks {
		assert.True(t, strings.HasPrefix(chunk, prev), "chunk %q does not extend %q", chunk, prev)
		assert.Greater(t, len(chunk), len(prev))
		prev = chunk
	}
	assert.Equal(t, text, chunks[len(chunks)-1])
}

func TestRunTurn_RecordsNarrationUsage(t *testing.T) {
	f := newFixture(t)
	doc := "<turn><continuation>The beam sweeps the bay.</continuation></turn>"
	f.aiClient.On("GenerateTextStream",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
	).Run(func(args mock.Arguments) {
		handler := args.Get(5).(func(string) error)
		_ = handler(doc)
	}).Return(ai.UsageInfo{PromptTokens: 120, CompletionTokens: 80, TotalTokens: 200}, nil)
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.AudioAlignment{}, nil)
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)

	var persisted *models.GameTurn
	f.repo.On("AppendTurn", mock.Anything, f.gameID(), mock.Anything).
		Run(func(args mock.Arguments) { persisted = args.Get(2).(*models.GameTurn) }).
		Return(f.game, nil)

	em := &recordingEmitter{}
	require.NoError(t, f.engine.RunTurn(context.Background(), f.gameID(), em))

	require.NotNil(t, persisted)
	require.NotNil(t, persisted.Usage)
	assert.Equal(t, 120, persisted.Usage.PromptTokens)
	assert.Equal(t, 80, persisted.Usage.CompletionTokens)
	assert.Equal(t, 200, persisted.Usage.TotalTokens)
}

func TestRunTurn_ImageLaunchedMidStream(t *testing.T) {
	f := newFixture(t)
	doc := "<turn>" +
		"<image_prompt><![CDATA[A lighthouse in a storm]]></image_prompt>" +
		"<continuation><![CDATA[Waves crash against the rocks below.]]></continuation>" +
		"</turn>"
	f.scriptNarration(doc)
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.AudioAlignment{}, nil)
	f.imageGen.On("Generate", mock.Anything, f.gameID(), "A lighthouse in a storm", mock.Anything).
		Run(func(args mock.Arguments) {
			onPartial := args.Get(3).(imagegen.PartialFunc)
			onPartial(0, "cGFydGlhbA==")
		}).
		Return(&models.GeneratedImage{B64: "ZmluYWw=", Format: "jpeg", Partials: 1}, nil)
	f.store.On("SaveImage", f.gameID(), 1, "ZmluYWw=", "jpeg").
		Return("http://example.test/images/turn-1.jpeg", nil)
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)

	var persisted *models.GameTurn
	f.repo.On("AppendTurn", mock.Anything, f.gameID(), mock.Anything).
		Run(func(args mock.Arguments) {
			persisted = args.Get(2).(*models.GameTurn)
		}).
		Return(f.game, nil)

	em := &recordingEmitter{}
	require.NoError(t, f.engine.RunTurn(context.Background(), f.gameID(), em))

	// The prompt tag closed before the continuation finished streaming,
	// so the image pipeline started mid-narration.
	assert.Less(t, em.index(models.EventImagePrompt), em.index(models.EventContinuationComplete))
	assert.Greater(t, em.count(models.EventImagePartial), 0)
	assert.NotEqual(t, -1, em.index(models.EventImageComplete))

	require.NotNil(t, persisted)
	require.NotNil(t, persisted.Image)
	assert.Equal(t, "http://example.test/images/turn-1.jpeg", persisted.Image.URL)
	assert.Equal(t, "A lighthouse in a storm", persisted.ImagePrompt)
}

func TestRunTurn_AudioFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	f.scriptNarration("<turn><continuation>Silence falls.</continuation></turn>")
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("voice backend down"))
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)
	f.repo.On("AppendTurn", mock.Anything, f.gameID(), mock.Anything).Return(f.game, nil)

	em := &recordingEmitter{}
	require.NoError(t, f.engine.RunTurn(context.Background(), f.gameID(), em))

	assert.NotEqual(t, -1, em.index(models.EventAudioError))
	assert.Equal(t, -1, em.index(models.EventAudioComplete))
	assert.NotEqual(t, -1, em.index(models.EventTurnComplete), "audio failure must not kill the turn")
	assert.Equal(t, models.EventDone, em.names()[len(em.names())-1])
}

func TestRunTurn_ImageFailureIsNonFatal(t *testing.T) {
	f := newFixture(t)
	doc := "<turn>" +
		"<image_prompt>A broken mirror</image_prompt>" +
		"<continuation>You look away.</continuation>" +
		"</turn>"
	f.scriptNarration(doc)
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.AudioAlignment{}, nil)
	f.imageGen.On("Generate", mock.Anything, f.gameID(), "A broken mirror", mock.Anything).
		Return(nil, errors.New("render farm offline"))
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)

	var persisted *models.GameTurn
	f.repo.On("AppendTurn", mock.Anything, f.gameID(), mock.Anything).
		Run(func(args mock.Arguments) { persisted = args.Get(2).(*models.GameTurn) }).
		Return(f.game, nil)

	em := &recordingEmitter{}
	require.NoError(t, f.engine.RunTurn(context.Background(), f.gameID(), em))

	assert.NotEqual(t, -1, em.index(models.EventImageError))
	assert.NotEqual(t, -1, em.index(models.EventTurnComplete))
	require.NotNil(t, persisted)
	assert.Nil(t, persisted.Image, "failed image is not persisted")
}

func TestRunTurn_NarrationFailureIsFatal(t *testing.T) {
	f := newFixture(t)
	f.aiClient.On("GenerateTextStream",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
	).Return(ai.UsageInfo{}, ai.ErrGenerationFailed)
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)

	em := &recordingEmitter{}
	err := f.engine.RunTurn(context.Background(), f.gameID(), em)
	assert.ErrorIs(t, err, ai.ErrGenerationFailed)

	names := em.names()
	assert.NotEqual(t, -1, em.index(models.EventTurnError))
	assert.Equal(t, models.EventDone, names[len(names)-1])
	assert.Equal(t, -1, em.index(models.EventTurnComplete))
	f.repo.AssertNotCalled(t, "AppendTurn", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunTurn_MissingContinuationIsFatal(t *testing.T) {
	f := newFixture(t)
	f.scriptNarration("<turn><requests></requests></turn>")
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)

	em := &recordingEmitter{}
	err := f.engine.RunTurn(context.Background(), f.gameID(), em)
	assert.ErrorIs(t, err, models.ErrMissingContinuation)
	assert.NotEqual(t, -1, em.index(models.EventTurnError))
}

func TestRunTurn_CollectsResponses(t *testing.T) {
	f := newFixture(t)
	doc := `<turn><continuation>Choose wisely.</continuation>
<requests>
  <request type="yes_no" target_player="player1">
    <question>Do you open the hatch?</question>
  </request>
</requests></turn>`
	f.scriptNarration(doc)
	f.synth.On("Synthesize", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&models.AudioAlignment{}, nil)
	f.repo.On("Get", mock.Anything, f.gameID()).Return(f.game, nil)

	answer := "yes"
	f.mailbox.On("Fetch", mock.Anything, f.gameID(), 1, mock.Anything).
		Return(func(ctx context.Context, gameID string, turnNumber int, keys []storage.ResponseKey) []models.RequestResponse {
			return []models.RequestResponse{{
				RequestID: keys[0].RequestID,
				PlayerID:  keys[0].PlayerID,
				Response:  &answer,
				Timestamp: time.Now(),
			}}
		}, nil)
	f.mailbox.On("Clear", mock.Anything, f.gameID(), 1, mock.Anything).Return(nil)

	var persisted *models.GameTurn
	f.repo.On("AppendTurn", mock.Anything, f.gameID(), mock.Anything).
		Run(func(args mock.Arguments) { persisted = args.Get(2).(*models.GameTurn) }).
		Return(f.game, nil)

	em := &recordingEmitter{}
	require.NoError(t, f.engine.RunTurn(context.Background(), f.gameID(), em))

	assert.NotEqual(t, -1, em.index(models.EventRequestsReceived))
	assert.Equal(t, 1, em.count(models.EventRequestResponse))
	assert.Less(t, em.index(models.EventRequestResponse), em.index(models.EventRequestsComplete))
	assert.Less(t, em.index(models.EventRequestsComplete), em.index(models.EventTurnComplete))

	require.NotNil(t, persisted)
	require.Len(t, persisted.Requests, 1)
	require.Len(t, persisted.Responses, 1)
	assert.Equal(t, "yes", *persisted.Responses[0].Response)
	assert.Equal(t, f.game.Players[0].ID, persisted.Responses[0].PlayerID)
}

func TestSubmitResponse_NoActiveTurn(t *testing.T) {
	f := newFixture(t)
	err := f.engine.SubmitResponse(context.Background(), f.gameID(), uuid.New(), uuid.New(), nil)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAckAudio_NoActiveTurn(t *testing.T) {
	f := newFixture(t)
	assert.ErrorIs(t, f.engine.AckAudio(f.gameID()), models.ErrNotFound)
}
