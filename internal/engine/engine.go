package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"narrator-server/internal/ai"
	"narrator-server/internal/config"
	"narrator-server/internal/imagegen"
	"narrator-server/internal/models"
	"narrator-server/internal/schemas"
	"narrator-server/internal/speech"
	"narrator-server/internal/storage"
)

// Emitter pushes named events to the connected turn stream. Emit is safe
// for concurrent use; the engine's detached goroutines share one emitter.
type Emitter interface {
	Emit(event string, payload any) error
}

// PlayerNotifier pushes turn requests to the players' devices over their
// persistent connections.
type PlayerNotifier interface {
	NotifyRequests(gameID string, turnNumber int, requests []models.Request)
	NotifyResponse(gameID string, resp *models.RequestResponse)
}

// TurnEngine drives one turn of a game end to end: it streams narration
// from the AI, launches image and speech generation as their inputs
// become available, collects player responses and persists the finished
// turn exactly once.
type TurnEngine struct {
	repo       storage.GameRepository
	mailbox    storage.ResponseMailbox
	imageStore storage.ImageStore
	aiClient   ai.Client
	prompts    *ai.PromptProvider
	imageGen   imagegen.Generator
	synth      speech.Synthesizer
	notifier   PlayerNotifier
	cfg        config.TurnConfig
	logger     *zap.Logger

	mu     sync.Mutex
	active map[string]*activeTurn
}

// activeTurn tracks the in-flight turn of one game so that response
// submissions can be validated against the live request list.
type activeTurn struct {
	turnNumber int
	requests   []models.Request
	players    []models.Player
	audioAck   chan struct{}
	ackOnce    sync.Once
}

// NewTurnEngine wires the engine's collaborators.
func NewTurnEngine(
	repo storage.GameRepository,
	mailbox storage.ResponseMailbox,
	imageStore storage.ImageStore,
	aiClient ai.Client,
	prompts *ai.PromptProvider,
	imageGen imagegen.Generator,
	synth speech.Synthesizer,
	notifier PlayerNotifier,
	cfg config.TurnConfig,
	logger *zap.Logger,
) *TurnEngine {
	return &TurnEngine{
		repo:       repo,
		mailbox:    mailbox,
		imageStore: imageStore,
		aiClient:   aiClient,
		prompts:    prompts,
		imageGen:   imageGen,
		synth:      synth,
		notifier:   notifier,
		cfg:        cfg,
		logger:     logger.Named("TurnEngine"),
		active:     make(map[string]*activeTurn),
	}
}

type imageOutcome struct {
	image *models.GeneratedImage
}

// RunTurn generates the next turn of the game, emitting progress events
// through em. Only one turn per game may run at a time. A canceled
// context (client disconnect, host cancel) stops generation cleanly with
// a nil error and persists nothing.
func (e *TurnEngine) RunTurn(ctx context.Context, gameID string, em Emitter) error {
	startTime := time.Now()
	log := e.logger.With(zap.String("game_id", gameID))

	game, err := e.repo.Get(ctx, gameID)
	if err != nil {
		return err
	}
	turnNumber := game.TurnNumber()

	state := &activeTurn{
		turnNumber: turnNumber,
		players:    game.Players,
		audioAck:   make(chan struct{}),
	}
	if !e.tryActivate(gameID, state) {
		return models.ErrTurnAlreadyRunning
	}
	defer e.deactivate(gameID)

	status := "failed"
	defer func() {
		turnsTotal.With(prometheus.Labels{"status": status}).Inc()
		turnDuration.With(prometheus.Labels{"status": status}).Observe(time.Since(startTime).Seconds())
	}()

	em.Emit(models.EventTurnStatus, models.TurnStatusPayload{Status: models.TurnPhasePreparing})

	systemPrompt, userInput, err := e.prompts.BuildTurnPrompt(game)
	if err != nil {
		e.failTurn(em, log, err)
		return err
	}

	em.Emit(models.EventTurnStatus, models.TurnStatusPayload{Status: models.TurnPhaseNarration})
	log.Info("Turn narration started", zap.Int("turn_number", turnNumber))

	var (
		buffer           strings.Builder
		continuationSent int
		imageCh          chan imageOutcome
	)

	usage, genErr := e.aiClient.GenerateTextStream(ctx, gameID, systemPrompt, userInput, ai.GenerationParams{}, func(chunk string) error {
		buffer.WriteString(chunk)
		raw := buffer.String()

		if e.cfg.StreamContinuation {
			if seg := schemas.GetTagSegment(raw, "continuation"); seg != nil {
				// Each chunk event carries the whole cleaned narration so
				// far. Clients replace instead of appending, so a stripped
				// CDATA wrapper mid-stream never loses characters.
				clean := schemas.StripCDATA(seg.Content)
				if len(clean) > continuationSent {
					em.Emit(models.EventContinuationChunk, models.TextPayload{Text: clean})
					continuationSent = len(clean)
				}
			}
		}

		// Launch the illustration as soon as its prompt tag closes,
		// while narration is still streaming.
		if imageCh == nil {
			if seg := schemas.GetTagSegment(raw, "image_prompt"); seg != nil && seg.Closed {
				prompt := strings.TrimSpace(schemas.StripCDATA(seg.Content))
				if prompt != "" {
					imageCh = e.launchImage(ctx, em, log, gameID, turnNumber, prompt)
				}
			}
		}
		return nil
	})

	if ctx.Err() != nil {
		log.Info("Turn canceled during narration", zap.Int("turn_number", turnNumber))
		status = "canceled"
		return nil
	}
	if genErr != nil {
		e.failTurn(em, log, genErr)
		return genErr
	}

	raw := buffer.String()
	parsed, err := schemas.ParseTurnPayload(raw)
	if err != nil {
		e.failTurn(em, log, err)
		return err
	}

	if !e.cfg.StreamContinuation {
		em.Emit(models.EventContinuationChunk, models.TextPayload{Text: parsed.Continuation})
	}
	em.Emit(models.EventContinuationComplete, models.TextPayload{Text: parsed.Continuation})

	// Late start fallback: the prompt tag only became parseable with the
	// full document.
	if imageCh == nil && parsed.ImagePrompt != "" {
		imageCh = e.launchImage(ctx, em, log, gameID, turnNumber, parsed.ImagePrompt)
	}

	em.Emit(models.EventTurnStatus, models.TurnStatusPayload{Status: models.TurnPhaseAudio})
	audioCh := e.launchSpeech(ctx, em, log, gameID, parsed.Continuation)

	requests := schemas.ParseRequests(raw, game.Players)
	e.setActiveRequests(gameID, requests)

	var responsesCh chan []models.RequestResponse
	if len(requests) > 0 {
		em.Emit(models.EventRequestsReceived, models.RequestsReceivedPayload{
			Requests:   requests,
			TurnNumber: turnNumber,
		})
		if e.notifier != nil {
			e.notifier.NotifyRequests(gameID, turnNumber, requests)
		}
		responsesCh = e.launchCollector(ctx, em, log, game, turnNumber, requests)
	}

	// Join the detached artifacts. Image and audio failures were already
	// reported as non-fatal events by their goroutines.
	var image *models.GeneratedImage
	audioOK := false
	if imageCh != nil {
		select {
		case out := <-imageCh:
			image = out.image
		case <-ctx.Done():
		}
	}
	select {
	case ok := <-audioCh:
		audioOK = ok
	case <-ctx.Done():
	}

	var responses []models.RequestResponse
	if responsesCh != nil {
		select {
		case responses = <-responsesCh:
		case <-ctx.Done():
		}
	}

	if ctx.Err() != nil {
		log.Info("Turn canceled while awaiting artifacts", zap.Int("turn_number", turnNumber))
		status = "canceled"
		return nil
	}

	// Let the narrator finish speaking before the turn closes. The host
	// client acknowledges playback; a slow or silent client times out.
	if audioOK {
		select {
		case <-state.audioAck:
		case <-time.After(e.cfg.AudioAckTimeout):
			log.Warn("Audio playback acknowledgement timed out", zap.Int("turn_number", turnNumber))
		case <-ctx.Done():
			status = "canceled"
			return nil
		}
	}

	var turnUsage *models.TurnUsage
	if usage.TotalTokens > 0 {
		turnUsage = &models.TurnUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens,
			EstimatedCostUSD: usage.EstimatedCostUSD,
		}
	}

	turn := &models.GameTurn{
		ID:           uuid.New(),
		Number:       turnNumber,
		Continuation: parsed.Continuation,
		ImagePrompt:  parsed.ImagePrompt,
		Image:        image,
		Requests:     requests,
		Responses:    responses,
		Usage:        turnUsage,
		CreatedAt:    time.Now().UTC(),
	}

	if _, err := e.repo.AppendTurn(ctx, gameID, turn); err != nil {
		e.failTurn(em, log, err)
		return err
	}

	em.Emit(models.EventTurnComplete, models.TurnCompletePayload{Turn: turn})
	em.Emit(models.EventDone, models.DonePayload{Status: "completed"})

	status = "completed"
	log.Info("Turn completed",
		zap.Int("turn_number", turnNumber),
		zap.Bool("has_image", image != nil),
		zap.Int("requests", len(requests)),
		zap.Int("responses", len(responses)),
		zap.Int("total_tokens", usage.TotalTokens),
		zap.Duration("duration", time.Since(startTime)))
	return nil
}

// failTurn reports a fatal turn error and closes out the event stream.
func (e *TurnEngine) failTurn(em Emitter, log *zap.Logger, err error) {
	log.Error("Turn failed", zap.Error(err))
	em.Emit(models.EventTurnError, models.ErrorPayload{Message: err.Error()})
	em.Emit(models.EventDone, models.DonePayload{Status: "failed"})
}

// launchImage starts illustration rendering in a detached goroutine. The
// goroutine emits image events itself; the returned channel carries the
// stored image for persistence, or nil on failure.
func (e *TurnEngine) launchImage(ctx context.Context, em Emitter, log *zap.Logger, gameID string, turnNumber int, prompt string) chan imageOutcome {
	em.Emit(models.EventImagePrompt, models.ImagePromptPayload{Prompt: prompt})
	em.Emit(models.EventTurnStatus, models.TurnStatusPayload{Status: models.TurnPhaseImage})

	ch := make(chan imageOutcome, 1)
	go func() {
		defer close(ch)
		image, err := e.imageGen.Generate(ctx, gameID, prompt, func(index int, b64 string) {
			em.Emit(models.EventImagePartial, models.ImagePartialPayload{Image: b64, Index: index})
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("Image generation failed", zap.Error(err))
				em.Emit(models.EventImageError, models.ErrorPayload{Message: err.Error()})
			}
			ch <- imageOutcome{}
			return
		}

		url, err := e.imageStore.SaveImage(gameID, turnNumber, image.B64, image.Format)
		if err != nil {
			log.Warn("Image save failed", zap.Error(err))
			em.Emit(models.EventImageError, models.ErrorPayload{Message: err.Error()})
			ch <- imageOutcome{}
			return
		}
		image.URL = url
		// The stored file is the canonical copy.
		image.B64 = ""

		em.Emit(models.EventImageComplete, models.ImageCompletePayload{Image: image})
		ch <- imageOutcome{image: image}
	}()
	return ch
}

// launchSpeech starts narration voicing in a detached goroutine. Audio
// chunks stream to the client as they arrive; the returned channel
// reports whether synthesis succeeded.
func (e *TurnEngine) launchSpeech(ctx context.Context, em Emitter, log *zap.Logger, gameID string, text string) chan bool {
	ch := make(chan bool, 1)
	go func() {
		defer close(ch)
		chunks := 0
		_, err := e.synth.Synthesize(ctx, gameID, text, func(chunk models.AudioChunk) error {
			chunks++
			return em.Emit(models.EventAudioChunk, chunk)
		})
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Warn("Speech synthesis failed", zap.Error(err))
				em.Emit(models.EventAudioError, models.ErrorPayload{Message: err.Error()})
			}
			ch <- false
			return
		}
		em.Emit(models.EventAudioComplete, models.AudioCompletePayload{TotalChunks: chunks})
		ch <- true
	}()
	return ch
}

func (e *TurnEngine) tryActivate(gameID string, state *activeTurn) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, running := e.active[gameID]; running {
		return false
	}
	e.active[gameID] = state
	return true
}

func (e *TurnEngine) deactivate(gameID string) {
	e.mu.Lock()
	delete(e.active, gameID)
	e.mu.Unlock()
}

func (e *TurnEngine) setActiveRequests(gameID string, requests []models.Request) {
	e.mu.Lock()
	if state, ok := e.active[gameID]; ok {
		state.requests = requests
	}
	e.mu.Unlock()
}

// AckAudio records that the host client finished audio playback for the
// running turn.
func (e *TurnEngine) AckAudio(gameID string) error {
	e.mu.Lock()
	state, ok := e.active[gameID]
	e.mu.Unlock()
	if !ok {
		return models.ErrNotFound
	}
	state.ackOnce.Do(func() { close(state.audioAck) })
	return nil
}

// SubmitResponse validates and stores a player's answer for the running
// turn. The first answer per request and player wins.
func (e *TurnEngine) SubmitResponse(ctx context.Context, gameID string, requestID, playerID uuid.UUID, response *string) error {
	e.mu.Lock()
	state, ok := e.active[gameID]
	var (
		turnNumber int
		requests   []models.Request
	)
	if ok {
		turnNumber = state.turnNumber
		requests = state.requests
	}
	e.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: no turn awaiting responses", models.ErrNotFound)
	}

	var target *models.Request
	for i := range requests {
		if requests[i].ID == requestID {
			target = &requests[i]
			break
		}
	}
	if target == nil {
		return fmt.Errorf("%w: unknown request", models.ErrBadRequest)
	}

	if !target.TargetsAll() {
		allowed := false
		for _, id := range target.TargetPlayerIDs {
			if id == playerID {
				allowed = true
				break
			}
		}
		if !allowed {
			return models.ErrForbidden
		}
	}

	resp := &models.RequestResponse{
		RequestID: requestID,
		PlayerID:  playerID,
		Response:  response,
		Timestamp: time.Now().UTC(),
	}
	if _, err := e.mailbox.Submit(ctx, gameID, turnNumber, resp); err != nil {
		return err
	}
	return nil
}
