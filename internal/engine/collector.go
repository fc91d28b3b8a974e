package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"narrator-server/internal/models"
	"narrator-server/internal/storage"
)

// expectedSlots expands the turn's requests into the full list of
// (request, player) answer slots the collector waits for.
func expectedSlots(game *models.Game, requests []models.Request) []storage.ResponseKey {
	var keys []storage.ResponseKey
	for _, req := range requests {
		if req.TargetsAll() {
			for _, pl := range game.Players {
				keys = append(keys, storage.ResponseKey{RequestID: req.ID, PlayerID: pl.ID})
			}
			continue
		}
		for _, playerID := range req.TargetPlayerIDs {
			keys = append(keys, storage.ResponseKey{RequestID: req.ID, PlayerID: playerID})
		}
	}
	return keys
}

// launchCollector polls the response mailbox until every expected slot
// is filled or the collection window closes. Each newly seen response is
// emitted immediately; requests_complete carries whatever arrived.
func (e *TurnEngine) launchCollector(ctx context.Context, em Emitter, log *zap.Logger, game *models.Game, turnNumber int, requests []models.Request) chan []models.RequestResponse {
	ch := make(chan []models.RequestResponse, 1)

	go func() {
		defer close(ch)

		gameID := game.ID.String()
		keys := expectedSlots(game, requests)
		seen := make(map[string]bool, len(keys))
		var collected []models.RequestResponse

		deadline := time.NewTimer(e.cfg.ResponseTimeout)
		defer deadline.Stop()
		ticker := time.NewTicker(e.cfg.ResponsePollInterval)
		defer ticker.Stop()

		outcome := "complete"

	poll:
		for len(collected) < len(keys) {
			select {
			case <-ctx.Done():
				outcome = "canceled"
				break poll
			case <-deadline.C:
				log.Info("Response collection window closed",
					zap.Int("turn_number", turnNumber),
					zap.Int("collected", len(collected)),
					zap.Int("expected", len(keys)))
				outcome = "timeout"
				break poll
			case <-ticker.C:
			}

			responses, err := e.mailbox.Fetch(ctx, gameID, turnNumber, keys)
			if err != nil {
				if ctx.Err() != nil {
					outcome = "canceled"
					break poll
				}
				log.Warn("Response fetch failed", zap.Error(err))
				em.Emit(models.EventRequestError, models.ErrorPayload{Message: err.Error()})
				continue
			}

			for i := range responses {
				resp := responses[i]
				slot := fmt.Sprintf("%s:%s", resp.RequestID, resp.PlayerID)
				if seen[slot] {
					continue
				}
				seen[slot] = true
				collected = append(collected, resp)
				em.Emit(models.EventRequestResponse, models.RequestResponsePayload{
					RequestID: resp.RequestID.String(),
					PlayerID:  resp.PlayerID.String(),
					Response:  resp.Response,
				})
				if e.notifier != nil {
					e.notifier.NotifyResponse(gameID, &resp)
				}
			}
		}

		if ctx.Err() == nil {
			em.Emit(models.EventRequestsComplete, models.RequestsCompletePayload{Responses: collected})
			// Collected answers live on inside the persisted turn.
			cleanupCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := e.mailbox.Clear(cleanupCtx, gameID, turnNumber, keys); err != nil {
				log.Warn("Mailbox cleanup failed", zap.Error(err))
			}
			cancel()
		}
		responsesCollected.With(prometheus.Labels{"outcome": outcome}).Observe(float64(len(collected)))

		ch <- collected
	}()

	return ch
}
