package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"narrator-server/internal/config"
	"narrator-server/internal/models"
)

// ErrSpeechSynthesisFailed reports that the TTS backend could not voice
// the narration.
var ErrSpeechSynthesisFailed = errors.New("speech synthesis failed")

var (
	speechRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_speech_requests_total",
			Help: "Total number of speech synthesis requests.",
		},
		[]string{"voice", "status"},
	)
	speechRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_speech_request_duration_seconds",
			Help:    "Histogram of speech synthesis durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"voice"},
	)
	speechAlignedChars = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_speech_aligned_characters",
			Help:    "Histogram of aligned character counts per synthesis.",
			Buckets: prometheus.LinearBuckets(200, 200, 15),
		},
		[]string{"voice"},
	)
)

// ChunkFunc receives each streamed audio chunk in order. Returning an
// error aborts the synthesis.
type ChunkFunc func(chunk models.AudioChunk) error

// Synthesizer voices narration text and streams timed audio chunks. The
// returned alignment is the merge of every chunk's alignment slice. A
// canceled context stops the stream cleanly and returns context.Canceled.
type Synthesizer interface {
	Synthesize(ctx context.Context, gameID string, text string, onChunk ChunkFunc) (*models.AudioAlignment, error)
}

// elevenLabsSynthesizer implements Synthesizer against the ElevenLabs
// stream/with-timestamps endpoint.
type elevenLabsSynthesizer struct {
	cfg    config.SpeechConfig
	client *http.Client
	logger *zap.Logger
}

// NewSynthesizer creates the streaming TTS client. The timeout bounds
// the connection and response headers only: body streaming for a long
// narration outlives any fixed deadline, so it is bounded by the
// request context instead.
func NewSynthesizer(cfg config.SpeechConfig, logger *zap.Logger) Synthesizer {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	return &elevenLabsSynthesizer{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger.Named("SpeechSynthesizer"),
	}
}

type ttsRequest struct {
	Text    string `json:"text"`
	ModelID string `json:"model_id"`
}

type ttsAlignment struct {
	Characters                 []string  `json:"characters"`
	CharacterStartTimesSeconds []float64 `json:"character_start_times_seconds"`
	CharacterEndTimesSeconds   []float64 `json:"character_end_times_seconds"`
}

type ttsStreamChunk struct {
	AudioBase64         string        `json:"audio_base64"`
	Alignment           *ttsAlignment `json:"alignment"`
	NormalizedAlignment *ttsAlignment `json:"normalized_alignment"`
}

func toModelAlignment(a *ttsAlignment) *models.AudioAlignment {
	if a == nil {
		return nil
	}
	return &models.AudioAlignment{
		Characters:              a.Characters,
		CharacterStartTimesSecs: a.CharacterStartTimesSeconds,
		CharacterEndTimesSecs:   a.CharacterEndTimesSeconds,
	}
}

func (s *elevenLabsSynthesizer) Synthesize(ctx context.Context, gameID string, text string, onChunk ChunkFunc) (*models.AudioAlignment, error) {
	log := s.logger.With(zap.String("game_id", gameID), zap.String("voice", s.cfg.VoiceID))

	reqBody, err := json.Marshal(ttsRequest{Text: text, ModelID: s.cfg.ModelID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal TTS request: %w", err)
	}

	endpointURL := fmt.Sprintf("%s/v1/text-to-speech/%s/stream/with-timestamps?output_format=%s",
		s.cfg.BaseURL, s.cfg.VoiceID, s.cfg.OutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create TTS request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.cfg.APIKey)

	startTime := time.Now()
	log.Info("Requesting streamed speech", zap.Int("text_bytes", len(text)))

	resp, err := s.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "error_http"}).Inc()
		return nil, fmt.Errorf("%w: %v", ErrSpeechSynthesisFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "error_status"}).Inc()
		return nil, fmt.Errorf("%w: API returned status %d: %s", ErrSpeechSynthesisFailed, resp.StatusCode, string(body))
	}

	// The endpoint streams newline-delimited JSON objects.
	decoder := json.NewDecoder(resp.Body)
	merged := &models.AudioAlignment{}
	index := 0

	for {
		var chunk ttsStreamChunk
		if err := decoder.Decode(&chunk); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				log.Info("Speech stream stopped by cancellation")
				speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "canceled"}).Inc()
				return nil, context.Canceled
			}
			speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "error_stream"}).Inc()
			return nil, fmt.Errorf("%w: stream decode: %v", ErrSpeechSynthesisFailed, err)
		}

		if chunk.AudioBase64 == "" && chunk.Alignment == nil {
			continue
		}

		audio, decErr := base64.StdEncoding.DecodeString(chunk.AudioBase64)
		if decErr != nil {
			speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "error_decode"}).Inc()
			return nil, fmt.Errorf("%w: bad audio chunk encoding: %v", ErrSpeechSynthesisFailed, decErr)
		}

		alignment := toModelAlignment(chunk.Alignment)
		if err := merged.Append(alignment); err != nil {
			speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "error_alignment"}).Inc()
			return nil, fmt.Errorf("%w: %v", ErrSpeechSynthesisFailed, err)
		}

		if onChunk != nil {
			err := onChunk(models.AudioChunk{
				Audio:               audio,
				AudioB64:            chunk.AudioBase64,
				Index:               index,
				Alignment:           alignment,
				NormalizedAlignment: toModelAlignment(chunk.NormalizedAlignment),
			})
			if err != nil {
				speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "error_chunk_handler"}).Inc()
				return nil, fmt.Errorf("chunk handler aborted stream: %w", err)
			}
		}
		index++
	}

	duration := time.Since(startTime)
	speechRequestsTotal.With(prometheus.Labels{"voice": s.cfg.VoiceID, "status": "success"}).Inc()
	speechRequestDuration.With(prometheus.Labels{"voice": s.cfg.VoiceID}).Observe(duration.Seconds())
	speechAlignedChars.With(prometheus.Labels{"voice": s.cfg.VoiceID}).Observe(float64(merged.Len()))

	log.Info("Speech stream finished",
		zap.Duration("duration", duration),
		zap.Int("chunks", index),
		zap.Int("aligned_characters", merged.Len()))

	return merged, nil
}
