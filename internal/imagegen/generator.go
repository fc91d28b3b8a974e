package imagegen

import (
	"bytes"
	"context"
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
	"narrator-server/internal/transport/sse"
)

// ErrImageGenerationFailed reports that the image backend could not
// produce an illustration.
var ErrImageGenerationFailed = errors.New("image generation failed")

var (
	imageRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "narrator_image_requests_total",
			Help: "Total number of image generation requests.",
		},
		[]string{"model", "status"},
	)
	imageRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "narrator_image_request_duration_seconds",
			Help:    "Histogram of image generation durations.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		},
		[]string{"model"},
	)
)

// PartialFunc receives low-resolution preview frames while the final
// image is still rendering. Index is the zero-based preview number.
type PartialFunc func(index int, b64 string)

// Generator produces one illustration per turn. A canceled context stops
// the stream cleanly and returns context.Canceled.
type Generator interface {
	Generate(ctx context.Context, gameID string, prompt string, onPartial PartialFunc) (*models.GeneratedImage, error)
}

// openAIStreamGenerator implements Generator against the OpenAI images
// API in streaming mode, surfacing partial_image frames as previews.
type openAIStreamGenerator struct {
	cfg    config.ImageConfig
	client *http.Client
	logger *zap.Logger
}

// NewGenerator creates the streaming image generator. The timeout bounds
// the connection and response headers only: rendering streams partial
// frames for longer than any fixed deadline, so the body is bounded by
// the request context instead.
func NewGenerator(cfg config.ImageConfig, logger *zap.Logger) Generator {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	return &openAIStreamGenerator{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger.Named("ImageGenerator"),
	}
}

type imageAPIRequest struct {
	Model         string `json:"model"`
	Prompt        string `json:"prompt"`
	Size          string `json:"size,omitempty"`
	Stream        bool   `json:"stream"`
	PartialImages int    `json:"partial_images,omitempty"`
	OutputFormat  string `json:"output_format,omitempty"`
}

type imageStreamEvent struct {
	Type              string `json:"type"`
	B64JSON           string `json:"b64_json"`
	PartialImageIndex int    `json:"partial_image_index"`
	OutputFormat      string `json:"output_format"`
	Error             *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (g *openAIStreamGenerator) Generate(ctx context.Context, gameID string, prompt string, onPartial PartialFunc) (*models.GeneratedImage, error) {
	log := g.logger.With(zap.String("game_id", gameID))

	reqPayload := imageAPIRequest{
		Model:         g.cfg.Model,
		Prompt:        prompt,
		Size:          g.cfg.Size,
		Stream:        true,
		PartialImages: g.cfg.PartialImages,
		OutputFormat:  "jpeg",
	}
	reqBody, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal image request: %w", err)
	}

	endpointURL := g.cfg.BaseURL + "/images/generations"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpointURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create image request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)

	startTime := time.Now()
	log.Info("Requesting streamed image", zap.String("model", g.cfg.Model), zap.Int("prompt_bytes", len(prompt)))

	resp, err := g.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return nil, context.Canceled
		}
		imageRequestsTotal.With(prometheus.Labels{"model": g.cfg.Model, "status": "error_http"}).Inc()
		return nil, fmt.Errorf("%w: %v", ErrImageGenerationFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		imageRequestsTotal.With(prometheus.Labels{"model": g.cfg.Model, "status": "error_status"}).Inc()
		return nil, fmt.Errorf("%w: API returned status %d: %s", ErrImageGenerationFailed, resp.StatusCode, string(body))
	}

	result := &models.GeneratedImage{Format: "jpeg"}
	readErr := sse.ReadEvents(resp.Body, func(ev sse.Event) error {
		var event imageStreamEvent
		if err := json.Unmarshal([]byte(ev.Data), &event); err != nil {
			log.Warn("Skipping malformed image stream event", zap.Error(err))
			return nil
		}
		switch event.Type {
		case "image_generation.partial_image":
			result.Partials++
			if onPartial != nil {
				onPartial(event.PartialImageIndex, event.B64JSON)
			}
		case "image_generation.completed":
			result.B64 = event.B64JSON
			if event.OutputFormat != "" {
				result.Format = event.OutputFormat
			}
		case "error":
			msg := "unknown stream error"
			if event.Error != nil {
				msg = event.Error.Message
			}
			return fmt.Errorf("%w: %s", ErrImageGenerationFailed, msg)
		}
		return nil
	})

	duration := time.Since(startTime)

	if readErr != nil {
		if errors.Is(readErr, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			log.Info("Image stream stopped by cancellation")
			imageRequestsTotal.With(prometheus.Labels{"model": g.cfg.Model, "status": "canceled"}).Inc()
			return nil, context.Canceled
		}
		imageRequestsTotal.With(prometheus.Labels{"model": g.cfg.Model, "status": "error_stream"}).Inc()
		if errors.Is(readErr, ErrImageGenerationFailed) {
			return nil, readErr
		}
		return nil, fmt.Errorf("%w: %v", ErrImageGenerationFailed, readErr)
	}

	if result.B64 == "" {
		imageRequestsTotal.With(prometheus.Labels{"model": g.cfg.Model, "status": "error_empty"}).Inc()
		return nil, fmt.Errorf("%w: stream finished without a completed image", ErrImageGenerationFailed)
	}

	imageRequestsTotal.With(prometheus.Labels{"model": g.cfg.Model, "status": "success"}).Inc()
	imageRequestDuration.With(prometheus.Labels{"model": g.cfg.Model}).Observe(duration.Seconds())
	log.Info("Image stream finished",
		zap.Duration("duration", duration),
		zap.Int("partials", result.Partials),
		zap.Int("b64_bytes", len(result.B64)))

	return result, nil
}
