package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"
	"github.com/prometheus/client_golang/prometheus"
	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// openAIClient implements Client on top of the go-openai chat stream API.
type openAIClient struct {
	client *openaigo.Client
	model  string
	logger *zap.Logger
}

func (c *openAIClient) GenerateTextStream(ctx context.Context, gameID string, systemPrompt string, userInput string, params GenerationParams, chunkHandler func(string) error) (UsageInfo, error) {
	usageInfo := UsageInfo{}
	if strings.TrimSpace(systemPrompt) == "" {
		return usageInfo, fmt.Errorf("%w: empty system prompt", ErrGenerationFailed)
	}

	messages := []openaigo.ChatCompletionMessage{
		{Role: openaigo.ChatMessageRoleSystem, Content: systemPrompt},
	}
	if userInput != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleUser,
			Content: userInput,
		})
	}

	request := openaigo.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Stream:      true,
		Temperature: float32Val(params.Temperature),
		MaxTokens:   intVal(params.MaxTokens),
		TopP:        float32Val(params.TopP),
	}

	c.logger.Debug("Starting OpenAI stream",
		zap.String("game_id", gameID),
		zap.String("model", c.model),
		zap.Int("system_prompt_bytes", len(systemPrompt)),
		zap.Int("user_input_bytes", len(userInput)))

	stream, err := c.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_stream_init"}).Inc()
		return usageInfo, fmt.Errorf("%w: stream init: %v", ErrGenerationFailed, err)
	}
	defer stream.Close()

	startTime := time.Now()
	completionTokensCount := 0
	var finalUsage openaigo.Usage

	// Token estimation fallback; the final usage block wins when present.
	tke, tkeErr := tiktoken.EncodingForModel(c.model)

	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// A canceled turn is a clean stop, not a generation failure.
			if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
				c.logger.Info("OpenAI stream stopped by cancellation", zap.String("game_id", gameID))
				aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "canceled"}).Inc()
				return usageInfo, nil
			}
			aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_stream_read"}).Inc()
			return usageInfo, fmt.Errorf("%w: stream read: %v", ErrGenerationFailed, err)
		}

		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			finalUsage = *response.Usage
		}

		if len(response.Choices) > 0 {
			chunk := response.Choices[0].Delta.Content
			if chunk == "" {
				continue
			}
			if tkeErr == nil {
				completionTokensCount += len(tke.Encode(chunk, nil, nil))
			}
			if chunkHandler != nil {
				if err := chunkHandler(chunk); err != nil {
					aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "error_chunk_handler"}).Inc()
					return usageInfo, fmt.Errorf("chunk handler aborted stream: %w", err)
				}
			}
		}
	}

	duration := time.Since(startTime)

	if finalUsage.TotalTokens > 0 {
		usageInfo.PromptTokens = finalUsage.PromptTokens
		usageInfo.CompletionTokens = finalUsage.CompletionTokens
		usageInfo.TotalTokens = finalUsage.TotalTokens
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success_stream"}).Inc()
	} else if tkeErr == nil {
		// Estimate the prompt side when the API omits the usage block.
		promptTokensCount := len(tke.Encode(systemPrompt, nil, nil)) + len(tke.Encode(userInput, nil, nil))
		usageInfo.PromptTokens = promptTokensCount
		usageInfo.CompletionTokens = completionTokensCount
		usageInfo.TotalTokens = promptTokensCount + completionTokensCount
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success_stream_estimated"}).Inc()
	} else {
		aiRequestsTotal.With(prometheus.Labels{"model": c.model, "status": "success_stream_no_tokens"}).Inc()
	}

	if usageInfo.TotalTokens > 0 {
		usageInfo.EstimatedCostUSD = calculateCost(usageInfo.PromptTokens, usageInfo.CompletionTokens)
		aiPromptTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(usageInfo.PromptTokens))
		aiCompletionTokens.With(prometheus.Labels{"model": c.model}).Observe(float64(usageInfo.CompletionTokens))
		if usageInfo.EstimatedCostUSD > 0 {
			aiEstimatedCostUSD.With(prometheus.Labels{"model": c.model}).Add(usageInfo.EstimatedCostUSD)
		}
	}
	aiRequestDuration.With(prometheus.Labels{"model": c.model}).Observe(duration.Seconds())

	c.logger.Info("OpenAI stream finished",
		zap.String("game_id", gameID),
		zap.Duration("duration", duration),
		zap.Int("prompt_tokens", usageInfo.PromptTokens),
		zap.Int("completion_tokens", usageInfo.CompletionTokens))

	return usageInfo, nil
}
