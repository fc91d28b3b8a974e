package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"narrator-server/internal/ai"
)

// MockAIClient is a mock type for the ai.Client type.
type MockAIClient struct {
	mock.Mock
}

// GenerateTextStream provides a mock function. Use Run to drive the
// chunk handler with scripted deltas.
func (_m *MockAIClient) GenerateTextStream(ctx context.Context, gameID string, systemPrompt string, userInput string, params ai.GenerationParams, chunkHandler func(string) error) (ai.UsageInfo, error) {
	ret := _m.Called(ctx, gameID, systemPrompt, userInput, params, chunkHandler)

	var r0 ai.UsageInfo
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(ai.UsageInfo)
	}
	return r0, ret.Error(1)
}
