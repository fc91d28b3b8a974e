package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"narrator-server/internal/imagegen"
	"narrator-server/internal/models"
	"narrator-server/internal/speech"
)

// MockImageGenerator is a mock type for the imagegen.Generator type.
type MockImageGenerator struct {
	mock.Mock
}

func (_m *MockImageGenerator) Generate(ctx context.Context, gameID string, prompt string, onPartial imagegen.PartialFunc) (*models.GeneratedImage, error) {
	ret := _m.Called(ctx, gameID, prompt, onPartial)

	var r0 *models.GeneratedImage
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.GeneratedImage)
	}
	return r0, ret.Error(1)
}

// MockSynthesizer is a mock type for the speech.Synthesizer type.
type MockSynthesizer struct {
	mock.Mock
}

func (_m *MockSynthesizer) Synthesize(ctx context.Context, gameID string, text string, onChunk speech.ChunkFunc) (*models.AudioAlignment, error) {
	ret := _m.Called(ctx, gameID, text, onChunk)

	var r0 *models.AudioAlignment
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.AudioAlignment)
	}
	return r0, ret.Error(1)
}
