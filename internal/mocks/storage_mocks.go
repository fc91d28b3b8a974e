package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"narrator-server/internal/models"
	"narrator-server/internal/storage"
)

// MockGameRepository is a mock type for the storage.GameRepository type.
type MockGameRepository struct {
	mock.Mock
}

func (_m *MockGameRepository) Create(ctx context.Context, game *models.Game) error {
	return _m.Called(ctx, game).Error(0)
}

func (_m *MockGameRepository) Get(ctx context.Context, gameID string) (*models.Game, error) {
	ret := _m.Called(ctx, gameID)
	var r0 *models.Game
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Game)
	}
	return r0, ret.Error(1)
}

func (_m *MockGameRepository) GetByJoinCode(ctx context.Context, joinCode string) (*models.Game, error) {
	ret := _m.Called(ctx, joinCode)
	var r0 *models.Game
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Game)
	}
	return r0, ret.Error(1)
}

func (_m *MockGameRepository) Save(ctx context.Context, game *models.Game) error {
	return _m.Called(ctx, game).Error(0)
}

func (_m *MockGameRepository) AppendTurn(ctx context.Context, gameID string, turn *models.GameTurn) (*models.Game, error) {
	ret := _m.Called(ctx, gameID, turn)
	var r0 *models.Game
	if ret.Get(0) != nil {
		r0 = ret.Get(0).(*models.Game)
	}
	return r0, ret.Error(1)
}

// MockResponseMailbox is a mock type for the storage.ResponseMailbox type.
type MockResponseMailbox struct {
	mock.Mock
}

func (_m *MockResponseMailbox) Submit(ctx context.Context, gameID string, turnNumber int, resp *models.RequestResponse) (bool, error) {
	ret := _m.Called(ctx, gameID, turnNumber, resp)
	return ret.Bool(0), ret.Error(1)
}

func (_m *MockResponseMailbox) Fetch(ctx context.Context, gameID string, turnNumber int, keys []storage.ResponseKey) ([]models.RequestResponse, error) {
	ret := _m.Called(ctx, gameID, turnNumber, keys)
	var r0 []models.RequestResponse
	if rf, ok := ret.Get(0).(func(context.Context, string, int, []storage.ResponseKey) []models.RequestResponse); ok {
		r0 = rf(ctx, gameID, turnNumber, keys)
	} else if ret.Get(0) != nil {
		r0 = ret.Get(0).([]models.RequestResponse)
	}
	return r0, ret.Error(1)
}

func (_m *MockResponseMailbox) Clear(ctx context.Context, gameID string, turnNumber int, keys []storage.ResponseKey) error {
	return _m.Called(ctx, gameID, turnNumber, keys).Error(0)
}

// MockImageStore is a mock type for the storage.ImageStore type.
type MockImageStore struct {
	mock.Mock
}

func (_m *MockImageStore) SaveImage(gameID string, turnNumber int, b64 string, format string) (string, error) {
	ret := _m.Called(gameID, turnNumber, b64, format)
	return ret.String(0), ret.Error(1)
}
