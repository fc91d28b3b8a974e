package handler

import "narrator-server/internal/models"

// CreateGameRequest starts a new lobby.
type CreateGameRequest struct {
	Premise   string `json:"premise" binding:"required"`
	HostName  string `json:"hostName" binding:"required"`
	AvatarURL string `json:"avatarUrl"`
}

// JoinGameRequest adds a player to an open lobby.
type JoinGameRequest struct {
	JoinCode  string `json:"joinCode" binding:"required"`
	Name      string `json:"name" binding:"required"`
	AvatarURL string `json:"avatarUrl"`
}

// GameResponse returns the game state together with the caller's
// credentials when they were just issued.
type GameResponse struct {
	Game     *models.Game `json:"game"`
	PlayerID string       `json:"playerId,omitempty"`
	Token    string       `json:"token,omitempty"`
}

// SubmitResponseRequest carries one player's answer to a turn request.
type SubmitResponseRequest struct {
	RequestID string  `json:"requestId" binding:"required"`
	Response  *string `json:"response"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

// StatusResponse acknowledges state-changing calls without a body.
type StatusResponse struct {
	Status string `json:"status"`
}
