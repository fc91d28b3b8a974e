package models

import "errors"

// Application-wide standard errors
var (
	// Common resource errors
	ErrNotFound     = errors.New("resource not found")
	ErrGameNotFound = errors.New("game not found")

	// Lobby errors
	ErrGameFull        = errors.New("game lobby is full")
	ErrGameNotJoinable = errors.New("game is not accepting players")
	ErrNameTaken       = errors.New("player name already taken in this game")

	// Auth errors
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrTokenInvalid = errors.New("token is invalid")

	// Turn document schema errors (fatal to the turn)
	ErrMissingTurnBlock    = errors.New("turn document has no <turn> block")
	ErrMissingContinuation = errors.New("turn document has no continuation text")

	// Generation errors
	ErrGenerationFailed   = errors.New("narration generation failed")
	ErrImageFailed        = errors.New("image generation failed")
	ErrSpeechFailed       = errors.New("speech synthesis failed")
	ErrTurnAlreadyRunning = errors.New("a turn is already being generated for this game")

	// Alignment errors
	ErrAlignmentMismatch = errors.New("audio alignment arrays are inconsistent")

	// General request/server errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)
