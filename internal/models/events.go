package models

import (
	"encoding/json"
	"time"
)

// Event names pushed over the turn event stream. Order within a turn is the
// server's emission order; turn_complete is always the last turn-scoped
// event before done.
const (
	EventTurnStatus           = "turn_status"
	EventContinuationChunk    = "continuation_chunk"
	EventContinuationComplete = "continuation_complete"
	EventImagePrompt          = "image_prompt"
	EventImagePartial         = "image_partial"
	EventImageComplete        = "image_complete"
	EventImageError           = "image_error"
	EventAudioChunk           = "audio_chunk"
	EventAudioComplete        = "audio_complete"
	EventAudioError           = "audio_error"
	EventRequestsReceived     = "requests_received"
	EventRequestResponse      = "request_response"
	EventRequestError         = "request_error"
	EventRequestsComplete     = "requests_complete"
	EventTurnComplete         = "turn_complete"
	EventTurnError            = "turn_error"
	EventDone                 = "done"
	EventPing                 = "ping"
)

// Turn phases reported via turn_status.
const (
	TurnPhasePreparing = "preparing"
	TurnPhaseNarration = "narration"
	TurnPhaseImage     = "image"
	TurnPhaseAudio     = "audio"
)

type TurnStatusPayload struct {
	Status string `json:"status"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type ImagePromptPayload struct {
	Prompt string `json:"prompt"`
}

type ImagePartialPayload struct {
	Image string `json:"image"`
	Index int    `json:"index"`
}

type ImageCompletePayload struct {
	Image *GeneratedImage `json:"image"`
	Usage json.RawMessage `json:"usage,omitempty"`
}

type AudioCompletePayload struct {
	TotalChunks int `json:"totalChunks"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type RequestsReceivedPayload struct {
	Requests   []Request `json:"requests"`
	TurnNumber int       `json:"turnNumber"`
}

type RequestResponsePayload struct {
	RequestID string  `json:"requestId"`
	PlayerID  string  `json:"playerId"`
	Response  *string `json:"response"`
}

type RequestsCompletePayload struct {
	Responses []RequestResponse `json:"responses"`
}

type TurnCompletePayload struct {
	Turn *GameTurn `json:"turn"`
}

type DonePayload struct {
	Status string `json:"status"`
}

type PingPayload struct {
	Timestamp time.Time `json:"timestamp"`
}
