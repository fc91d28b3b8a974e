package models

import (
	"time"

	"github.com/google/uuid"
)

// TagSegment is the result of scanning the turn buffer for one tag.
// Closed=false means the opening tag streamed in but the closing tag has
// not; Content is then the partial, still-growing text. Once Closed is
// true the content is final for that tag.
type TagSegment struct {
	Content string
	Closed  bool
}

// ParsedTurn holds the finalized fields extracted from a complete turn
// document. Continuation is always non-empty; ImagePrompt may be absent.
type ParsedTurn struct {
	Continuation string
	ImagePrompt  string
}

// GeneratedImage is the final artifact of one image generation.
type GeneratedImage struct {
	URL      string `json:"url"`
	B64      string `json:"-"` // raw encoded payload, dropped after upload
	Format   string `json:"format,omitempty"`
	Partials int    `json:"partials,omitempty"`
}

// TurnUsage records the token accounting of the narration that produced
// a turn.
type TurnUsage struct {
	PromptTokens     int     `json:"promptTokens"`
	CompletionTokens int     `json:"completionTokens"`
	TotalTokens      int     `json:"totalTokens"`
	EstimatedCostUSD float64 `json:"estimatedCostUsd,omitempty"`
}

// GameTurn is the persisted artifact of one completed turn. It is created
// exactly once, after all generation and response collection finished, and
// is immutable thereafter.
type GameTurn struct {
	ID           uuid.UUID         `json:"id"`
	Number       int               `json:"number"`
	Continuation string            `json:"continuation"`
	ImagePrompt  string            `json:"imagePrompt,omitempty"`
	Image        *GeneratedImage   `json:"image,omitempty"`
	Requests     []Request         `json:"requests,omitempty"`
	Responses    []RequestResponse `json:"responses,omitempty"`
	Usage        *TurnUsage        `json:"usage,omitempty"`
	CreatedAt    time.Time         `json:"createdAt"`
}
