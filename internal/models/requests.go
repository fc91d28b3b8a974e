package models

import (
	"time"

	"github.com/google/uuid"
)

// RequestType enumerates the structured player prompts a turn may embed.
type RequestType string

const (
	RequestTypeMultipleChoice RequestType = "multiple_choice"
	RequestTypeFreeText       RequestType = "free_text"
	RequestTypeYesNo          RequestType = "yes_no"
	RequestTypeDiceRoll       RequestType = "dice_roll"
)

// Request is one prompt embedded in a turn that some subset of players must
// answer. Multiple-choice targets every player; the other types target
// exactly one player, resolved positionally from the roster at parse time.
type Request struct {
	ID       uuid.UUID   `json:"id"`
	Type     RequestType `json:"type"`
	Question string      `json:"question"`
	Choices  []string    `json:"choices,omitempty"` // multiple_choice only

	// TargetPlayerIDs holds the resolved recipients. For multiple_choice it
	// is the full roster; otherwise a single entry.
	TargetPlayerIDs []uuid.UUID `json:"targetPlayerIds"`
}

// TargetsAll reports whether every player must answer this request.
func (r *Request) TargetsAll() bool {
	return r.Type == RequestTypeMultipleChoice
}

// RequestResponse is one collected answer for a (request, player) pair.
// Response is nil when the collection window closed before the player
// answered.
type RequestResponse struct {
	RequestID uuid.UUID `json:"requestId"`
	PlayerID  uuid.UUID `json:"playerId"`
	Response  *string   `json:"response"`
	Timestamp time.Time `json:"timestamp"`
}
