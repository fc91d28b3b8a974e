package models

import (
	"time"

	"github.com/google/uuid"
)

// GameStatus describes the lifecycle of a game lobby.
type GameStatus string

const (
	GameStatusLobby    GameStatus = "lobby"    // players may still join
	GameStatusPlaying  GameStatus = "playing"  // turns are being generated
	GameStatusFinished GameStatus = "finished" // host ended the game
)

// Player is one participant who joined the lobby from a mobile device.
type Player struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	IsHost    bool      `json:"isHost"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Game is the persisted record for one party session. The player slice is
// positional: request targets like "player2" resolve against its order at
// turn-generation time.
type Game struct {
	ID         uuid.UUID  `json:"id"`
	JoinCode   string     `json:"joinCode"`
	Status     GameStatus `json:"status"`
	Premise    string     `json:"premise,omitempty"`
	Players    []Player   `json:"players"`
	Turns      []GameTurn `json:"turns"`
	CreatedAt  time.Time  `json:"createdAt"`
	LastTurnAt *time.Time `json:"lastTurnAt,omitempty"`
}

// TurnNumber returns the 1-based number the next generated turn will get.
func (g *Game) TurnNumber() int {
	return len(g.Turns) + 1
}

// FindPlayer returns the player with the given ID, or nil.
func (g *Game) FindPlayer(id uuid.UUID) *Player {
	for i := range g.Players {
		if g.Players[i].ID == id {
			return &g.Players[i]
		}
	}
	return nil
}
