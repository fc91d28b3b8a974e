package wsnotify

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"narrator-server/internal/models"
)

// Client is one player's device connection within a game.
type Client struct {
	GameID   string
	PlayerID string
	Conn     *websocket.Conn
	send     chan []byte
}

// ConnectionManager tracks player device connections grouped by game and
// pushes turn requests to them.
type ConnectionManager struct {
	clients    map[string]map[string]*Client // gameID -> playerID -> client
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     zerolog.Logger
}

// NewConnectionManager creates and starts a connection manager.
func NewConnectionManager(logger zerolog.Logger) *ConnectionManager {
	m := &ConnectionManager{
		clients:    make(map[string]map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger.With().Str("component", "ConnectionManager").Logger(),
	}
	go m.run()
	return m
}

func (m *ConnectionManager) run() {
	m.logger.Info().Msg("ConnectionManager started")
	for {
		select {
		case client := <-m.register:
			m.mu.Lock()
			game, ok := m.clients[client.GameID]
			if !ok {
				game = make(map[string]*Client)
				m.clients[client.GameID] = game
			}
			// A reconnecting device replaces its old connection.
			if oldClient, ok := game[client.PlayerID]; ok {
				m.logger.Info().
					Str("gameID", client.GameID).
					Str("playerID", client.PlayerID).
					Msg("Closing stale connection")
				close(oldClient.send)
				_ = oldClient.Conn.Close()
			}
			game[client.PlayerID] = client
			m.mu.Unlock()
			m.logger.Info().
				Str("gameID", client.GameID).
				Str("playerID", client.PlayerID).
				Msg("Client registered")

		case client := <-m.unregister:
			m.mu.Lock()
			if game, ok := m.clients[client.GameID]; ok {
				if current, ok := game[client.PlayerID]; ok && current == client {
					delete(game, client.PlayerID)
					close(client.send)
					if len(game) == 0 {
						delete(m.clients, client.GameID)
					}
					m.logger.Info().
						Str("gameID", client.GameID).
						Str("playerID", client.PlayerID).
						Msg("Client unregistered")
				}
			}
			m.mu.Unlock()
		}
	}
}

// RegisterClient registers a new player connection.
func (m *ConnectionManager) RegisterClient(client *Client) {
	m.register <- client
}

// UnregisterClient removes a player connection.
func (m *ConnectionManager) UnregisterClient(client *Client) {
	m.unregister <- client
}

// pushMessage is the wire envelope sent to player devices.
type pushMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// sendToPlayer queues a message for one player. Returns false when the
// player is offline or their queue is full.
func (m *ConnectionManager) sendToPlayer(gameID, playerID string, message []byte) bool {
	m.mu.RLock()
	var client *Client
	if game, ok := m.clients[gameID]; ok {
		client = game[playerID]
	}
	m.mu.RUnlock()

	if client == nil {
		return false
	}
	select {
	case client.send <- message:
		return true
	default:
		m.logger.Warn().
			Str("gameID", gameID).
			Str("playerID", playerID).
			Msg("Send queue full, dropping message")
		return false
	}
}

// broadcastToGame queues a message for every connected player of a game.
func (m *ConnectionManager) broadcastToGame(gameID string, message []byte) {
	m.mu.RLock()
	game := m.clients[gameID]
	targets := make([]*Client, 0, len(game))
	for _, client := range game {
		targets = append(targets, client)
	}
	m.mu.RUnlock()

	for _, client := range targets {
		select {
		case client.send <- message:
		default:
			m.logger.Warn().
				Str("gameID", gameID).
				Str("playerID", client.PlayerID).
				Msg("Send queue full, dropping broadcast")
		}
	}
}

// NotifyRequests pushes the turn's requests to the devices they target.
// Requests addressed to everyone are broadcast; targeted requests go to
// their players only.
func (m *ConnectionManager) NotifyRequests(gameID string, turnNumber int, requests []models.Request) {
	for i := range requests {
		req := requests[i]
		message, err := json.Marshal(pushMessage{
			Type: "request",
			Payload: map[string]any{
				"turnNumber": turnNumber,
				"request":    req,
			},
		})
		if err != nil {
			m.logger.Error().Err(err).Msg("Failed to marshal request push")
			continue
		}
		if req.TargetsAll() {
			m.broadcastToGame(gameID, message)
			continue
		}
		for _, playerID := range req.TargetPlayerIDs {
			m.sendToPlayer(gameID, playerID.String(), message)
		}
	}
}

// NotifyResponse broadcasts an accepted answer so every device can show
// who already responded.
func (m *ConnectionManager) NotifyResponse(gameID string, resp *models.RequestResponse) {
	message, err := json.Marshal(pushMessage{
		Type:    "response",
		Payload: resp,
	})
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to marshal response push")
		return
	}
	m.broadcastToGame(gameID, message)
}
