package handler

import (
	"crypto/rand"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"narrator-server/internal/engine"
	"narrator-server/internal/models"
	"narrator-server/internal/storage"
	"narrator-server/internal/transport/sse"
	"narrator-server/internal/wsnotify"
)

const maxPlayers = 10

// Handler wires the HTTP API: lobby management, the turn event stream
// and response submission.
type Handler struct {
	repo      storage.GameRepository
	engine    *engine.TurnEngine
	wsHandler *wsnotify.WebSocketHandler
	jwtSecret []byte
	tokenTTL  time.Duration
	imageDir  string
	logger    *zap.Logger
}

// NewHandler creates the API handler.
func NewHandler(
	repo storage.GameRepository,
	turnEngine *engine.TurnEngine,
	wsHandler *wsnotify.WebSocketHandler,
	jwtSecret string,
	tokenTTL time.Duration,
	imageDir string,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		repo:      repo,
		engine:    turnEngine,
		wsHandler: wsHandler,
		jwtSecret: []byte(jwtSecret),
		tokenTTL:  tokenTTL,
		imageDir:  imageDir,
		logger:    logger.Named("HTTPHandler"),
	}
}

// RegisterRoutes attaches all routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/ws", gin.WrapF(h.wsHandler.ServeWS))
	router.Static("/images", h.imageDir)

	api := router.Group("/api")
	{
		api.POST("/games", h.createGame)
		api.POST("/games/join", h.joinGame)

		authed := api.Group("", h.authMiddleware())
		{
			authed.GET("/games/:id", h.getGame)
			authed.GET("/games/:id/turn", h.streamTurn)
			authed.POST("/games/:id/responses", h.submitResponse)
			authed.POST("/games/:id/audio-ack", h.ackAudio)
		}
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, StatusResponse{Status: "ok"})
}

// joinCodeAlphabet avoids ambiguous characters on phone screens.
const joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func generateJoinCode() (string, error) {
	code := make([]byte, 6)
	for i := range code {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(joinCodeAlphabet))))
		if err != nil {
			return "", err
		}
		code[i] = joinCodeAlphabet[n.Int64()]
	}
	return string(code), nil
}

func (h *Handler) createGame(c *gin.Context) {
	var req CreateGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	joinCode, err := generateJoinCode()
	if err != nil {
		h.respondError(c, err)
		return
	}

	host := models.Player{
		ID:        uuid.New(),
		Name:      req.HostName,
		AvatarURL: req.AvatarURL,
		IsHost:    true,
		JoinedAt:  time.Now().UTC(),
	}
	game := &models.Game{
		ID:        uuid.New(),
		JoinCode:  joinCode,
		Status:    models.GameStatusLobby,
		Premise:   req.Premise,
		Players:   []models.Player{host},
		CreatedAt: time.Now().UTC(),
	}

	if err := h.repo.Create(c.Request.Context(), game); err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.issueJoinToken(game.ID.String(), host.ID.String(), true)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, GameResponse{
		Game:     game,
		PlayerID: host.ID.String(),
		Token:    token,
	})
}

func (h *Handler) joinGame(c *gin.Context) {
	var req JoinGameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	ctx := c.Request.Context()
	game, err := h.repo.GetByJoinCode(ctx, req.JoinCode)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if game.Status != models.GameStatusLobby {
		h.respondError(c, models.ErrGameNotJoinable)
		return
	}
	if len(game.Players) >= maxPlayers {
		h.respondError(c, models.ErrGameFull)
		return
	}
	for _, pl := range game.Players {
		if pl.Name == req.Name {
			h.respondError(c, models.ErrNameTaken)
			return
		}
	}

	player := models.Player{
		ID:        uuid.New(),
		Name:      req.Name,
		AvatarURL: req.AvatarURL,
		JoinedAt:  time.Now().UTC(),
	}
	game.Players = append(game.Players, player)

	if err := h.repo.Save(ctx, game); err != nil {
		h.respondError(c, err)
		return
	}

	token, err := h.issueJoinToken(game.ID.String(), player.ID.String(), false)
	if err != nil {
		h.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, GameResponse{
		Game:     game,
		PlayerID: player.ID.String(),
		Token:    token,
	})
}

func (h *Handler) getGame(c *gin.Context) {
	gameID, ok := requireGameMatch(c)
	if !ok {
		return
	}
	game, err := h.repo.Get(c.Request.Context(), gameID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, GameResponse{Game: game})
}

// streamTurn opens the turn event stream and drives turn generation.
// The connection stays open until the turn reaches a terminal event;
// closing it cancels the turn cleanly.
func (h *Handler) streamTurn(c *gin.Context) {
	gameID, ok := requireGameMatch(c)
	if !ok {
		return
	}
	if !c.GetBool(ctxIsHostKey) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the host can run turns"})
		return
	}

	stream, err := sse.NewStream(c.Writer, h.logger)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "streaming unsupported"})
		return
	}
	defer stream.Close()

	if err := h.engine.RunTurn(c.Request.Context(), gameID, stream); err != nil {
		// Terminal events already went over the stream; just log here.
		h.logger.Warn("Turn run finished with error",
			zap.String("game_id", gameID),
			zap.Error(err))
	}
}

func (h *Handler) submitResponse(c *gin.Context) {
	gameID, ok := requireGameMatch(c)
	if !ok {
		return
	}

	var req SubmitResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	requestID, err := uuid.Parse(req.RequestID)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request id"})
		return
	}
	playerID, err := uuid.Parse(c.GetString(ctxPlayerIDKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid player id"})
		return
	}

	if err := h.engine.SubmitResponse(c.Request.Context(), gameID, requestID, playerID, req.Response); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, StatusResponse{Status: "accepted"})
}

func (h *Handler) ackAudio(c *gin.Context) {
	gameID, ok := requireGameMatch(c)
	if !ok {
		return
	}
	if !c.GetBool(ctxIsHostKey) {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "only the host acknowledges playback"})
		return
	}
	if err := h.engine.AckAudio(gameID); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, StatusResponse{Status: "acknowledged"})
}

// respondError maps sentinel errors to HTTP status codes.
func (h *Handler) respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, models.ErrGameNotFound), errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrGameFull),
		errors.Is(err, models.ErrGameNotJoinable),
		errors.Is(err, models.ErrNameTaken),
		errors.Is(err, models.ErrTurnAlreadyRunning):
		status = http.StatusConflict
	case errors.Is(err, models.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized), errors.Is(err, models.ErrTokenInvalid):
		status = http.StatusUnauthorized
	case errors.Is(err, models.ErrForbidden):
		status = http.StatusForbidden
	}
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", zap.Error(err))
		c.JSON(status, ErrorResponse{Error: "internal server error"})
		return
	}
	c.JSON(status, ErrorResponse{Error: err.Error()})
}
