package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.uber.org/zap"

	"narrator-server/internal/ai"
	"narrator-server/internal/config"
	"narrator-server/internal/engine"
	"narrator-server/internal/handler"
	"narrator-server/internal/imagegen"
	appLogger "narrator-server/internal/logger"
	"narrator-server/internal/speech"
	"narrator-server/internal/storage"
	"narrator-server/internal/wsnotify"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := appLogger.New(appLogger.Config{
		Level:    cfg.Log.Level,
		Encoding: cfg.Log.Encoding,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	zlog := zerolog.New(os.Stdout).With().Timestamp().Logger()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Failed to connect to redis", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	logger.Info("Connected to redis", zap.String("addr", cfg.Redis.Addr))

	gameRepo := storage.NewRedisGameRepository(redisClient, cfg.Redis.GameTTL, logger)
	mailbox := storage.NewRedisResponseMailbox(redisClient, cfg.Redis.GameTTL, logger)

	imageStore, err := storage.NewFileImageStore(cfg.Image.SavePath, cfg.Image.PublicBaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize image store", zap.Error(err))
	}

	aiClient, err := ai.NewClient(cfg.AI, logger)
	if err != nil {
		logger.Fatal("Failed to initialize AI client", zap.Error(err))
	}
	prompts, err := ai.NewPromptProvider(cfg.AI.PromptsDir, logger)
	if err != nil {
		logger.Fatal("Failed to load prompt templates", zap.Error(err))
	}

	imageGen := imagegen.NewGenerator(cfg.Image, logger)
	synthesizer := speech.NewSynthesizer(cfg.Speech, logger)

	connManager := wsnotify.NewConnectionManager(zlog)
	wsHandler := wsnotify.NewWebSocketHandler(connManager, cfg.Auth.JWTSecret, zlog)

	turnEngine := engine.NewTurnEngine(
		gameRepo,
		mailbox,
		imageStore,
		aiClient,
		prompts,
		imageGen,
		synthesizer,
		connManager,
		cfg.Turn,
		logger,
	)

	apiHandler := handler.NewHandler(
		gameRepo,
		turnEngine,
		wsHandler,
		cfg.Auth.JWTSecret,
		cfg.Auth.JoinTokenTTL,
		cfg.Image.SavePath,
		logger,
	)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
	}))
	apiHandler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Starting narrator-server", zap.String("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("Redis close failed", zap.Error(err))
	}
	logger.Info("Server stopped")
}
