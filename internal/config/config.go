package config

import (
	"fmt"
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"

	"narrator-server/internal/utils"
)

// Config holds the full narrator-server configuration.
type Config struct {
	Server ServerConfig
	Log    LogConfig
	Redis  RedisConfig
	Auth   AuthConfig
	AI     AIConfig
	Image  ImageConfig
	Speech SpeechConfig
	Turn   TurnConfig
}

// ServerConfig holds the HTTP server settings.
type ServerConfig struct {
	Port            string        `envconfig:"PORT" default:"8080"`
	CORSOrigins     []string      `envconfig:"CORS_ORIGINS" default:"*"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level    string `envconfig:"LOG_LEVEL" default:"info"`
	Encoding string `envconfig:"LOG_ENCODING" default:"json"`
}

// RedisConfig holds settings for the game store and response mailbox.
type RedisConfig struct {
	Addr     string        `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	DB       int           `envconfig:"REDIS_DB" default:"0"`
	GameTTL  time.Duration `envconfig:"GAME_TTL" default:"24h"`
	Password string        // loaded from secret (optional)
}

// AuthConfig holds player join-token settings.
type AuthConfig struct {
	JoinTokenTTL time.Duration `envconfig:"JOIN_TOKEN_TTL" default:"12h"`
	JWTSecret    string        // loaded from secret
}

// AIConfig holds the text generation client settings.
type AIConfig struct {
	ClientType string        `envconfig:"AI_CLIENT_TYPE" default:"openai"`
	BaseURL    string        `envconfig:"AI_BASE_URL" default:"https://api.openai.com/v1"`
	Model      string        `envconfig:"AI_MODEL" default:"gpt-4o"`
	Timeout    time.Duration `envconfig:"AI_TIMEOUT" default:"120s"`
	PromptsDir string        `envconfig:"PROMPTS_DIR" default:"prompts"`
	APIKey     string        // loaded from secret
}

// ImageConfig holds settings for streaming image generation.
type ImageConfig struct {
	BaseURL       string        `envconfig:"IMAGE_BASE_URL" default:"https://api.openai.com/v1"`
	Model         string        `envconfig:"IMAGE_MODEL" default:"gpt-image-1"`
	Size          string        `envconfig:"IMAGE_SIZE" default:"1536x1024"`
	PartialImages int           `envconfig:"IMAGE_PARTIALS" default:"2"`
	Timeout       time.Duration `envconfig:"IMAGE_TIMEOUT" default:"120s"`
	SavePath      string        `envconfig:"IMAGE_SAVE_PATH" default:"./data/images"`
	PublicBaseURL string        `envconfig:"IMAGE_PUBLIC_BASE_URL" default:"http://localhost:8080/images"`
	APIKey        string        // loaded from secret, falls back to the AI key
}

// SpeechConfig holds settings for streaming speech synthesis.
type SpeechConfig struct {
	BaseURL      string        `envconfig:"SPEECH_BASE_URL" default:"https://api.elevenlabs.io"`
	VoiceID      string        `envconfig:"SPEECH_VOICE_ID" default:"EXAVITQu4vr4xnSDxMaL"`
	ModelID      string        `envconfig:"SPEECH_MODEL_ID" default:"eleven_multilingual_v2"`
	OutputFormat string        `envconfig:"SPEECH_OUTPUT_FORMAT" default:"mp3_44100_128"`
	Timeout      time.Duration `envconfig:"SPEECH_TIMEOUT" default:"120s"`
	APIKey       string        // loaded from secret
}

// TurnConfig holds turn orchestration parameters.
type TurnConfig struct {
	StreamContinuation   bool          `envconfig:"STREAM_CONTINUATION" default:"true"`
	ResponseTimeout      time.Duration `envconfig:"RESPONSE_TIMEOUT" default:"120s"`
	ResponsePollInterval time.Duration `envconfig:"RESPONSE_POLL_INTERVAL" default:"2s"`
	AudioAckTimeout      time.Duration `envconfig:"AUDIO_ACK_TIMEOUT" default:"60s"`
}

// LoadConfig reads configuration from environment variables and secrets.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process environment config: %w", err)
	}

	var err error
	cfg.AI.APIKey, err = utils.ReadSecret("AI_API_KEY", "ai_api_key")
	if err != nil {
		return nil, err
	}
	cfg.Speech.APIKey, err = utils.ReadSecret("SPEECH_API_KEY", "speech_api_key")
	if err != nil {
		return nil, err
	}
	cfg.Auth.JWTSecret, err = utils.ReadSecret("JWT_SECRET", "jwt_secret")
	if err != nil {
		return nil, err
	}
	// Image generation may share credentials with the text client.
	if imgKey, imgErr := utils.ReadSecret("IMAGE_API_KEY", "image_api_key"); imgErr == nil {
		cfg.Image.APIKey = imgKey
	} else {
		cfg.Image.APIKey = cfg.AI.APIKey
	}
	if pass, passErr := utils.ReadSecret("REDIS_PASSWORD", "redis_password"); passErr == nil {
		cfg.Redis.Password = pass
	}

	log.Printf("narrator-server configuration loaded:")
	log.Printf("  Port: %s", cfg.Server.Port)
	log.Printf("  Redis Addr: %s", cfg.Redis.Addr)
	log.Printf("  AI Client: %s (%s, model=%s)", cfg.AI.ClientType, cfg.AI.BaseURL, cfg.AI.Model)
	log.Printf("  Image Model: %s (size=%s, partials=%d)", cfg.Image.Model, cfg.Image.Size, cfg.Image.PartialImages)
	log.Printf("  Speech Voice: %s (model=%s, format=%s)", cfg.Speech.VoiceID, cfg.Speech.ModelID, cfg.Speech.OutputFormat)
	log.Printf("  Stream Continuation: %v", cfg.Turn.StreamContinuation)
	log.Println("  Secrets: [LOADED]")

	return &cfg, nil
}
