package storage

import (
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// ErrImageSaveFailed reports a failure persisting a rendered image.
var ErrImageSaveFailed = errors.New("image save failed")

// ImageStore persists final rendered images and hands back the public
// URL the TV client loads them from.
type ImageStore interface {
	SaveImage(gameID string, turnNumber int, b64 string, format string) (string, error)
}

var _ ImageStore = (*fileImageStore)(nil)

type fileImageStore struct {
	savePath      string
	publicBaseURL string
	logger        *zap.Logger
}

// NewFileImageStore creates an ImageStore writing to the local
// filesystem, typically a mounted volume served by the HTTP server.
func NewFileImageStore(savePath, publicBaseURL string, logger *zap.Logger) (ImageStore, error) {
	if savePath == "" {
		return nil, errors.New("image save path is not configured")
	}
	if publicBaseURL == "" {
		return nil, errors.New("image public base URL is not configured")
	}
	if err := os.MkdirAll(savePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create image save path %s: %w", savePath, err)
	}
	return &fileImageStore{
		savePath:      savePath,
		publicBaseURL: strings.TrimSuffix(publicBaseURL, "/"),
		logger:        logger.Named("FileImageStore"),
	}, nil
}

func (s *fileImageStore) SaveImage(gameID string, turnNumber int, b64 string, format string) (string, error) {
	imageData, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return "", fmt.Errorf("%w: bad base64 payload: %v", ErrImageSaveFailed, err)
	}
	if len(imageData) == 0 {
		return "", fmt.Errorf("%w: empty image data", ErrImageSaveFailed)
	}

	ext := format
	if ext == "" {
		ext = "jpeg"
	}
	fileName := fmt.Sprintf("%s-turn-%d.%s", gameID, turnNumber, ext)
	filePath := filepath.Join(s.savePath, fileName)

	if err := os.WriteFile(filePath, imageData, 0644); err != nil {
		s.logger.Error("Failed to save image file", zap.String("path", filePath), zap.Error(err))
		return "", fmt.Errorf("%w: %v", ErrImageSaveFailed, err)
	}

	imageURL := s.publicBaseURL + "/" + fileName
	s.logger.Info("Image saved",
		zap.String("path", filePath),
		zap.String("url", imageURL),
		zap.Int("size_bytes", len(imageData)))
	return imageURL, nil
}
