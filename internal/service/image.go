package service

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/harvardpoops/app/internal/backend"
	"github.com/harvardpoops/app/internal/model"
)

// EventImageBucket is where event cover images live.
const EventImageBucket = "event-images"

// ImageService handles cover-image uploads to the blob store.
type ImageService struct {
	blobs backend.BlobStore
}

// NewImageService constructs an ImageService.
func NewImageService(blobs backend.BlobStore) *ImageService {
	return &ImageService{blobs: blobs}
}

// Upload validates and stores a cover image, returning its public URL.
// Type and size are checked locally before any network round-trip.
func (s *ImageService) Upload(ctx context.Context, userID, filename string, data []byte, contentType string) (string, error) {
	if !backend.AllowedBlobType(contentType) {
		return "", fmt.Errorf("upload a JPG, PNG, WebP or GIF image: %w", backend.ErrValidation)
	}
	if len(data) > backend.MaxBlobSize {
		return "", fmt.Errorf("image too large, maximum is 5MB: %w", backend.ErrValidation)
	}

	ext := strings.ToLower(path.Ext(filename))
	if ext == "" {
		ext = ".jpg"
	}
	blobPath := fmt.Sprintf("events/%s/%s%s", userID, uuid.New().String(), ext)

	url, err := s.blobs.UploadBlob(ctx, EventImageBucket, blobPath, data, contentType)
	if err != nil {
		return "", fmt.Errorf("upload image: %w", err)
	}
	return url, nil
}

// Delete removes a previously uploaded image given its public URL.
func (s *ImageService) Delete(ctx context.Context, url string) error {
	marker := "/" + EventImageBucket + "/"
	i := strings.Index(url, marker)
	if i < 0 {
		return fmt.Errorf("url does not reference the %s bucket: %w", EventImageBucket, backend.ErrValidation)
	}
	blobPath := url[i+len(marker):]
	if err := s.blobs.DeleteBlob(ctx, EventImageBucket, blobPath); err != nil {
		return fmt.Errorf("delete image: %w", err)
	}
	return nil
}

// placeholders by event type for events without a cover image.
var placeholders = map[model.EventType]string{
	model.EventTypeParty:    "🎉",
	model.EventTypeContest:  "🏆",
	model.EventTypeTailgate: "🏈",
	model.EventTypeMixer:    "🍹",
	model.EventTypeOther:    "⭐",
}

// Placeholder returns the emoji placeholder for an event type.
func Placeholder(t model.EventType) string {
	if p, ok := placeholders[t]; ok {
		return p
	}
	return placeholders[model.EventTypeOther]
}
