package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
)

var (
	ErrEvidenceDisabled    = errors.New("evidence storage is not configured")
	ErrUnsupportedEvidence = errors.New("unsupported evidence content type")
)

// Допустимые типы вложений к результату или спору.
var allowedEvidenceTypes = map[string]string{
	"image/png":       ".png",
	"image/jpeg":      ".jpg",
	"image/webp":      ".webp",
	"application/pdf": ".pdf",
	"video/mp4":       ".mp4",
}

type UploadResult struct {
	Key      string `json:"key"`
	Location string `json:"location,omitempty"`
	ETag     string `json:"etag,omitempty"`
}

// EvidenceStore keeps screenshots and replays attached to result submissions and disputes.
type EvidenceStore interface {
	Upload(ctx context.Context, matchID int, contentType string, reader io.Reader) (*UploadResult, error)
	PublicURL(key string) string
}

// EvidenceKey builds the object key for a new evidence file of a match.
func EvidenceKey(matchID int, contentType string) (string, error) {
	ext, ok := allowedEvidenceTypes[strings.ToLower(strings.TrimSpace(contentType))]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedEvidence, contentType)
	}
	return path.Join("evidence", "matches", fmt.Sprint(matchID), uuid.NewString()+ext), nil
}

// IsMatchEvidence reports whether key was produced by EvidenceKey for matchID.
func IsMatchEvidence(key string, matchID int) bool {
	name, ok := strings.CutPrefix(key, fmt.Sprintf("evidence/matches/%d/", matchID))
	if !ok || name == "" || strings.Contains(name, "/") || strings.Contains(name, "..") {
		return false
	}
	return allowedExtension(path.Ext(name))
}

func allowedExtension(ext string) bool {
	for _, allowed := range allowedEvidenceTypes {
		if ext == allowed {
			return true
		}
	}
	return false
}
