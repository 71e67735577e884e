// Package upload stores message attachments and hands back public URLs.
package upload

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/ageniuscoder/roomchat/internal/model"
	"github.com/google/uuid"
)

type File struct {
	Name     string
	Size     int64
	MimeType string
	Body     io.Reader
}

type Result struct {
	URL   string      `json:"url"`
	Key   string      `json:"key"`
	Media model.Media `json:"media"`
}

// Gateway is a storage backend for attachments.
type Gateway interface {
	Upload(ctx context.Context, f File, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

// NewKey returns a fresh object key owned by userID, keeping the file's
// extension.
func NewKey(userID int64, filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		ext = ""
	}
	return fmt.Sprintf("%s%s%s", OwnerPrefix(userID), uuid.NewString(), ext)
}

// OwnerPrefix is the key prefix of every object uploaded by userID.
func OwnerPrefix(userID int64) string {
	return fmt.Sprintf("uploads/%d/", userID)
}

func validKey(key string) bool {
	return key != "" && !strings.Contains(key, "..") && !strings.HasPrefix(key, "/") && strings.HasPrefix(key, "uploads/")
}

func joinURL(base, key string) string {
	return strings.TrimRight(base, "/") + "/" + key
}

func describe(f File, url, key string) Result {
	return Result{
		URL: url,
		Key: key,
		Media: model.Media{
			Type:     model.MediaTypeFor(f.MimeType),
			URL:      url,
			Key:      key,
			Filename: f.Name,
			Size:     f.Size,
			MimeType: f.MimeType,
		},
	}
}
