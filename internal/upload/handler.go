package upload

import (
	"context"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/ageniuscoder/roomchat/internal/apperr"
	"github.com/ageniuscoder/roomchat/internal/auth"
	"github.com/ageniuscoder/roomchat/internal/httpx"
	"github.com/gin-gonic/gin"
)

type Service struct {
	Gateway  Gateway
	MaxBytes int64
}

func Register(rg *gin.RouterGroup, s *Service) {
	rg.POST("/uploads", s.upload)
	rg.DELETE("/uploads/*key", s.remove)
}

// Delete removes key from the backend. It lets the message service clean up
// attachments of deleted messages.
func (s *Service) Delete(ctx context.Context, key string) error {
	return s.Gateway.Delete(ctx, key)
}

func (s *Service) upload(c *gin.Context) {
	uid := auth.MustUserID(c)
	if s.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.MaxBytes)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		httpx.Fail(c, apperr.InvalidArg("multipart field \"file\" is required and must fit the size limit"))
		return
	}
	body, err := fh.Open()
	if err != nil {
		slog.Error("upload_failed", "user_id", uid, "err", err)
		httpx.Fail(c, apperr.ErrUploadFailed)
		return
	}
	defer body.Close()

	f := File{
		Name:     filepath.Base(fh.Filename),
		Size:     fh.Size,
		MimeType: mimeOf(fh.Header.Get("Content-Type"), fh.Filename),
		Body:     body,
	}
	key := NewKey(uid, f.Name)
	url, err := s.Gateway.Upload(c.Request.Context(), f, key)
	if err != nil {
		slog.Error("upload_failed", "user_id", uid, "key", key, "err", err)
		httpx.Fail(c, apperr.ErrUploadFailed)
		return
	}
	slog.Info("upload_stored", "user_id", uid, "key", key, "size", f.Size)
	c.JSON(http.StatusCreated, describe(f, url, key))
}

func (s *Service) remove(c *gin.Context) {
	uid := auth.MustUserID(c)
	key := strings.TrimPrefix(c.Param("key"), "/")
	if !strings.HasPrefix(key, OwnerPrefix(uid)) || !validKey(key) {
		httpx.Fail(c, apperr.Forbidden("not your upload"))
		return
	}
	if err := s.Gateway.Delete(c.Request.Context(), key); err != nil {
		slog.Error("upload_delete_failed", "user_id", uid, "key", key, "err", err)
		httpx.Fail(c, apperr.ErrUploadFailed)
		return
	}
	c.Status(http.StatusNoContent)
}

func mimeOf(header, filename string) string {
	if mt, _, err := mime.ParseMediaType(header); err == nil && mt != "application/octet-stream" {
		return mt
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename))); byExt != "" {
		if mt, _, err := mime.ParseMediaType(byExt); err == nil {
			return mt
		}
	}
	return "application/octet-stream"
}
