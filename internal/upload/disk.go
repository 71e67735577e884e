package upload

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// DiskGateway keeps objects under Dir; BaseURL is where Dir is served.
type DiskGateway struct {
	Dir     string
	BaseURL string
}

func (d DiskGateway) path(key string) (string, error) {
	if !validKey(key) {
		return "", errors.New("upload: invalid key")
	}
	return filepath.Join(d.Dir, filepath.FromSlash(key)), nil
}

func (d DiskGateway) Upload(ctx context.Context, f File, key string) (string, error) {
	p, err := d.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(p)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, f.Body); err != nil {
		out.Close()
		os.Remove(p)
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return joinURL(d.BaseURL, key), nil
}

func (d DiskGateway) Delete(ctx context.Context, key string) error {
	p, err := d.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
