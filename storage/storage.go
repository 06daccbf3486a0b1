package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"strings"
	"time"

	"github.com/ukiyolabs/ukiyo-serve/config"

	_ "image/gif"

	_ "golang.org/x/image/webp"
)

// ErrInvalidReference marks a URL that the configured backend cannot
// parse back to a stored object.
var ErrInvalidReference = errors.New("storage: invalid object reference")

const JPEGQuality = 95

// Folders used by the transformation pipeline.
const (
	FolderOriginals = "originals"
	FolderResults   = "results"
)

type ObjectInfo struct {
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Modified    time.Time `json:"modified"`
}

// Storage persists image blobs and hands back retrievable URLs. Delete,
// Download and Info take a URL previously returned by Upload; behavior is
// identical from the caller's perspective regardless of backend.
type Storage interface {
	Upload(ctx context.Context, data []byte, filename, folder string) (string, error)
	Download(ctx context.Context, url string) ([]byte, error)
	Delete(ctx context.Context, url string) error
	Info(ctx context.Context, url string) (*ObjectInfo, error)
}

// NewFromEnv selects the backend at construction time: Google Cloud
// Storage when a bucket is configured, the local filesystem otherwise.
func NewFromEnv(ctx context.Context) (Storage, error) {
	if config.IsSet("GCS_BUCKET_NAME") {
		return NewGCSStorage(ctx, config.Config("GCS_BUCKET_NAME"), config.ConfigOr("GCS_UPLOAD_PATH", "ukiyo-serve"))
	}

	return NewLocalStorage(config.ConfigOr("UPLOAD_FOLDER", "./uploads"))
}

// encodeByExt re-encodes an image according to the target filename
// extension. WebP has no maintained pure-Go encoder, so unknown and
// .webp targets fall back to JPEG and the returned name swaps the
// extension accordingly.
func encodeByExt(img image.Image, filename string) (data []byte, name, contentType string, err error) {
	ext := strings.ToLower(filepath.Ext(filename))
	var buf bytes.Buffer

	switch ext {
	case ".png":
		if err := png.Encode(&buf, img); err != nil {
			return nil, "", "", fmt.Errorf("storage: encode png: %w", err)
		}
		return buf.Bytes(), filename, "image/png", nil

	case ".jpg", ".jpeg":
		if err := jpeg.Encode(&buf, flattenAlpha(img), &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return nil, "", "", fmt.Errorf("storage: encode jpeg: %w", err)
		}
		return buf.Bytes(), filename, "image/jpeg", nil

	default:
		name := strings.TrimSuffix(filename, filepath.Ext(filename)) + ".jpg"
		if err := jpeg.Encode(&buf, flattenAlpha(img), &jpeg.Options{Quality: JPEGQuality}); err != nil {
			return nil, "", "", fmt.Errorf("storage: encode jpeg: %w", err)
		}
		return buf.Bytes(), name, "image/jpeg", nil
	}
}

// flattenAlpha composites transparent images over a white background so
// JPEG encoding does not turn transparency into black.
func flattenAlpha(img image.Image) image.Image {
	if op, ok := img.(interface{ Opaque() bool }); ok && op.Opaque() {
		return img
	}

	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, b, img, b.Min, draw.Over)
	return dst
}

// sanitizeKey normalizes an object key and prevents escaping the storage
// root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}

	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimPrefix(key, "./")
	key = strings.TrimLeft(key, "/")

	cleaned := filepath.Clean(key)
	cleaned = strings.ReplaceAll(cleaned, "\\", "/")
	if cleaned == "." || strings.HasPrefix(cleaned, "../") {
		return "", errors.New("storage: invalid key")
	}

	return cleaned, nil
}
