package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

const localURLPrefix = "/uploads"

// LocalStorage keeps blobs on the local filesystem, for development and
// single-host deployments. URLs are server-relative paths under /uploads
// that the HTTP layer serves statically.
type LocalStorage struct {
	root string
}

func NewLocalStorage(root string) (*LocalStorage, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, errors.New("storage: upload folder is required")
	}

	for _, sub := range []string{FolderOriginals, FolderResults} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0o755); err != nil {
			return nil, fmt.Errorf("storage: ensure directory: %w", err)
		}
	}

	return &LocalStorage{root: root}, nil
}

// Root returns the configured upload directory so the HTTP layer can
// mount it for static serving.
func (s *LocalStorage) Root() string {
	return s.root
}

func (s *LocalStorage) Upload(ctx context.Context, data []byte, filename, folder string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: decode image: %w", err)
	}

	encoded, name, _, err := encodeByExt(img, filename)
	if err != nil {
		return "", err
	}

	key, err := sanitizeKey(folder + "/" + name)
	if err != nil {
		return "", err
	}

	fullPath := filepath.Join(s.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("storage: ensure directory: %w", err)
	}
	if err := os.WriteFile(fullPath, encoded, 0o644); err != nil {
		return "", fmt.Errorf("storage: write file: %w", err)
	}

	return localURLPrefix + "/" + key, nil
}

func (s *LocalStorage) Download(ctx context.Context, url string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.filePath(url)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read file: %w", err)
	}

	return data, nil
}

func (s *LocalStorage) Delete(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := s.filePath(url)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("storage: delete file: %w", err)
	}

	return nil
}

func (s *LocalStorage) Info(ctx context.Context, url string) (*ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := s.filePath(url)
	if err != nil {
		return nil, err
	}

	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: stat file: %w", err)
	}

	return &ObjectInfo{
		Size:        st.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
		Modified:    st.ModTime(),
	}, nil
}

// filePath maps a previously returned URL back onto the filesystem.
func (s *LocalStorage) filePath(url string) (string, error) {
	trimmed, ok := strings.CutPrefix(url, localURLPrefix+"/")
	if !ok || trimmed == "" {
		return "", ErrInvalidReference
	}

	key, err := sanitizeKey(trimmed)
	if err != nil {
		return "", ErrInvalidReference
	}

	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
