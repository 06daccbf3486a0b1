package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const gcsOpTimeout = 50 * time.Second

// GCSStorage stores blobs in a Google Cloud Storage bucket and returns
// public object URLs. Credentials come from the environment
// (GOOGLE_APPLICATION_CREDENTIALS or workload identity).
type GCSStorage struct {
	cl         *gcs.Client
	bucketName string
	uploadPath string
}

func NewGCSStorage(ctx context.Context, bucketName, uploadPath string) (*GCSStorage, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: create client: %w", err)
	}

	return &GCSStorage{
		cl:         client,
		bucketName: bucketName,
		uploadPath: strings.Trim(uploadPath, "/"),
	}, nil
}

func (s *GCSStorage) Upload(ctx context.Context, data []byte, filename, folder string) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("storage: decode image: %w", err)
	}

	encoded, name, contentType, err := encodeByExt(img, filename)
	if err != nil {
		return "", err
	}

	key, err := sanitizeKey(folder + "/" + name)
	if err != nil {
		return "", err
	}
	objectPath := s.uploadPath + "/" + key

	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()

	wc := s.cl.Bucket(s.bucketName).Object(objectPath).NewWriter(ctx)
	wc.ContentType = contentType
	if _, err := io.Copy(wc, bytes.NewReader(encoded)); err != nil {
		return "", fmt.Errorf("io.Copy: %v", err)
	}
	if err := wc.Close(); err != nil {
		return "", fmt.Errorf("Writer.Close: %v", err)
	}

	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.bucketName, objectPath), nil
}

func (s *GCSStorage) Download(ctx context.Context, url string) ([]byte, error) {
	object, err := s.objectFromURL(url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()

	rc, err := s.cl.Bucket(s.bucketName).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("storage: open object: %w", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("storage: read object: %w", err)
	}

	return data, nil
}

func (s *GCSStorage) Delete(ctx context.Context, url string) error {
	object, err := s.objectFromURL(url)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()

	if err := s.cl.Bucket(s.bucketName).Object(object).Delete(ctx); err != nil {
		return fmt.Errorf("storage: delete object: %w", err)
	}

	return nil
}

func (s *GCSStorage) Info(ctx context.Context, url string) (*ObjectInfo, error) {
	object, err := s.objectFromURL(url)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, gcsOpTimeout)
	defer cancel()

	attrs, err := s.cl.Bucket(s.bucketName).Object(object).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: object attrs: %w", err)
	}

	return &ObjectInfo{
		Size:        attrs.Size,
		ContentType: attrs.ContentType,
		Modified:    attrs.Updated,
	}, nil
}

// objectFromURL maps a public object URL back to its bucket key.
func (s *GCSStorage) objectFromURL(url string) (string, error) {
	prefix := fmt.Sprintf("https://storage.googleapis.com/%s/", s.bucketName)
	object, ok := strings.CutPrefix(url, prefix)
	if !ok || object == "" {
		return "", ErrInvalidReference
	}

	return object, nil
}
