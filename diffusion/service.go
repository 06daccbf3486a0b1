package diffusion

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"runtime"
	"time"

	"github.com/replicate/replicate-go"

	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// GenerationError is the single failure type the service surfaces. Any
// lower-level error (model resolution, inference, output handling) is
// wrapped so callers can treat generation as one fallible step.
type GenerationError struct {
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// Client is the subset of the Replicate API the service depends on.
type Client interface {
	Run(ctx context.Context, identifier string, input replicate.PredictionInput, webhook *replicate.Webhook) (replicate.PredictionOutput, error)
	GetModel(ctx context.Context, modelOwner, modelName string) (*replicate.Model, error)
}

// NewReplicateClient builds the production client from an API token.
func NewReplicateClient(token string) (*replicate.Client, error) {
	return replicate.NewClient(replicate.WithToken(token))
}

// Service wraps a hosted image-to-image model behind a single Generate
// call. One instance per worker; inference for a given model runs one
// job at a time on the hosted side.
type Service struct {
	client  Client
	cache   *ModelCache
	maxSize int
	httpc   *http.Client
}

func NewService(client Client, cache *ModelCache, maxSize int) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	return &Service{
		client:  client,
		cache:   cache,
		maxSize: maxSize,
		httpc:   &http.Client{Timeout: 60 * time.Second},
	}
}

// LoadModel ensures the named model is resolved and pinned in the cache.
func (s *Service) LoadModel(ctx context.Context, name, ref string) error {
	if _, err := s.cache.Resolve(ctx, name, ref); err != nil {
		return &GenerationError{Message: fmt.Sprintf("failed to load model %s", name), Err: err}
	}
	return nil
}

// Generate runs one image-to-image transformation. Deterministic given
// an explicit seed, otherwise intentionally non-deterministic.
func (s *Service) Generate(ctx context.Context, img image.Image, prompt string, p Params) (image.Image, error) {
	ref, err := s.cache.Resolve(ctx, p.ModelName, p.ModelRef)
	if err != nil {
		return nil, &GenerationError{Message: fmt.Sprintf("failed to load model %s", p.ModelName), Err: err}
	}

	prepared := Preprocess(img, s.maxSize)

	uri, err := imageDataURI(prepared)
	if err != nil {
		return nil, &GenerationError{Message: "failed to encode input image", Err: err}
	}

	input, err := buildInput(uri, prompt, p)
	if err != nil {
		return nil, &GenerationError{Message: "invalid generation request", Err: err}
	}

	out, err := s.client.Run(ctx, ref, input, nil)
	if err != nil {
		return nil, &GenerationError{Message: "image generation failed", Err: err}
	}

	resultURL, err := outputURL(out)
	if err != nil {
		return nil, &GenerationError{Message: "invalid model output", Err: err}
	}

	result, err := s.fetchImage(ctx, resultURL)
	if err != nil {
		return nil, &GenerationError{Message: "failed to fetch generated image", Err: err}
	}

	return result, nil
}

// MemoryUsage reports the current heap allocation in bytes. The job
// pipeline records the delta across a generation as its memory metric.
func (s *Service) MemoryUsage() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.HeapAlloc)
}

// Release returns transient buffers between jobs. Pinned model versions
// stay cached until Clear is called on the cache.
func (s *Service) Release() error {
	runtime.GC()
	return nil
}

func imageDataURI(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// outputURL extracts the result URL from the prediction output, which
// comes back as a string, a list of strings or an object depending on
// the model.
func outputURL(out replicate.PredictionOutput) (string, error) {
	switch v := out.(type) {
	case string:
		return v, nil
	case []interface{}:
		if len(v) > 0 {
			if s, ok := v[0].(string); ok && s != "" {
				return s, nil
			}
		}
	case map[string]interface{}:
		if s, _ := v["output"].(string); s != "" {
			return s, nil
		}
		if s, _ := v["url"].(string); s != "" {
			return s, nil
		}
	}
	return "", fmt.Errorf("unexpected output type %T", out)
}

func (s *Service) fetchImage(ctx context.Context, url string) (image.Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.httpc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d", resp.StatusCode)
	}

	img, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}

	return img, nil
}
