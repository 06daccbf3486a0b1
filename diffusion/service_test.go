package diffusion

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReturnsImage(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 64))))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(buf.Bytes())
	}))
	defer srv.Close()

	client := &fakeClient{runOutput: []interface{}{srv.URL}}
	service := NewService(client, NewModelCache(client), 1024)

	seed := int64(42)
	out, err := service.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 128, 96)), "a woodblock print", Params{
		ModelName:         "test",
		ModelRef:          "acme/painter:v1",
		Backend:           StableDiffusion,
		Strength:          0.78,
		GuidanceScale:     8.5,
		NumInferenceSteps: 25,
		Seed:              &seed,
	})
	require.NoError(t, err)
	assert.Equal(t, 64, out.Bounds().Dx())

	assert.Equal(t, 0.78, client.lastInput["prompt_strength"])
	assert.Equal(t, seed, client.lastInput["seed"])
	assert.Equal(t, "a woodblock print", client.lastInput["prompt"])
}

func TestGenerateWrapsBackendFailure(t *testing.T) {
	client := &fakeClient{runErr: errors.New("cuda out of memory")}
	service := NewService(client, NewModelCache(client), 1024)

	_, err := service.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 64)), "prompt", Params{
		ModelName: "test",
		ModelRef:  "acme/painter:v1",
		Backend:   StableDiffusion,
	})
	require.Error(t, err)

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr, "every failure surfaces as GenerationError")
	assert.Contains(t, genErr.Error(), "cuda out of memory")
}

func TestGenerateUnknownBackend(t *testing.T) {
	client := &fakeClient{}
	service := NewService(client, NewModelCache(client), 1024)

	_, err := service.Generate(context.Background(), image.NewRGBA(image.Rect(0, 0, 64, 64)), "prompt", Params{
		ModelName: "test",
		ModelRef:  "acme/painter:v1",
		Backend:   Backend("mystery"),
	})

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestOutputURL(t *testing.T) {
	tests := []struct {
		name    string
		out     interface{}
		want    string
		wantErr bool
	}{
		{"plain string", "https://cdn/x.png", "https://cdn/x.png", false},
		{"list", []interface{}{"https://cdn/y.png"}, "https://cdn/y.png", false},
		{"object output", map[string]interface{}{"output": "https://cdn/z.png"}, "https://cdn/z.png", false},
		{"object url", map[string]interface{}{"url": "https://cdn/w.png"}, "https://cdn/w.png", false},
		{"empty list", []interface{}{}, "", true},
		{"number", 7, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputURL(tt.out)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseBackend(t *testing.T) {
	for _, valid := range []string{"stable-diffusion", "stable-diffusion-xl", "controlnet"} {
		_, err := ParseBackend(valid)
		assert.NoError(t, err, valid)
	}

	_, err := ParseBackend("dall-e")
	assert.Error(t, err)
}

func TestControlNetInputRequiresKnownKind(t *testing.T) {
	_, err := buildInput("data:...", "prompt", Params{Backend: ControlNet, ControlNetKind: "sketchy"})
	require.Error(t, err)

	in, err := buildInput("data:...", "prompt", Params{Backend: ControlNet, ControlNetKind: "canny", Strength: 0.5})
	require.NoError(t, err)
	assert.Equal(t, "canny", in["structure"])
	assert.Equal(t, 0.5, in["conditioning_scale"])
}
