package diffusion

import (
	"fmt"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreprocessDimensions(t *testing.T) {
	tests := []struct {
		width, height int
		maxSize       int
	}{
		{512, 512, 1024},
		{513, 511, 1024},
		{640, 480, 1024},
		{480, 640, 1024},
		{2048, 1024, 1024},
		{1024, 2048, 1024},
		{3000, 900, 1024},
		{100, 77, 1024},
		{1023, 1025, 1024},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%dx%d", tt.width, tt.height), func(t *testing.T) {
			src := image.NewRGBA(image.Rect(0, 0, tt.width, tt.height))
			out := Preprocess(src, tt.maxSize)

			b := out.Bounds()
			assert.Zero(t, b.Dx()%8, "width %d not a multiple of 8", b.Dx())
			assert.Zero(t, b.Dy()%8, "height %d not a multiple of 8", b.Dy())
			assert.LessOrEqual(t, b.Dx(), tt.maxSize)
			assert.LessOrEqual(t, b.Dy(), tt.maxSize)

			// Aspect ratio survives within the rounding the multiple-of-8
			// truncation introduces: each dimension moves by less than 8.
			wantRatio := float64(tt.width) / float64(tt.height)
			gotRatio := float64(b.Dx()) / float64(b.Dy())
			tolerance := wantRatio * (8.0/float64(b.Dx()) + 8.0/float64(b.Dy()))
			assert.InDelta(t, wantRatio, gotRatio, tolerance)
		})
	}
}

func TestPreprocessNeverEnlarges(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 200, 160))
	out := Preprocess(src, 1024)

	b := out.Bounds()
	assert.Equal(t, 200, b.Dx())
	assert.Equal(t, 160, b.Dy())
}

func TestPreprocessFlattensToOpaque(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 64, 64))
	out := Preprocess(src, 1024)

	op, ok := out.(interface{ Opaque() bool })
	require.True(t, ok)
	assert.True(t, op.Opaque(), "preprocessed image should carry no alpha")
}
