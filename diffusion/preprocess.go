package diffusion

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/disintegration/gift"
)

// DefaultMaxSize bounds the longest side of images fed into generation.
const DefaultMaxSize = 1024

// Preprocess prepares an image for the generation backends: shrink so the
// longest side is at most maxSize (never enlarging), floor both dimensions
// to the nearest multiple of 8 as diffusion backbones require, and flatten
// any transparency onto white so the result is plain 3-channel color.
func Preprocess(img image.Image, maxSize int) image.Image {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	b := img.Bounds()
	width, height := b.Dx(), b.Dy()

	if width > maxSize || height > maxSize {
		if width >= height {
			height = scaleDim(height, maxSize, width)
			width = maxSize
		} else {
			width = scaleDim(width, maxSize, height)
			height = maxSize
		}
	}

	width = (width / 8) * 8
	height = (height / 8) * 8
	if width == 0 || height == 0 {
		// Degenerate inputs below 8px stay untouched; upstream
		// validation enforces a 64px minimum anyway.
		return flatten(img)
	}

	g := gift.New(gift.Resize(width, height, gift.LanczosResampling))
	resized := image.NewNRGBA(g.Bounds(img.Bounds()))
	g.Draw(resized, img)

	return flatten(resized)
}

func scaleDim(dim, target, other int) int {
	scaled := dim * target / other
	if scaled < 1 {
		scaled = 1
	}
	return scaled
}

func flatten(img image.Image) image.Image {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Over)
	return dst
}
