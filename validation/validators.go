package validation

import (
	"bytes"
	"fmt"
	"image"
	"math"
	"path/filepath"
	"regexp"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

const (
	MinImageDimension = 64
	MaxAspectRatio    = 4.0
	MaxPromptLength   = 1000
)

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"webp": true,
	"gif":  true,
}

// bannedWords is a blunt case-insensitive substring denylist, not a
// content classifier. It will flag harmless phrases that happen to
// contain a banned term.
var bannedWords = []string{
	"nude", "naked", "nsfw", "porn", "explicit", "sexual",
	"violence", "gore", "blood", "death", "kill", "murder",
	"hate", "racist", "nazi", "terrorist",
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// AllowedFile checks whether the file extension is accepted for upload.
func AllowedFile(filename string) bool {
	if filename == "" {
		return false
	}

	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}

	return allowedExtensions[strings.ToLower(filename[idx+1:])]
}

type ImageInfo struct {
	Width  int
	Height int
	Format string
}

// ValidateImage checks size and dimensions of an uploaded image without
// fully decoding the pixel data.
func ValidateImage(data []byte, maxBytes int64, maxDimension int) (*ImageInfo, error) {
	if len(data) == 0 {
		return nil, &ValidationError{Field: "image", Message: "File is empty"}
	}

	if int64(len(data)) > maxBytes {
		return nil, &ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("File size too large. Maximum size is %dMB", maxBytes/(1024*1024)),
		}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, &ValidationError{Field: "image", Message: "Invalid image file or corrupted data"}
	}

	width, height := cfg.Width, cfg.Height
	if width < MinImageDimension || height < MinImageDimension {
		return nil, &ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("Image too small. Minimum size is %dx%dpx", MinImageDimension, MinImageDimension),
		}
	}

	if width > maxDimension || height > maxDimension {
		return nil, &ValidationError{
			Field:   "image",
			Message: fmt.Sprintf("Image too large. Maximum size is %dx%dpx", maxDimension, maxDimension),
		}
	}

	longer, shorter := width, height
	if height > width {
		longer, shorter = height, width
	}
	if float64(longer)/float64(shorter) > MaxAspectRatio {
		return nil, &ValidationError{Field: "image", Message: "Image aspect ratio too extreme. Maximum ratio is 4:1"}
	}

	return &ImageInfo{Width: width, Height: height, Format: format}, nil
}

// ValidatePrompt rejects empty, oversized or denylisted prompts.
func ValidatePrompt(prompt string) error {
	trimmed := strings.TrimSpace(prompt)
	if trimmed == "" {
		return &ValidationError{Field: "prompt", Message: "Prompt cannot be empty"}
	}

	if len(trimmed) > MaxPromptLength {
		return &ValidationError{
			Field:   "prompt",
			Message: fmt.Sprintf("Prompt too long. Maximum length is %d characters", MaxPromptLength),
		}
	}

	lower := strings.ToLower(trimmed)
	for _, word := range bannedWords {
		if strings.Contains(lower, word) {
			return &ValidationError{
				Field:   "prompt",
				Message: fmt.Sprintf("Prompt contains inappropriate content: '%s'", word),
			}
		}
	}

	return nil
}

// ValidateGenerationParams checks the numeric bounds the generation
// backends accept.
func ValidateGenerationParams(strength, guidanceScale float64, numInferenceSteps int, seed *int64) error {
	if strength < 0.1 || strength > 1.0 {
		return &ValidationError{Field: "strength", Message: "Strength must be between 0.1 and 1.0"}
	}

	if guidanceScale < 1.0 || guidanceScale > 20.0 {
		return &ValidationError{Field: "guidance_scale", Message: "Guidance scale must be between 1.0 and 20.0"}
	}

	if numInferenceSteps < 10 || numInferenceSteps > 100 {
		return &ValidationError{Field: "num_inference_steps", Message: "Number of inference steps must be between 10 and 100"}
	}

	if seed != nil && (*seed < 0 || *seed > math.MaxUint32) {
		return &ValidationError{Field: "seed", Message: "Seed must be a positive integer less than 2^32"}
	}

	return nil
}

var (
	unsafeChars  = regexp.MustCompile(`[^\w\-.]`)
	repeatedSeps = regexp.MustCompile(`[_.]{2,}`)
)

// SanitizeFilename strips characters that are unsafe in stored object names.
func SanitizeFilename(filename string) string {
	filename = unsafeChars.ReplaceAllString(filename, "_")
	filename = repeatedSeps.ReplaceAllString(filename, "_")

	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	if len(base) > 200 {
		base = base[:200]
	}

	return base + ext
}
