package database

import (
	"errors"

	"github.com/ukiyolabs/ukiyo-serve/models"
	"gorm.io/gorm"
)

// defaultModels is the catalog installed on first boot. ModelRef points at
// the hosted inference model the worker invokes; versions resolve lazily.
var defaultModels = []models.ModelConfig{
	{
		Name:                  "stable-diffusion-v1-5",
		DisplayName:           "Stable Diffusion v1.5",
		Description:           "General purpose image-to-image transformation",
		Backend:               models.BackendStableDiffusion,
		ModelRef:              "stability-ai/stable-diffusion-img2img",
		DefaultNegativePrompt: "blurry, low quality, distorted",
		MaxImageSize:          1024,
	},
	{
		Name:                  "stable-diffusion-xl",
		DisplayName:           "Stable Diffusion XL",
		Description:           "Higher quality transformation, slower",
		Backend:               models.BackendStableDiffusionXL,
		ModelRef:              "stability-ai/sdxl",
		DefaultNegativePrompt: "blurry, low quality, distorted",
		MaxImageSize:          1024,
		IsPremium:             true,
	},
	{
		Name:                  "ukiyo-e-diffusion",
		DisplayName:           "Ukiyo-e Style",
		Description:           "Transforms photos into traditional Japanese woodblock print style",
		Backend:               models.BackendStableDiffusion,
		ModelRef:              "cjwbw/ukiyoe-diffusion",
		DefaultPrompt:         "ukiyo-e style, traditional japanese woodblock print",
		DefaultNegativePrompt: "photorealistic, modern, blurry",
		MaxImageSize:          768,
	},
}

// SeedModelConfigs inserts the default model catalog, skipping names that
// already exist so operator edits survive restarts.
func SeedModelConfigs() error {
	db := GetDB()

	for _, m := range defaultModels {
		var existing models.ModelConfig
		err := db.Where("name = ?", m.Name).First(&existing).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		m.IsActive = true
		if err := db.Create(&m).Error; err != nil {
			return err
		}
	}

	return nil
}
