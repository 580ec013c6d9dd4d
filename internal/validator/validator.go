// -----------------------------------------------------------------------
// Validator
// Deterministic inspection of fetched bytes: format, dimensions, color
// mode, and full-decode structural integrity
// -----------------------------------------------------------------------

package validator

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"os"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/verdant/internal/common"
	"github.com/ternarybob/verdant/internal/models"
)

// Validator rejects fetched payloads that cannot contribute to the accepted
// set: wrong format, too small, unsupported color mode, or structurally
// corrupt. Validation is a pure function of the bytes plus configuration.
type Validator struct {
	config common.ValidatorConfig
	logger arbor.ILogger
}

// New creates a validator from configuration.
func New(config common.ValidatorConfig, logger arbor.ILogger) *Validator {
	return &Validator{config: config, logger: logger}
}

// Validate inspects the fetched file of a successful fetch result. Rejected
// items short-circuit the pipeline before any embedding work.
func (v *Validator) Validate(fetch models.FetchResult) models.ValidationResult {
	data, err := os.ReadFile(fetch.LocalPath)
	if err != nil {
		v.logger.Warn().Err(err).Str("path", fetch.LocalPath).Msg("Failed to read fetched file")
		return models.ValidationResult{Valid: false, Reason: models.RejectCorrupt}
	}
	return v.ValidateBytes(data)
}

// ValidateBytes applies all checks to a raw payload.
func (v *Validator) ValidateBytes(data []byte) models.ValidationResult {
	if len(data) == 0 {
		return models.ValidationResult{Valid: false, Reason: models.RejectEmpty}
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return models.ValidationResult{Valid: false, Reason: models.RejectCorrupt}
	}

	result := models.ValidationResult{
		Width:     cfg.Width,
		Height:    cfg.Height,
		Format:    format,
		ColorMode: colorMode(cfg.ColorModel),
	}

	if !v.formatAllowed(format) {
		result.Reason = models.RejectFormat
		return result
	}

	if cfg.Width < v.config.MinWidth || cfg.Height < v.config.MinHeight {
		result.Reason = models.RejectDimension
		return result
	}

	if !v.colorModeAllowed(result.ColorMode) {
		result.Reason = models.RejectColorMode
		return result
	}

	// Full decode proves the payload is complete, not just a valid header.
	if _, _, err := image.Decode(bytes.NewReader(data)); err != nil {
		result.Reason = models.RejectCorrupt
		return result
	}

	result.Valid = true
	return result
}

func (v *Validator) formatAllowed(format string) bool {
	for _, allowed := range v.config.AllowedFormats {
		if allowed == format {
			return true
		}
	}
	return false
}

func (v *Validator) colorModeAllowed(mode string) bool {
	if len(v.config.AllowedColorModes) == 0 {
		return true
	}
	for _, allowed := range v.config.AllowedColorModes {
		if allowed == mode {
			return true
		}
	}
	return false
}

// colorMode maps a decoded color model to a configuration-friendly name.
func colorMode(model color.Model) string {
	switch model {
	case color.RGBAModel, color.RGBA64Model:
		return "rgba"
	case color.NRGBAModel, color.NRGBA64Model:
		return "rgba"
	case color.GrayModel, color.Gray16Model:
		return "gray"
	case color.YCbCrModel, color.NYCbCrAModel:
		return "ycbcr"
	case color.CMYKModel:
		return "cmyk"
	}
	if _, ok := model.(color.Palette); ok {
		return "paletted"
	}
	return fmt.Sprintf("%T", model)
}
