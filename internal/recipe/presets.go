package recipe

import (
	"fmt"
	"sort"

	"github.com/melih/lighthouse/internal/core/domain"
)

// Native tools the OCR, PDF and audio code of the service shells out to.
var servicePackages = []string{
	"tesseract-ocr",
	"ffmpeg",
	"poppler-utils",
	"libgl1",
	"libglib2.0-0",
}

// The three launch variants differ only in the entrypoint they name. Which one
// matches the application is confirmed against the source being built.
var presets = map[string]domain.Entrypoint{
	"api":    {Kind: domain.KindASGI, Target: "api:app"},
	"main":   {Kind: domain.KindASGI, Target: "main:app"},
	"script": {Kind: domain.KindScript, Target: "main.py"},
}

// Preset returns the named built-in recipe, defaulted.
func Preset(name string) (domain.Recipe, error) {
	ep, ok := presets[name]
	if !ok {
		return domain.Recipe{}, fmt.Errorf("%w: unknown preset %q (have %v)", domain.ErrInvalidRecipe, name, PresetNames())
	}
	return domain.Recipe{
		Name:       "speakcheck-" + name,
		BaseImage:  domain.DefaultBaseImage,
		Packages:   append([]string(nil), servicePackages...),
		Entrypoint: ep,
	}.WithDefaults(), nil
}

// PresetNames lists the built-in presets in sorted order.
func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
