package recipe

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/melih/lighthouse/internal/core/domain"
)

type header struct {
	Preset string `yaml:"preset"`
}

type file struct {
	Preset        string `yaml:"preset,omitempty"`
	domain.Recipe `yaml:",inline"`
}

// Load reads a recipe file from disk.
func Load(path string) (domain.Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("read recipe: %w", err)
	}
	r, err := Parse(data)
	if err != nil {
		return domain.Recipe{}, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// Parse decodes a YAML recipe. A "preset" key seeds the recipe with a
// built-in variant before the remaining keys are applied on top of it.
func Parse(data []byte) (domain.Recipe, error) {
	var h header
	if err := yaml.Unmarshal(data, &h); err != nil {
		return domain.Recipe{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecipe, err)
	}

	var f file
	if h.Preset != "" {
		base, err := Preset(h.Preset)
		if err != nil {
			return domain.Recipe{}, err
		}
		f.Recipe = base
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return domain.Recipe{}, fmt.Errorf("%w: %v", domain.ErrInvalidRecipe, err)
	}

	r := f.Recipe.WithDefaults()
	if err := r.Validate(); err != nil {
		return domain.Recipe{}, err
	}
	return r, nil
}

// Marshal encodes r as YAML.
func Marshal(r domain.Recipe) ([]byte, error) {
	return yaml.Marshal(r)
}
