package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/binarize"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/enhance"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/recognition"
)

// Preset is one named attempt configuration. Presets are values; the
// selector copies them per attempt and never modifies the shared list.
type Preset struct {
	Name         string               `yaml:"name" json:"name"`
	Enhancement  enhance.Config       `yaml:"enhancement" json:"enhancement"`
	Binarization binarize.Options     `yaml:"binarization" json:"binarization"`
	Engine       recognition.Settings `yaml:"engine" json:"engine"`
}

// Validate checks every stage's parameters.
func (p Preset) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("preset name is required")
	}
	if err := p.Enhancement.Validate(); err != nil {
		return fmt.Errorf("preset %s: %w", p.Name, err)
	}
	if err := p.Binarization.Validate(); err != nil {
		return fmt.Errorf("preset %s: %w", p.Name, err)
	}
	if n := len(p.Binarization.Methods); n > 0 && n < 3 {
		return fmt.Errorf("preset %s: at least 3 binarization methods are required, got %d", p.Name, n)
	}
	if p.Engine.PageSegMode < 0 || p.Engine.PageSegMode > 13 {
		return fmt.Errorf("preset %s: page_seg_mode must be between 0 and 13, got %d", p.Name, p.Engine.PageSegMode)
	}
	return nil
}

// DefaultPresets returns the built-in attempt order: a light pass first,
// then progressively heavier restoration with looser page segmentation.
func DefaultPresets() []Preset {
	return []Preset{
		{
			Name: "default",
			Enhancement: enhance.Config{
				GammaTarget:     128,
				DenoiseStrength: 10,
				ClaheClipLimit:  2,
				ClaheTiles:      8,
				DeskewRange:     15,
				Sharpen:         enhance.SharpenGentle,
			},
			Binarization: binarize.Options{
				Methods:   []binarize.Method{binarize.MethodAdaptiveMean, binarize.MethodAdaptiveGaussian, binarize.MethodOtsu},
				BlockSize: 15,
				C:         8,
			},
			Engine: recognition.Settings{PageSegMode: 6},
		},
		{
			Name: "high-denoise",
			Enhancement: enhance.Config{
				GammaTarget:         128,
				DenoiseStrength:     20,
				DenoiseSearchRadius: 5,
				ClaheClipLimit:      2,
				ClaheTiles:          8,
				DeskewRange:         15,
				Sharpen:             enhance.SharpenUnsharp,
			},
			Binarization: binarize.Options{
				Methods:   []binarize.Method{binarize.MethodAdaptiveMean, binarize.MethodAdaptiveGaussian, binarize.MethodOtsu},
				BlockSize: 21,
				C:         10,
				Cleanup:   true,
			},
			Engine: recognition.Settings{
				PageSegMode: 6,
				Variables:   map[string]string{"preserve_interword_spaces": "1"},
			},
		},
		{
			Name: "high-contrast",
			Enhancement: enhance.Config{
				GammaTarget:     120,
				DenoiseStrength: 15,
				ClaheClipLimit:  4,
				ClaheTiles:      4,
				DeskewRange:     15,
				Sharpen:         enhance.SharpenUnsharp,
			},
			Binarization: binarize.Options{
				Methods:   []binarize.Method{binarize.MethodAdaptiveGaussian, binarize.MethodOtsu, binarize.MethodTriangle},
				BlockSize: 25,
				C:         10,
			},
			Engine: recognition.Settings{PageSegMode: 4},
		},
		{
			Name: "aggressive",
			Enhancement: enhance.Config{
				GammaTarget:         110,
				DenoiseStrength:     25,
				DenoiseSearchRadius: 5,
				ClaheClipLimit:      3,
				ClaheTiles:          6,
				DeskewRange:         15,
				Sharpen:             enhance.SharpenStrong,
			},
			Binarization: binarize.Options{
				Methods: []binarize.Method{
					binarize.MethodAdaptiveMean, binarize.MethodAdaptiveGaussian, binarize.MethodOtsu,
					binarize.MethodTriangle, binarize.MethodGlobalMean,
				},
				BlockSize: 31,
				C:         12,
				Cleanup:   true,
			},
			Engine: recognition.Settings{PageSegMode: 3},
		},
	}
}

type presetFile struct {
	Presets []Preset `yaml:"presets"`
}

// ParsePresets decodes a YAML preset list. Order in the file is attempt order.
func ParsePresets(data []byte) ([]Preset, error) {
	var f presetFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse presets: %w", err)
	}
	if len(f.Presets) == 0 {
		return nil, fmt.Errorf("preset file defines no presets")
	}
	seen := make(map[string]bool, len(f.Presets))
	for _, p := range f.Presets {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.Name] {
			return nil, fmt.Errorf("duplicate preset %q", p.Name)
		}
		seen[p.Name] = true
	}
	return f.Presets, nil
}

// LoadPresets reads a YAML preset file.
func LoadPresets(path string) ([]Preset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read presets file: %w", err)
	}
	return ParsePresets(data)
}

// MarshalPresets renders presets in the file format ParsePresets reads.
func MarshalPresets(presets []Preset) ([]byte, error) {
	return yaml.Marshal(presetFile{Presets: presets})
}
