package config

import (
	"fmt"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/cleaner"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/strategy"
)

// Resources are the read-only tables shared by every page worker.
type Resources struct {
	Presets    []strategy.Preset
	Dictionary *cleaner.Dictionary
}

// LoadResources loads presets and the correction dictionary once at start-up.
// Empty file settings select the built-in versions.
func (c *Config) LoadResources() (*Resources, error) {
	presets, err := c.LoadPresets()
	if err != nil {
		return nil, err
	}
	dict, err := c.LoadDictionary()
	if err != nil {
		return nil, err
	}
	return &Resources{Presets: presets, Dictionary: dict}, nil
}

// LoadPresets returns the presets from PRESETS_FILE, or the defaults with
// the first preset using OCR_PAGE_SEG_MODE.
func (c *Config) LoadPresets() ([]strategy.Preset, error) {
	if c.PresetsFile == "" {
		presets := strategy.DefaultPresets()
		if c.PageSegMode > 0 {
			presets[0].Engine.PageSegMode = c.PageSegMode
		}
		return presets, nil
	}
	presets, err := strategy.LoadPresets(c.PresetsFile)
	if err != nil {
		return nil, fmt.Errorf("PRESETS_FILE %s: %w", c.PresetsFile, err)
	}
	return presets, nil
}

// LoadDictionary returns the dictionary from DICTIONARY_FILE, or the embedded one.
func (c *Config) LoadDictionary() (*cleaner.Dictionary, error) {
	if c.DictionaryFile == "" {
		return cleaner.DefaultDictionary(), nil
	}
	return cleaner.LoadDictionary(c.DictionaryFile)
}
