package cleaner

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"unicode/utf8"

	"gopkg.in/yaml.v3"
)

//go:embed dictionary.yaml
var defaultDictionaryYAML []byte

// Dictionary is the read-only domain vocabulary and correction table.
// All lookups are by lower-cased token.
type Dictionary struct {
	Version     string
	vocab       map[string]struct{}
	corrections map[string]string
	byLen       map[int][]string
}

type dictionaryFile struct {
	Version     string            `yaml:"version"`
	Terms       []string          `yaml:"terms"`
	Corrections map[string]string `yaml:"corrections"`
}

// Stats summarizes a dictionary.
type Stats struct {
	Version     string `json:"version"`
	Terms       int    `json:"terms"`
	Corrections int    `json:"corrections"`
}

// DefaultDictionary returns the built-in government-decree dictionary.
func DefaultDictionary() *Dictionary {
	d, err := ParseDictionary(defaultDictionaryYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded dictionary is invalid: %v", err))
	}
	return d
}

// LoadDictionary reads a dictionary YAML file.
func LoadDictionary(path string) (*Dictionary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary: %w", err)
	}
	d, err := ParseDictionary(data)
	if err != nil {
		return nil, fmt.Errorf("dictionary %s: %w", path, err)
	}
	return d, nil
}

// ParseDictionary validates and indexes a dictionary document.
//
// Correction chains (a -> b, b -> c) are resolved to their final target and
// cycles are rejected. Keys that are themselves vocabulary words are dropped.
// Every word of every target joins the vocabulary, so corrected text is never
// corrected again.
func ParseDictionary(data []byte) (*Dictionary, error) {
	var file dictionaryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse dictionary: %w", err)
	}

	d := &Dictionary{
		Version:     file.Version,
		vocab:       make(map[string]struct{}, len(file.Terms)),
		corrections: make(map[string]string, len(file.Corrections)),
	}

	for _, term := range file.Terms {
		word, err := singleToken(term)
		if err != nil {
			return nil, fmt.Errorf("term %q: %w", term, err)
		}
		d.vocab[word] = struct{}{}
	}

	raw := make(map[string]string, len(file.Corrections))
	for from, to := range file.Corrections {
		key, err := singleToken(from)
		if err != nil {
			return nil, fmt.Errorf("correction key %q: %w", from, err)
		}
		target := collapseWhitespace(normalizeChars(to))
		if len(tokenize(target)) == 0 {
			return nil, fmt.Errorf("correction %q has no target word", from)
		}
		if _, known := d.vocab[key]; known {
			continue
		}
		raw[key] = target
	}

	for key := range raw {
		target, err := resolveChain(key, raw)
		if err != nil {
			return nil, err
		}
		d.corrections[key] = target
	}

	for _, target := range d.corrections {
		for _, tok := range tokenize(target) {
			d.vocab[strings.ToLower(tok.text)] = struct{}{}
		}
	}
	for key := range d.corrections {
		if _, known := d.vocab[key]; known {
			delete(d.corrections, key)
		}
	}

	d.byLen = make(map[int][]string)
	for word := range d.vocab {
		n := utf8.RuneCountInString(word)
		d.byLen[n] = append(d.byLen[n], word)
	}
	for n := range d.byLen {
		sort.Strings(d.byLen[n])
	}
	return d, nil
}

func resolveChain(key string, raw map[string]string) (string, error) {
	seen := map[string]bool{key: true}
	target := raw[key]
	for {
		toks := tokenize(target)
		if len(toks) != 1 || toks[0].text != target {
			return target, nil
		}
		next, ok := raw[strings.ToLower(target)]
		if !ok {
			return target, nil
		}
		if seen[strings.ToLower(target)] {
			return "", fmt.Errorf("correction cycle through %q", key)
		}
		seen[strings.ToLower(target)] = true
		target = next
	}
}

// singleToken normalizes s and requires it to be exactly one word.
func singleToken(s string) (string, error) {
	norm := normalizeChars(strings.TrimSpace(s))
	toks := tokenize(norm)
	if len(toks) != 1 || toks[0].text != norm {
		return "", fmt.Errorf("must be a single word")
	}
	return strings.ToLower(norm), nil
}

// Known reports whether word (any case) is in the vocabulary.
func (d *Dictionary) Known(word string) bool {
	_, ok := d.vocab[strings.ToLower(word)]
	return ok
}

// Correction returns the configured replacement for word, if any.
func (d *Dictionary) Correction(word string) (string, bool) {
	to, ok := d.corrections[strings.ToLower(word)]
	return to, ok
}

// KnownRatio returns the share of word tokens (two or more letters) that are
// either vocabulary words or have a configured correction.
func (d *Dictionary) KnownRatio(text string) (float64, int) {
	total, known := 0, 0
	for _, tok := range tokenize(normalizeChars(text)) {
		if tok.hasDigit || utf8.RuneCountInString(tok.text) < 2 {
			continue
		}
		total++
		lower := strings.ToLower(tok.text)
		if _, ok := d.vocab[lower]; ok {
			known++
		} else if _, ok := d.corrections[lower]; ok {
			known++
		}
	}
	if total == 0 {
		return 0, 0
	}
	return float64(known) / float64(total), total
}

// Stats reports the dictionary size.
func (d *Dictionary) Stats() Stats {
	return Stats{Version: d.Version, Terms: len(d.vocab), Corrections: len(d.corrections)}
}
