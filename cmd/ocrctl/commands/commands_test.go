package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/config"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/strategy"
)

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "DECRETO 12", firstLine("  DECRETO 12\nVISTOS\n"))
	assert.Equal(t, "", firstLine("   "))
	long := strings.Repeat("a", 150)
	assert.Equal(t, strings.Repeat("a", 100)+"...", firstLine(long))
}

func TestNewPayload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "decreto.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o644))

	cfg = &config.Config{MaxFileSize: 1024}
	t.Cleanup(func() {
		cfg = nil
		enqueueInline = false
	})

	enqueueInline = false
	p, err := newPayload(path)
	require.NoError(t, err)
	assert.Equal(t, path, p.Path)
	assert.Equal(t, "decreto.pdf", p.Filename)
	assert.Empty(t, p.FileBuffer)

	enqueueInline = true
	p, err = newPayload(path)
	require.NoError(t, err)
	assert.Empty(t, p.Path)
	assert.Equal(t, []byte("%PDF-1.4"), p.FileBuffer)

	cfg.MaxFileSize = 4
	_, err = newPayload(path)
	assert.Error(t, err)

	_, err = newPayload(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
}

func TestPresetsCommandPrintsLoadableYAML(t *testing.T) {
	cfg = &config.Config{}
	t.Cleanup(func() { cfg = nil })

	var out bytes.Buffer
	presetsCmd.SetOut(&out)
	require.NoError(t, presetsCmd.RunE(presetsCmd, nil))

	presets, err := strategy.ParsePresets(out.Bytes())
	require.NoError(t, err)
	assert.Equal(t, strategy.DefaultPresets(), presets)
}
