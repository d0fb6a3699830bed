package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
)

type stubEngine struct {
	out      Output
	err      error
	delay    time.Duration
	checkErr error
	settings Settings
}

func (s *stubEngine) Recognize(ctx context.Context, _ image.Image, st Settings) (Output, error) {
	s.settings = st
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	return s.out, s.err
}

func (s *stubEngine) Check(context.Context, []string) error { return s.checkErr }

type wordLexicon map[string]bool

func (l wordLexicon) KnownRatio(text string) (float64, int) {
	words := strings.Fields(strings.ToLower(text))
	if len(words) == 0 {
		return 0, 0
	}
	known := 0
	for _, w := range words {
		if l[w] {
			known++
		}
	}
	return float64(known) / float64(len(words)), len(words)
}

func conf(v float64) *float64 { return &v }

var blank = image.NewGray(image.Rect(0, 0, 4, 4))

func TestRecognizeUsesEngineConfidence(t *testing.T) {
	engine := &stubEngine{out: Output{Text: "DECRETO SUPREMO", Confidence: conf(0.91)}}
	a := NewAdapter(engine, nil, time.Second)

	res, err := a.Recognize(context.Background(), 1, blank, Settings{Languages: []string{"spa", "eng"}, PageSegMode: 6})
	require.NoError(t, err)
	assert.Equal(t, "DECRETO SUPREMO", res.Text)
	assert.Equal(t, 0.91, res.Confidence)
	assert.False(t, res.Estimated)
	assert.Equal(t, 6, engine.settings.PageSegMode)
	assert.Equal(t, "spa+eng", engine.settings.LanguageString())
}

func TestRecognizeClampsConfidence(t *testing.T) {
	for _, c := range []struct{ in, want float64 }{{1.7, 1}, {-0.2, 0}, {0.5, 0.5}} {
		a := NewAdapter(&stubEngine{out: Output{Text: "x", Confidence: conf(c.in)}}, nil, time.Second)
		res, err := a.Recognize(context.Background(), 1, blank, Settings{})
		require.NoError(t, err)
		assert.Equal(t, c.want, res.Confidence)
	}
}

func TestRecognizeFallsBackToLexicon(t *testing.T) {
	lex := wordLexicon{"república": true, "de": true, "chile": true}
	a := NewAdapter(&stubEngine{out: Output{Text: "República de Chlle xx"}}, lex, time.Second)

	res, err := a.Recognize(context.Background(), 2, blank, Settings{})
	require.NoError(t, err)
	assert.True(t, res.Estimated)
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}

func TestRecognizeGarbledTextIsNotAnError(t *testing.T) {
	a := NewAdapter(&stubEngine{out: Output{Text: "~~ ¦¦ @@"}}, wordLexicon{}, time.Second)
	res, err := a.Recognize(context.Background(), 1, blank, Settings{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, "~~ ¦¦ @@", res.Text)
}

func TestRecognizeTimeout(t *testing.T) {
	a := NewAdapter(&stubEngine{delay: 200 * time.Millisecond, out: Output{Text: "late"}}, nil, 20*time.Millisecond)

	start := time.Now()
	_, err := a.Recognize(context.Background(), 4, blank, Settings{})
	require.Error(t, err)
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorRecognitionTimeout))
	assert.Less(t, time.Since(start), 150*time.Millisecond)
}

func TestRecognizeParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := NewAdapter(&stubEngine{delay: 100 * time.Millisecond}, nil, time.Second)

	_, err := a.Recognize(ctx, 1, blank, Settings{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRecognizeEngineErrors(t *testing.T) {
	a := NewAdapter(&stubEngine{err: errors.New("leptonica: bad image")}, nil, time.Second)
	_, err := a.Recognize(context.Background(), 1, blank, Settings{})
	require.Error(t, err)
	assert.False(t, apperrors.HasCode(err, apperrors.ErrorEngineUnavailable))

	a = NewAdapter(&stubEngine{err: fmt.Errorf("init: %w", ErrUnavailable)}, nil, time.Second)
	_, err = a.Recognize(context.Background(), 1, blank, Settings{})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorEngineUnavailable))
}

func TestCheckWrapsEngineFailure(t *testing.T) {
	a := NewAdapter(&stubEngine{checkErr: errors.New("Failed loading language 'spa'")}, nil, time.Second)
	err := a.Check(context.Background(), []string{"spa"})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrorEngineUnavailable))

	a = NewAdapter(&stubEngine{}, nil, time.Second)
	assert.NoError(t, a.Check(context.Background(), []string{"spa"}))
}
