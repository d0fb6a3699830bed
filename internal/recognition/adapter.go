// Package recognition wraps the OCR engine behind a timeout-bounded adapter
// that always yields a confidence in [0,1].
package recognition

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"strings"
	"time"

	apperrors "github.com/ROD-LAR-GILLES/OCR-MVC/internal/errors"
	"github.com/ROD-LAR-GILLES/OCR-MVC/internal/logging"
)

// Settings is the engine configuration for one attempt.
type Settings struct {
	Languages   []string          `yaml:"-" json:"languages"`
	PageSegMode int               `yaml:"page_seg_mode" json:"page_seg_mode"`
	Variables   map[string]string `yaml:"variables,omitempty" json:"variables,omitempty"`
}

// LanguageString renders the language set as "spa+eng".
func (s Settings) LanguageString() string {
	return strings.Join(s.Languages, "+")
}

// Output is what an engine reports. Confidence is nil when the engine has no
// aggregate of its own.
type Output struct {
	Text       string
	Confidence *float64
}

// Engine is the external OCR collaborator.
type Engine interface {
	Recognize(ctx context.Context, img image.Image, s Settings) (Output, error)
	Check(ctx context.Context, langs []string) error
}

// Lexicon scores recognized text against known vocabulary.
type Lexicon interface {
	// KnownRatio returns the share of word tokens found in the vocabulary and
	// the number of tokens considered.
	KnownRatio(text string) (float64, int)
}

// Result is a recognition outcome with a bounded confidence.
type Result struct {
	Text       string
	Confidence float64
	Estimated  bool // confidence came from the lexicon heuristic
}

// ErrUnavailable marks engine errors that no retry can fix.
var ErrUnavailable = errors.New("recognition engine unavailable")

// Adapter calls the engine with a per-call timeout.
type Adapter struct {
	engine  Engine
	lexicon Lexicon
	timeout time.Duration
	logger  *logging.Logger
}

// NewAdapter creates an adapter. lexicon may be nil, in which case pages
// without an engine confidence score 0.
func NewAdapter(engine Engine, lexicon Lexicon, timeout time.Duration) *Adapter {
	return &Adapter{
		engine:  engine,
		lexicon: lexicon,
		timeout: timeout,
		logger:  logging.NewLogger("recognition"),
	}
}

// Check verifies the engine can start with langs.
func (a *Adapter) Check(ctx context.Context, langs []string) error {
	if err := a.engine.Check(ctx, langs); err != nil {
		return apperrors.NewEngineUnavailableError(err)
	}
	return nil
}

type engineReply struct {
	out Output
	err error
}

// Recognize runs the engine on img. A call exceeding the timeout returns a
// RECOGNITION_TIMEOUT error; the engine keeps running in the background until
// it returns, but its result is dropped. Garbled text is a valid result.
func (a *Adapter) Recognize(ctx context.Context, page int, img image.Image, s Settings) (Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	reply := make(chan engineReply, 1)
	go func() {
		out, err := a.engine.Recognize(callCtx, img, s)
		reply <- engineReply{out: out, err: err}
	}()

	var r engineReply
	select {
	case r = <-reply:
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		a.logger.Warn("Recognition timed out", "page", page, "timeout", a.timeout)
		return Result{}, apperrors.NewRecognitionTimeoutError(page, a.timeout)
	}

	if r.err != nil {
		if errors.Is(r.err, ErrUnavailable) {
			return Result{}, apperrors.NewEngineUnavailableError(r.err)
		}
		if errors.Is(r.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return Result{}, apperrors.NewRecognitionTimeoutError(page, a.timeout)
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		return Result{}, fmt.Errorf("page %d: %w", page, r.err)
	}

	res := Result{Text: r.out.Text}
	if r.out.Confidence != nil {
		res.Confidence = clamp01(*r.out.Confidence)
	} else {
		res.Confidence = a.estimate(r.out.Text)
		res.Estimated = true
	}
	return res, nil
}

func (a *Adapter) estimate(text string) float64 {
	if a.lexicon == nil {
		return 0
	}
	ratio, tokens := a.lexicon.KnownRatio(text)
	if tokens == 0 {
		return 0
	}
	return clamp01(ratio)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
