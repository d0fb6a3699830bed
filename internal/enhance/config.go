package enhance

import "fmt"

// SharpenKernel selects the unsharp-mask strength.
type SharpenKernel string

const (
	SharpenNone    SharpenKernel = "none"
	SharpenGentle  SharpenKernel = "gentle"
	SharpenUnsharp SharpenKernel = "unsharp"
	SharpenStrong  SharpenKernel = "strong"
)

func (k SharpenKernel) amount() float64 {
	switch k {
	case SharpenGentle:
		return 0.5
	case SharpenUnsharp:
		return 1.0
	case SharpenStrong:
		return 1.5
	default:
		return 0
	}
}

// Config is the set of numeric enhancement parameters for one attempt.
// A zero value for a stage's main parameter disables that stage.
// Config is passed by value and never modified by the pipeline.
type Config struct {
	GammaTarget         float64       `yaml:"gamma_target" json:"gamma_target"`
	DenoiseStrength     float64       `yaml:"denoise_strength" json:"denoise_strength"`
	DenoiseSearchRadius int           `yaml:"denoise_search_radius" json:"denoise_search_radius"`
	ClaheClipLimit      float64       `yaml:"clahe_clip_limit" json:"clahe_clip_limit"`
	ClaheTiles          int           `yaml:"clahe_tiles" json:"clahe_tiles"`
	DeskewRange         float64       `yaml:"deskew_range" json:"deskew_range"`
	Sharpen             SharpenKernel `yaml:"sharpen" json:"sharpen"`
}

// Validate rejects parameter combinations the stages cannot honour.
func (c Config) Validate() error {
	if c.GammaTarget < 0 || c.GammaTarget >= 255 {
		return fmt.Errorf("gamma_target must be within [0,255), got %v", c.GammaTarget)
	}
	if c.DenoiseStrength < 0 || c.DenoiseStrength > 100 {
		return fmt.Errorf("denoise_strength must be within [0,100], got %v", c.DenoiseStrength)
	}
	if c.DenoiseSearchRadius < 0 || c.DenoiseSearchRadius > 10 {
		return fmt.Errorf("denoise_search_radius must be within [0,10], got %d", c.DenoiseSearchRadius)
	}
	if c.ClaheClipLimit < 0 {
		return fmt.Errorf("clahe_clip_limit must not be negative, got %v", c.ClaheClipLimit)
	}
	if c.ClaheClipLimit > 0 && (c.ClaheTiles < 1 || c.ClaheTiles > 64) {
		return fmt.Errorf("clahe_tiles must be within [1,64], got %d", c.ClaheTiles)
	}
	if c.DeskewRange < 0 || c.DeskewRange > 45 {
		return fmt.Errorf("deskew_range must be within [0,45], got %v", c.DeskewRange)
	}
	switch c.Sharpen {
	case "", SharpenNone, SharpenGentle, SharpenUnsharp, SharpenStrong:
	default:
		return fmt.Errorf("unknown sharpen kernel %q", c.Sharpen)
	}
	return nil
}
