package stabilitygate

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/fingerprint"
	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/policy"
	"github.com/phiasco12/liveocr/modules/stabilitygate/internal/tracker"
)

// Strategy names accepted by Config.Strategy.
const (
	StrategyScalar = "scalar"
	StrategyText   = "text"
)

// Mode names accepted by Config.Mode.
const (
	ModeNameDuration    = "duration"
	ModeNameConsecutive = "consecutive"
)

// ErrInvalidConfig wraps every configuration error returned by New and
// Config.Validate.
var ErrInvalidConfig = errors.New("stabilitygate: invalid config")

// Config is the engine configuration surface.
//
// The same struct is embedded in the service YAML under "engine:".
// Zero values are replaced by WithDefaults where a default exists.
type Config struct {
	Strategy string `yaml:"strategy" json:"strategy" validate:"oneof=scalar text"`
	Mode     string `yaml:"mode" json:"mode" validate:"oneof=duration consecutive"`

	// Tolerance is the numeric similarity threshold (scalar strategy).
	Tolerance float64 `yaml:"tolerance" json:"tolerance" validate:"gte=0"`

	// HoldDurationMS is how long a run must be held (duration mode).
	HoldDurationMS uint64 `yaml:"hold_duration_ms" json:"hold_duration_ms"`

	// RequiredCount is the run length that fires (consecutive mode).
	// The run includes its baseline observation.
	RequiredCount uint32 `yaml:"required_count" json:"required_count"`

	RegionFraction    float64 `yaml:"region_fraction" json:"region_fraction" validate:"gte=0.1,lte=1"`
	AcceptancePattern string  `yaml:"acceptance_pattern" json:"acceptance_pattern" validate:"regexp"`
	Selection         string  `yaml:"selection" json:"selection" validate:"oneof=first longest"`
	Containment       string  `yaml:"containment" json:"containment" validate:"oneof=contain intersect"`
	CaseSensitive     bool    `yaml:"case_sensitive" json:"case_sensitive"`

	// SampleStride is the pixel stride of the scalar extractor.
	SampleStride uint32 `yaml:"sample_stride" json:"sample_stride" validate:"gte=1"`
}

var configValidate *validator.Validate

func init() {
	configValidate = validator.New()
	_ = configValidate.RegisterValidation("regexp", validateRegexp)
}

func validateRegexp(fl validator.FieldLevel) bool {
	_, err := regexp.Compile(fl.Field().String())
	return err == nil
}

// DefaultConfig returns the consecutive text configuration used by the
// serial-number capture screen: 3 matching reads of a centered candidate.
func DefaultConfig() Config {
	return Config{
		Strategy:          StrategyText,
		Mode:              ModeNameConsecutive,
		RequiredCount:     3,
		RegionFraction:    fingerprint.DefaultRegionFraction,
		AcceptancePattern: fingerprint.DefaultAcceptancePattern,
		Selection:         "first",
		Containment:       "contain",
		SampleStride:      fingerprint.DefaultSampleStride,
	}
}

// WithDefaults fills zero-valued optional fields.
// Mode-specific thresholds (Tolerance, HoldDurationMS, RequiredCount) are
// never defaulted: they must be chosen by the caller.
func (c Config) WithDefaults() Config {
	if c.RegionFraction == 0 {
		c.RegionFraction = fingerprint.DefaultRegionFraction
	}
	if c.AcceptancePattern == "" {
		c.AcceptancePattern = fingerprint.DefaultAcceptancePattern
	}
	if c.Selection == "" {
		c.Selection = "first"
	}
	if c.Containment == "" {
		c.Containment = "contain"
	}
	if c.SampleStride == 0 {
		c.SampleStride = fingerprint.DefaultSampleStride
	}
	return c
}

// Validate checks struct tags and mode-specific requirements.
// Call WithDefaults first; Validate does not apply defaults.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%w: %s failed %q (value %v)", ErrInvalidConfig, fe.Field(), fe.Tag(), fe.Value())
		}
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	switch c.Mode {
	case ModeNameDuration:
		if c.HoldDurationMS == 0 {
			return fmt.Errorf("%w: hold_duration_ms must be > 0 in duration mode", ErrInvalidConfig)
		}
	case ModeNameConsecutive:
		if c.RequiredCount < 2 {
			return fmt.Errorf("%w: required_count must be >= 2 in consecutive mode (got %d)", ErrInvalidConfig, c.RequiredCount)
		}
	}

	if c.Strategy == StrategyScalar && c.Tolerance <= 0 {
		return fmt.Errorf("%w: tolerance must be > 0 for the scalar strategy", ErrInvalidConfig)
	}

	return nil
}

// HoldDuration returns HoldDurationMS as a time.Duration.
func (c Config) HoldDuration() time.Duration {
	return time.Duration(c.HoldDurationMS) * time.Millisecond
}

func (c Config) trackerConfig() tracker.Config {
	mode := tracker.ModeDuration
	if c.Mode == ModeNameConsecutive {
		mode = tracker.ModeConsecutive
	}
	return tracker.Config{Mode: mode, Hold: c.HoldDuration(), Required: c.RequiredCount}
}

// build assembles extractor and policy for the configured strategy.
// c must already be validated.
func (c Config) build() (fingerprint.Extractor, policy.Policy) {
	if c.Strategy == StrategyScalar {
		return fingerprint.NewScalarExtractor(int(c.SampleStride)), policy.Numeric{Tolerance: c.Tolerance}
	}

	ex := &fingerprint.RegionExtractor{
		Fraction: c.RegionFraction,
		Pattern:  regexp.MustCompile(c.AcceptancePattern),
	}
	if c.Selection == "longest" {
		ex.Selection = fingerprint.SelectLongest
	}
	if c.Containment == "intersect" {
		ex.Containment = fingerprint.ContainIntersect
	}
	return ex, policy.Text{CaseSensitive: c.CaseSensitive}
}
