package config

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/phiasco12/liveocr/modules/stabilitygate"
)

var instanceIDPattern = regexp.MustCompile(`^[a-z0-9\-]+$`)

var validate *validator.Validate

func init() {
	validate = validator.New()
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = validate.RegisterValidation("instance_id", func(fl validator.FieldLevel) bool {
		return instanceIDPattern.MatchString(fl.Field().String())
	})
}

// Validate checks struct tags first, then cross-field rules the tags
// cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return fmt.Errorf("%s: failed %q (value %v)", yamlPath(fe.Namespace()), fe.Tag(), fe.Value())
		}
		return err
	}

	if err := cfg.Engine.Validate(); err != nil {
		return fmt.Errorf("engine: %w", err)
	}

	if err := ValidateSource(cfg.Source, cfg.Engine); err != nil {
		return fmt.Errorf("source: %w", err)
	}

	return nil
}

// ValidateSource checks that the source can feed the configured engine.
func ValidateSource(src SourceConfig, engine stabilitygate.Config) error {
	switch src.Kind {
	case "rtsp":
		if src.RTSP.URL == "" {
			return fmt.Errorf("rtsp.url is required for kind rtsp")
		}
		if engine.Strategy == stabilitygate.StrategyText && src.Recognizer == nil {
			return fmt.Errorf("text strategy on an rtsp source needs a recognizer")
		}
	case "replay":
		if src.Replay.Path == "" {
			return fmt.Errorf("replay.path is required for kind replay")
		}
		if src.Replay.Pacing == "interval" && src.Replay.IntervalMS == 0 {
			return fmt.Errorf("replay.interval_ms must be > 0 for interval pacing")
		}
	}
	return nil
}

// yamlPath turns "Config.source.rtsp.fps" into "source.rtsp.fps".
func yamlPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}
