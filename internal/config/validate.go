package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/randomizedcoder/go-pbo-assistant/internal/plan"
	"github.com/randomizedcoder/go-pbo-assistant/internal/process"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// At least one second per method
	if cfg.DurationPerCore <= 0 {
		errs = append(errs, ValidationError{
			Field:   "duration_per_core",
			Message: fmt.Sprintf("must be positive (got %v)", cfg.DurationPerCore),
		})
	} else if n := len(cfg.Methods); n > 0 && cfg.DurationPerCore/time.Duration(n) < time.Second {
		errs = append(errs, ValidationError{
			Field:   "duration_per_core",
			Message: fmt.Sprintf("leaves less than 1s per method (got %v for %d methods)", cfg.DurationPerCore, n),
		})
	}

	if _, err := plan.ParseCoreList(cfg.Cores); err != nil {
		errs = append(errs, ValidationError{
			Field:   "cores",
			Message: err.Error(),
		})
	}

	if len(cfg.Methods) == 0 {
		errs = append(errs, ValidationError{
			Field:   "methods",
			Message: "at least one method is required",
		})
	} else if _, err := process.ParseMethods(cfg.Methods); err != nil {
		errs = append(errs, ValidationError{
			Field:   "methods",
			Message: err.Error(),
		})
	}

	if cfg.SandboxDir == "" && (cfg.Prime95Path == "" || cfg.YCruncherPath == "") {
		errs = append(errs, ValidationError{
			Field:   "sandbox_dir",
			Message: "must be set unless both tool paths are given",
		})
	}

	if strings.TrimSpace(cfg.Prime95Marker) == "" {
		errs = append(errs, ValidationError{
			Field:   "prime95_marker",
			Message: "must not be empty",
		})
	}
	if strings.TrimSpace(cfg.YCruncherMarker) == "" {
		errs = append(errs, ValidationError{
			Field:   "ycruncher_marker",
			Message: "must not be empty",
		})
	}

	if cfg.CPUInfoPath == "" {
		errs = append(errs, ValidationError{
			Field:   "cpuinfo_path",
			Message: "must not be empty",
		})
	}

	// Timing
	if cfg.Cooldown < 0 {
		errs = append(errs, ValidationError{
			Field:   "cooldown",
			Message: "must not be negative",
		})
	}
	if cfg.GraceDelay < 0 {
		errs = append(errs, ValidationError{
			Field:   "grace_delay",
			Message: "must not be negative",
		})
	}
	if cfg.SampleInterval < 100*time.Millisecond {
		errs = append(errs, ValidationError{
			Field:   "sample_interval",
			Message: fmt.Sprintf("must be at least 100ms (got %v)", cfg.SampleInterval),
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}
	if !validLevels[strings.ToLower(cfg.LogLevel)] {
		errs = append(errs, ValidationError{
			Field:   "log_level",
			Message: fmt.Sprintf("must be debug, info, warn or error (got %q)", cfg.LogLevel),
		})
	}

	if cfg.MetricsAddr != "" {
		if err := validateAddr(cfg.MetricsAddr); err != nil {
			errs = append(errs, ValidationError{
				Field:   "metrics_addr",
				Message: err.Error(),
			})
		}
	}

	for core, offset := range cfg.OffsetPerCore {
		if core < 0 {
			errs = append(errs, ValidationError{
				Field:   "offset_per_core",
				Message: fmt.Sprintf("core %d: must not be negative", core),
			})
		}
		if offset < -50 || offset > 30 {
			errs = append(errs, ValidationError{
				Field:   "offset_per_core",
				Message: fmt.Sprintf("core %d: offset %d outside -50..30", core, offset),
			})
		}
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}

// validateAddr checks a host:port listen address.
func validateAddr(addr string) error {
	if strings.Contains(addr, "://") {
		return errors.New("must be host:port, not a URL")
	}
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid address: %w", err)
	}
	if port == "" {
		return errors.New("port must not be empty")
	}
	return nil
}
