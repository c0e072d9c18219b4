package config

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/pingsantohq/netprobe/pkg/types"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	_ = v.RegisterValidation("probe_type", func(fl validator.FieldLevel) bool {
		_, err := types.ParseProbeType(fl.Field().String())
		return err == nil
	})
	return v
}

// FieldError is one rejected configuration value.
type FieldError struct {
	Field   string
	Message string
}

// ValidationErrors collects every rejected value of a configuration.
type ValidationErrors struct {
	Errors []FieldError
}

func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return "invalid config"
	}
	messages := make([]string, len(v.Errors))
	for i, e := range v.Errors {
		messages[i] = fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return "invalid config: " + strings.Join(messages, "; ")
}

// Validate checks struct tags and the per-output requirements.
func (c Config) Validate() error {
	errs := &ValidationErrors{}
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, e := range verrs {
			errs.Errors = append(errs.Errors, FieldError{
				Field:   fieldPath(e.Namespace()),
				Message: formatMessage(e),
			})
		}
	}

	seen := make(map[string]int, len(c.Probes))
	for i, p := range c.Probes {
		id := types.RecordTag(p.Tag, p.Target)
		if prev, ok := seen[id]; ok {
			errs.Errors = append(errs.Errors, FieldError{
				Field:   fmt.Sprintf("probes[%d]", i),
				Message: fmt.Sprintf("duplicates probes[%d] (%s)", prev, id),
			})
			continue
		}
		seen[id] = i
	}
	for i, o := range c.Outputs {
		if msg := o.missing(); msg != "" {
			errs.Errors = append(errs.Errors, FieldError{
				Field:   fmt.Sprintf("outputs[%d]", i),
				Message: msg,
			})
		}
	}

	if len(errs.Errors) > 0 {
		return errs
	}
	return nil
}

func (o OutputConfig) missing() string {
	var need []string
	switch o.Type {
	case "file":
		if o.Path == "" {
			need = append(need, "path")
		}
	case "http":
		if o.URL == "" {
			need = append(need, "url")
		}
	case "influxdb":
		for name, v := range map[string]string{"url": o.URL, "org": o.Org, "bucket": o.Bucket} {
			if v == "" {
				need = append(need, name)
			}
		}
	case "kafka":
		if len(o.Brokers) == 0 {
			need = append(need, "brokers")
		}
		if o.Topic == "" {
			need = append(need, "topic")
		}
	}
	if len(need) == 0 {
		return ""
	}
	sort.Strings(need)
	return fmt.Sprintf("%s output requires %s", o.Type, strings.Join(need, ", "))
}

func formatMessage(e validator.FieldError) string {
	field := e.Field()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, e.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "probe_type":
		return fmt.Sprintf("%s %q is not one of icmp_ping, crafted_probe, http_fetch", field, e.Value())
	case "required_with":
		return fmt.Sprintf("%s is required when %s is set", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_rfc1123|ip":
		return fmt.Sprintf("%s must be a hostname or IP address", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, e.Tag())
	}
}

// fieldPath drops the root struct name from a validator namespace, so
// "Config.probes[0].target" reads "probes[0].target".
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
