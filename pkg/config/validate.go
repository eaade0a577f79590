package config

import (
	"fmt"
	"net/url"
	"strings"
)

// FieldError is a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the field (e.g. "el.primary[0].http_url").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError aggregates every validation failure found in a
// configuration so the operator sees them all at once.
type ValidationError struct {
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate checks the entire configuration, collecting every failure into
// a ValidationError. It returns nil when the configuration is valid.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateGlobal(&cfg.Global)...)
	errs = append(errs, validateLog(&cfg.Log)...)
	errs = append(errs, validateEL(&cfg.EL)...)
	errs = append(errs, validateCL(cfg.CL)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateGlobal(g *GlobalConfig) []FieldError {
	var errs []FieldError
	if g.ListenAddress == "" {
		errs = append(errs, FieldError{"global.listen_address", "must not be empty"})
	}
	if g.HealthCheckIntervalMs <= 0 {
		errs = append(errs, FieldError{"global.health_check_interval_ms", "must be positive"})
	}
	if g.HealthCheckTimeoutMs <= 0 {
		errs = append(errs, FieldError{"global.health_check_timeout_ms", "must be positive"})
	}
	if g.HealthCheckMaxFailures == 0 {
		errs = append(errs, FieldError{"global.health_check_max_failures", "must be positive"})
	}
	if g.ProxyTimeoutMs <= 0 {
		errs = append(errs, FieldError{"global.proxy_timeout_ms", "must be positive"})
	}
	if g.MaxRetries < 0 {
		errs = append(errs, FieldError{"global.max_retries", "must not be negative"})
	}
	if g.WSQueueSize <= 0 {
		errs = append(errs, FieldError{"global.ws_queue_size", "must be positive"})
	}
	return errs
}

func validateLog(l *LogConfig) []FieldError {
	var errs []FieldError
	switch l.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, FieldError{"log.level", fmt.Sprintf("invalid level %q (must be debug, info, warn or error)", l.Level)})
	}
	switch l.Format {
	case "json", "text":
	default:
		errs = append(errs, FieldError{"log.format", fmt.Sprintf("invalid format %q (must be json or text)", l.Format)})
	}
	return errs
}

func validateEL(el *ELConfig) []FieldError {
	var errs []FieldError
	if len(el.Primary) == 0 {
		errs = append(errs, FieldError{"el.primary", "at least one primary EL node is required"})
	}

	seen := make(map[string]bool)
	check := func(tier string, nodes []ELNodeConfig) {
		for i, n := range nodes {
			field := func(f string) string { return fmt.Sprintf("el.%s[%d].%s", tier, i, f) }
			if n.Name == "" {
				errs = append(errs, FieldError{field("name"), "must not be empty"})
			} else if seen[n.Name] {
				errs = append(errs, FieldError{field("name"), fmt.Sprintf("duplicate node name %q", n.Name)})
			}
			seen[n.Name] = true
			errs = append(errs, validateURL(field("http_url"), n.HTTPURL, false, "http", "https")...)
			if n.WSURL != "" {
				errs = append(errs, validateURL(field("ws_url"), n.WSURL, false, "ws", "wss")...)
			}
		}
	}
	check("primary", el.Primary)
	check("backup", el.Backup)
	return errs
}

func validateCL(cl []CLNodeConfig) []FieldError {
	var errs []FieldError
	if len(cl) == 0 {
		errs = append(errs, FieldError{"cl", "at least one CL node is required"})
	}
	seen := make(map[string]bool)
	for i, n := range cl {
		field := func(f string) string { return fmt.Sprintf("cl[%d].%s", i, f) }
		if n.Name == "" {
			errs = append(errs, FieldError{field("name"), "must not be empty"})
		} else if seen[n.Name] {
			errs = append(errs, FieldError{field("name"), fmt.Sprintf("duplicate node name %q", n.Name)})
		}
		seen[n.Name] = true
		errs = append(errs, validateURL(field("url"), n.URL, false, "http", "https")...)
	}
	return errs
}

// validateURL checks that raw is a syntactically valid absolute URL with
// one of the allowed schemes.
func validateURL(field, raw string, optional bool, schemes ...string) []FieldError {
	if raw == "" {
		if optional {
			return nil
		}
		return []FieldError{{field, "must not be empty"}}
	}
	u, err := url.Parse(raw)
	if err != nil {
		return []FieldError{{field, fmt.Sprintf("invalid URL: %v", err)}}
	}
	if u.Host == "" {
		return []FieldError{{field, "must be an absolute URL"}}
	}
	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}
	return []FieldError{{field, fmt.Sprintf("invalid scheme %q (must be one of %s)", u.Scheme, strings.Join(schemes, ", "))}}
}
