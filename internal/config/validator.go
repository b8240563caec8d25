package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Sentinel-Gate/rpcgate/internal/domain/auth"
)

// RegisterCustomValidators registers rpcgate-specific validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	rules := map[string]validator.Func{
		"duration":   validateDuration,
		"token_hash": validateTokenHash,
		"origin":     validateOrigin,
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return fmt.Errorf("failed to register %s validator: %w", tag, err)
		}
	}
	return nil
}

// validateDuration accepts Go duration strings and "0".
func validateDuration(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "0" {
		return true
	}
	d, err := time.ParseDuration(s)
	return err == nil && d >= 0
}

// validateTokenHash accepts the hash formats auth.VerifyToken understands.
func validateTokenHash(fl validator.FieldLevel) bool {
	return auth.DetectHashType(fl.Field().String()) != "unknown"
}

// validateOrigin accepts "scheme://host[:port]" with no path, and never "*".
func validateOrigin(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if s == "*" || strings.Contains(s, "*") {
		return false
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return false
	}
	return u.Host != "" && (u.Path == "" || u.Path == "/") && u.RawQuery == "" && u.User == nil
}

// Validate validates the Config using struct tags and custom cross-field rules.
// Returns an error if validation fails, with actionable error messages.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())

	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateRedis(); err != nil {
		return err
	}

	return nil
}

// validateRedis ensures a Redis address exists when any store needs it.
func (c *Config) validateRedis() error {
	if c.UsesRedis() && c.Redis.Addr == "" {
		return errors.New("redis.addr is required when rate_limit.store or signature.nonce_store is \"redis\"")
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for a single validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	tag := e.Tag()

	switch tag {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "required_if":
		return fmt.Sprintf("%s is required when %s", field, e.Param())
	case "required_with":
		return fmt.Sprintf("%s is required together with %s", field, e.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "url":
		return fmt.Sprintf("%s must be a valid URL", field)
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a duration such as \"30s\" or \"5m\"", field)
	case "token_hash":
		return fmt.Sprintf("%s must be \"sha256:<hex>\" or an argon2id hash", field)
	case "origin":
		return fmt.Sprintf("%s must be an exact origin like \"https://app.example.com\" (wildcards are not allowed)", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, tag)
	}
}
