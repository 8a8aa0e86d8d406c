package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"
)

var validate = validator.New()

// envVars maps config keys to the environment variables that set them,
// without the POE_ prefix.
var envVars = map[string]string{
	"core.key_file":   "PRIVATE_KEY",
	"core.port":       "PORT",
	"core.public_url": "PUBLIC_URL",

	"directories.data_dir": "DATA_DIR",

	"registry.max_claim_length": "MAX_CLAIM_LENGTH",
	"registry.key_hash":         "KEY_HASH",
	"registry.require_did_key":  "REQUIRE_DID_KEY",
	"registry.block_time":       "BLOCK_TIME",

	"telemetry.sentry_dsn":  "SENTRY_DSN",
	"telemetry.environment": "ENVIRONMENT",

	"log_level": "LOG_LEVEL",
}

// FieldError is an invalid config value.
type FieldError struct {
	// Key is the config file key, e.g. registry.key_hash.
	Key     string
	Flag    string
	Problem string
}

func (e FieldError) Error() string {
	var sources []string
	if e.Flag != "" {
		sources = append(sources, "--"+e.Flag)
	}
	if env, ok := envVars[e.Key]; ok {
		sources = append(sources, "POE_"+env)
	}
	if len(sources) == 0 {
		return fmt.Sprintf("%s %s", e.Key, e.Problem)
	}
	return fmt.Sprintf("%s %s (set with %s)", e.Key, e.Problem, strings.Join(sources, " or "))
}

// validateSection checks the struct tags of one config section. Every
// invalid field is reported as its own [FieldError].
func validateSection(section string, cfg any) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return fmt.Errorf("validating %s config: %w", section, err)
	}

	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		typ = typ.Elem()
	}
	var errs error
	for _, fe := range fieldErrs {
		key, flag := strings.ToLower(fe.Field()), ""
		if field, ok := typ.FieldByName(fe.StructField()); ok {
			if name, _, _ := strings.Cut(field.Tag.Get("toml"), ","); name != "" {
				key = name
			}
			flag = field.Tag.Get("flag")
		}
		errs = multierror.Append(errs, FieldError{
			Key:     section + "." + key,
			Flag:    flag,
			Problem: describe(fe),
		})
	}
	return errs
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return fmt.Sprintf("must be a URL, got %q", fe.Value())
	case "oneof":
		return fmt.Sprintf("must be one of %s, got %q", strings.Join(strings.Fields(fe.Param()), ", "), fe.Value())
	case "min":
		if fe.Type() == reflect.TypeOf(time.Duration(0)) || fe.Param() == "0" {
			return fmt.Sprintf("must not be negative, got %v", fe.Value())
		}
		return fmt.Sprintf("must be at least %s, got %v", fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("must be at most %s, got %v", fe.Param(), fe.Value())
	}
	return fmt.Sprintf("failed %s validation", fe.Tag())
}
