package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterStructValidation(configRules, Config{})
	})
	return validate
}

// Validate checks struct fields against their `validate` tags, the same
// tag language gin uses for request binding: required, min, max, oneof.
// Untagged nested structs are checked too. For a Config it also applies
// the rules that span sections.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}
	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("validate: %v", invalid)
	}
	var fields validator.ValidationErrors
	if !errors.As(err, &fields) || len(fields) == 0 {
		return err
	}
	return fieldError(fields[0])
}

// configRules holds the checks no single field tag can express.
func configRules(sl validator.StructLevel) {
	c := sl.Current().Interface().(Config)
	if c.Gateway.Enabled && c.RPC.Port != 0 && c.Gateway.Port == c.RPC.Port && c.Gateway.Host == c.RPC.Host {
		sl.ReportError(c.Gateway.Port, "Gateway.Port", "Port", "distinct_ports", fmt.Sprint(c.RPC.Port))
	}
	if c.Cache.Backend == "redis" && c.Cache.RedisAddr == "" {
		sl.ReportError(c.Cache.RedisAddr, "Cache.RedisAddr", "RedisAddr", "required_for_redis", "")
	}
}

func fieldError(fe validator.FieldError) error {
	name := fe.StructNamespace()
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[i+1:]
	}

	switch fe.Tag() {
	case "required":
		return fmt.Errorf("config: %s is required", name)
	case "min":
		if isText(fe) {
			return fmt.Errorf("config: %s must be at least %s characters (got %q)", name, fe.Param(), fe.Value())
		}
		return fmt.Errorf("config: %s must be >= %s (got %v)", name, fe.Param(), fe.Value())
	case "max":
		if isText(fe) {
			return fmt.Errorf("config: %s must be at most %s characters (got %q)", name, fe.Param(), fe.Value())
		}
		return fmt.Errorf("config: %s must be <= %s (got %v)", name, fe.Param(), fe.Value())
	case "oneof":
		return fmt.Errorf("config: %s must be one of [%s] (got %q)", name, strings.Join(strings.Fields(fe.Param()), ", "), fe.Value())
	case "distinct_ports":
		return fmt.Errorf("config: gateway.port and rpc.port are both %s", fe.Param())
	case "required_for_redis":
		return fmt.Errorf("config: cache.redis_addr is required for the redis backend")
	}
	return fmt.Errorf("config: %s failed %q", name, fe.Tag())
}

func isText(fe validator.FieldError) bool {
	_, ok := fe.Value().(string)
	return ok
}
