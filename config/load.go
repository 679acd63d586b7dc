package config

import (
	"bytes"
	"encoding"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Load reads a TOML or YAML file, chosen by extension, and decodes it into
// the struct pointed to by v. Environment variables with the given prefix
// override file values afterwards. For a prefix "INTENTD", a section
// tagged "gateway" and a field tagged "max_body", INTENTD_GATEWAY_MAX_BODY
// wins. An empty path skips the file and only applies the environment.
func Load(path, envPrefix string, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("config: expected pointer to struct, got %T", v)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if err := Decode(filepath.Ext(path), data, v); err != nil {
			return fmt.Errorf("config: %s: %w", path, err)
		}
	}

	if envPrefix != "" {
		if err := applyEnv(strings.ToUpper(envPrefix), rv.Elem()); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

// Decode parses data in the format named by ext (".toml", ".yaml", ".yml")
// into v. Unknown keys are rejected so typos surface at startup.
func Decode(ext string, data []byte, v any) error {
	switch strings.ToLower(ext) {
	case ".toml":
		md, err := toml.NewDecoder(bytes.NewReader(data)).Decode(v)
		if err != nil {
			return err
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("unknown key %q", undecoded[0].String())
		}
		return nil
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	default:
		return fmt.Errorf("unsupported config format %q (want .toml, .yaml or .yml)", ext)
	}
}

var (
	durationType        = reflect.TypeOf(time.Duration(0))
	textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()
)

func envName(field reflect.StructField) string {
	key := field.Tag.Get("toml")
	if i := strings.IndexByte(key, ','); i >= 0 {
		key = key[:i]
	}
	if key == "" || key == "-" {
		key = field.Name
	}
	return strings.ToUpper(key)
}

func applyEnv(prefix string, rv reflect.Value) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		fv := rv.Field(i)
		if !fv.CanSet() {
			continue
		}

		envKey := prefix + "_" + envName(field)

		if fv.Kind() == reflect.Struct && !fv.Addr().Type().Implements(textUnmarshalerType) {
			if err := applyEnv(envKey, fv); err != nil {
				return err
			}
			continue
		}

		envVal, ok := os.LookupEnv(envKey)
		if !ok {
			continue
		}
		if err := setFromString(fv, envVal); err != nil {
			return fmt.Errorf("%s: %w", envKey, err)
		}
	}
	return nil
}

func setFromString(fv reflect.Value, s string) error {
	if fv.CanAddr() && fv.Addr().Type().Implements(textUnmarshalerType) {
		return fv.Addr().Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s))
	}
	if fv.Type() == durationType {
		d, err := time.ParseDuration(s)
		if err != nil {
			return err
		}
		fv.SetInt(int64(d))
		return nil
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(s)
	case reflect.Int, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return err
		}
		fv.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		fv.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		fv.SetBool(b)
	default:
		return fmt.Errorf("unsupported kind: %s", fv.Kind())
	}
	return nil
}
