package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// SetPath sets a single scalar field of cfg addressed by its dotted
// yaml-tag path (e.g. "max_concurrent_workcells" or "gates.timeout_seconds"),
// mirroring the CYNTRA_<PATH> env-override addressing scheme in
// ApplyEnvOverrides but for `cyntra config set`.
func SetPath(cfg *Config, dottedKey, value string) error {
	segments := strings.Split(dottedKey, ".")
	v := reflect.ValueOf(cfg).Elem()
	for i, seg := range segments {
		fv, ft, ok := fieldByYAMLName(v, seg)
		if !ok {
			return fmt.Errorf("config: unknown key %q", dottedKey)
		}
		if i == len(segments)-1 {
			if d, ok := fv.Addr().Interface().(*Duration); ok {
				parsed, err := time.ParseDuration(value)
				if err != nil {
					return fmt.Errorf("config: invalid duration %q for %q: %w", value, dottedKey, err)
				}
				d.Duration = parsed
				return nil
			}
			if fv.Kind() == reflect.Struct || fv.Kind() == reflect.Map || fv.Kind() == reflect.Slice {
				return fmt.Errorf("config: %q is not a scalar field", dottedKey)
			}
			setScalar(fv, value)
			return nil
		}
		if ft.Kind() != reflect.Struct {
			return fmt.Errorf("config: %q is not a nested section", strings.Join(segments[:i+1], "."))
		}
		v = fv
	}
	return fmt.Errorf("config: empty key")
}

func fieldByYAMLName(v reflect.Value, name string) (reflect.Value, reflect.Type, bool) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		tag := strings.Split(t.Field(i).Tag.Get("yaml"), ",")[0]
		if tag == name {
			return v.Field(i), t.Field(i).Type, true
		}
	}
	return reflect.Value{}, nil, false
}
