package env

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

var durationType = reflect.TypeFor[time.Duration]()

// MarshalEnv renders the env-tagged fields of the struct c points to as
// .env lines. Zero values are skipped so envDefault keeps applying, and
// nested structs are flattened.
func MarshalEnv(c any) (string, error) {
	v := reflect.ValueOf(c)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return "", fmt.Errorf("env: expected a pointer to struct, got %T", c)
	}

	var lines []string
	if err := appendFields(&lines, v.Elem()); err != nil {
		return "", err
	}
	if len(lines) == 0 {
		return "", nil
	}
	return strings.Join(lines, "\n") + "\n", nil
}

func appendFields(lines *[]string, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		val := v.Field(i)

		key, _, _ := strings.Cut(field.Tag.Get("env"), ",")
		if key == "" {
			if val.Kind() == reflect.Struct && val.Type() != durationType {
				if err := appendFields(lines, val); err != nil {
					return err
				}
			}
			continue
		}

		if val.IsZero() {
			continue
		}

		s, err := formatValue(val, field.Tag.Get("envSeparator"))
		if err != nil {
			return fmt.Errorf("env: field %s: %w", field.Name, err)
		}
		*lines = append(*lines, key+"="+quote(s))
	}
	return nil
}

func formatValue(v reflect.Value, sep string) (string, error) {
	if v.Type() == durationType {
		return time.Duration(v.Int()).String(), nil
	}

	switch v.Kind() {
	case reflect.String:
		return v.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10), nil
	case reflect.Float32:
		return strconv.FormatFloat(v.Float(), 'f', -1, 32), nil
	case reflect.Float64:
		return strconv.FormatFloat(v.Float(), 'f', -1, 64), nil
	case reflect.Bool:
		return strconv.FormatBool(v.Bool()), nil
	case reflect.Slice:
		if sep == "" {
			sep = ","
		}
		parts := make([]string, v.Len())
		for i := range parts {
			s, err := formatValue(v.Index(i), "")
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, sep), nil
	case reflect.Pointer:
		return formatValue(v.Elem(), sep)
	}
	return "", fmt.Errorf("unsupported kind %s", v.Kind())
}

// quote wraps values godotenv would otherwise split or expand.
func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t#\"'$\\\n") {
		return strconv.Quote(s)
	}
	return s
}
