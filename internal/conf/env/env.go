// Package env loads configuration overrides from environment variables.
package env

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// Unmarshaler can be implemented to override the unmarshaling process.
type Unmarshaler interface {
	UnmarshalEnv(prefix string, v string) error
}

func parseBool(prefix string, ev string) (bool, error) {
	switch strings.ToLower(ev) {
	case "yes", "true":
		return true, nil

	case "no", "false":
		return false, nil
	}
	return false, fmt.Errorf("%s: invalid value '%s'", prefix, ev)
}

func loadEnvInternal(env map[string]string, prefix string, prv reflect.Value) error {
	if prv.Kind() != reflect.Pointer {
		return loadEnvInternal(env, prefix, prv.Addr())
	}

	rt := prv.Type().Elem()

	if i, ok := prv.Interface().(Unmarshaler); ok {
		if ev, ok := env[prefix]; ok {
			if prv.IsNil() {
				prv.Set(reflect.New(rt))
				i = prv.Interface().(Unmarshaler)
			}
			err := i.UnmarshalEnv(prefix, ev)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
		}
		return nil
	}

	ev, hasValue := env[prefix]

	switch rt.Kind() {
	case reflect.String:
		if hasValue {
			prv.Elem().SetString(ev)
		}
		return nil

	case reflect.Int, reflect.Int64:
		if hasValue {
			iv, err := strconv.ParseInt(ev, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			prv.Elem().SetInt(iv)
		}
		return nil

	case reflect.Uint, reflect.Uint64:
		if hasValue {
			iv, err := strconv.ParseUint(ev, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			prv.Elem().SetUint(iv)
		}
		return nil

	case reflect.Float64:
		if hasValue {
			fv, err := strconv.ParseFloat(ev, 64)
			if err != nil {
				return fmt.Errorf("%s: %w", prefix, err)
			}
			prv.Elem().SetFloat(fv)
		}
		return nil

	case reflect.Bool:
		if hasValue {
			bv, err := parseBool(prefix, ev)
			if err != nil {
				return err
			}
			prv.Elem().SetBool(bv)
		}
		return nil

	case reflect.Slice:
		if rt.Elem().Kind() != reflect.String {
			break
		}
		if hasValue {
			if ev == "" {
				prv.Elem().Set(reflect.MakeSlice(rt, 0, 0))
			} else {
				prv.Elem().Set(reflect.ValueOf(strings.Split(ev, ",")).Convert(rt))
			}
		}
		return nil

	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			f := rt.Field(i)
			jsonTag := f.Tag.Get("json")

			if jsonTag == "" || jsonTag == "-" {
				continue
			}

			key := strings.ToUpper(strings.Split(jsonTag, ",")[0])

			err := loadEnvInternal(env, prefix+"_"+key, prv.Elem().Field(i))
			if err != nil {
				return err
			}
		}
		return nil
	}

	return fmt.Errorf("unsupported type: %v", rt)
}

func envToMap() map[string]string {
	env := make(map[string]string)
	for _, kv := range os.Environ() {
		tmp := strings.SplitN(kv, "=", 2)
		env[tmp[0]] = tmp[1]
	}
	return env
}

func loadWithEnv(env map[string]string, prefix string, v interface{}) error {
	return loadEnvInternal(env, prefix, reflect.ValueOf(v).Elem())
}

// Load fills v with the variables that start with prefix.
// Keys are built by joining the prefix and the upper-cased JSON tag of each field.
func Load(prefix string, v interface{}) error {
	return loadWithEnv(envToMap(), prefix, v)
}
