// Package jsonwrapper contains a strict JSON unmarshaler.
package jsonwrapper

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"reflect"
	"strings"
)

// differences with respect to the standard package:
// - unknown fields are rejected
// - existing slices are replaced instead of being reused element by element
// - slices cannot be set to null

func checkSlices(v reflect.Value, raw any, path string) error {
	switch v.Kind() {
	case reflect.Slice:
		if raw == nil {
			if path == "" {
				return fmt.Errorf("cannot set slice to nil")
			}
			return fmt.Errorf("cannot set slice '%s' to nil", path)
		}

		if !v.IsNil() {
			v.Set(reflect.Zero(v.Type()))
		}

	case reflect.Struct:
		rawMap, ok := raw.(map[string]any)
		if !ok {
			return nil
		}

		vType := v.Type()
		for i := 0; i < v.NumField(); i++ {
			key := strings.Split(vType.Field(i).Tag.Get("json"), ",")[0]
			if key == "" || key == "-" {
				continue
			}

			rawVal, ok := rawMap[key]
			if !ok {
				continue
			}

			fieldPath := key
			if path != "" {
				fieldPath = path + "." + key
			}

			err := checkSlices(v.Field(i), rawVal, fieldPath)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

// Unmarshal decodes JSON.
func Unmarshal(buf []byte, dest any) error {
	var raw any
	err := json.Unmarshal(buf, &raw)
	if err != nil {
		return err
	}

	err = checkSlices(reflect.ValueOf(dest).Elem(), raw, "")
	if err != nil {
		return err
	}

	d := json.NewDecoder(bytes.NewReader(buf))
	d.DisallowUnknownFields()
	return d.Decode(dest)
}

// Decode decodes JSON from a reader.
func Decode(r io.Reader, dest any) error {
	buf, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return Unmarshal(buf, dest)
}
