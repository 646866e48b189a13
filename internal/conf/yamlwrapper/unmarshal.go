// Package yamlwrapper contains a YAML unmarshaler.
package yamlwrapper

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v2"

	"github.com/bluenviron/mediamerge/internal/conf/jsonwrapper"
)

// yaml.v2 decodes maps with interface{} keys, that cannot be encoded into JSON.
func convertKeys(i interface{}) (interface{}, error) {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m2 := map[string]interface{}{}
		for k, v := range x {
			var ks string
			switch kt := k.(type) {
			case string:
				ks = kt
			case int:
				ks = fmt.Sprintf("%d", kt)
			case bool:
				ks = fmt.Sprintf("%v", kt)
			default:
				return nil, fmt.Errorf("unsupported key type: %T", k)
			}

			var err error
			m2[ks], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return m2, nil

	case []interface{}:
		a2 := make([]interface{}, len(x))
		for i, v := range x {
			var err error
			a2[i], err = convertKeys(v)
			if err != nil {
				return nil, err
			}
		}
		return a2, nil
	}

	return i, nil
}

// Unmarshal loads YAML into dest.
// YAML is converted into JSON and decoded with jsonwrapper, therefore
// JSON struct tags and unmarshalers are honored.
func Unmarshal(buf []byte, dest interface{}) error {
	var temp interface{}
	err := yaml.Unmarshal(buf, &temp)
	if err != nil {
		return err
	}

	temp, err = convertKeys(temp)
	if err != nil {
		return err
	}

	// an empty document decodes into nil
	if temp == nil {
		temp = map[string]interface{}{}
	}

	buf, err = json.Marshal(temp)
	if err != nil {
		return err
	}

	return jsonwrapper.Unmarshal(buf, dest)
}
