package conf

import (
	"encoding/json"
	"fmt"
)

// Continuity is the continuity parameter.
// It selects how the timestamp offset grows when switching input file.
type Continuity int

// values.
const (
	// the offset grows by the timestamp of the last sample of the finished file.
	ContinuityLastSample Continuity = iota

	// the offset also includes the duration of the last sample.
	ContinuityLastSampleEnd
)

// MarshalJSON implements json.Marshaler.
func (c Continuity) MarshalJSON() ([]byte, error) {
	switch c {
	case ContinuityLastSample:
		return json.Marshal("lastSample")

	case ContinuityLastSampleEnd:
		return json.Marshal("lastSampleEnd")
	}

	return nil, fmt.Errorf("invalid continuity: %v", int(c))
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Continuity) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	switch in {
	case "lastSample":
		*c = ContinuityLastSample

	case "lastSampleEnd":
		*c = ContinuityLastSampleEnd

	default:
		return fmt.Errorf("invalid continuity: '%s'", in)
	}

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (c *Continuity) UnmarshalEnv(_ string, v string) error {
	return c.UnmarshalJSON([]byte(`"` + v + `"`))
}
