package env

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type myDuration time.Duration

func (d *myDuration) UnmarshalJSON(b []byte) error {
	var in string
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}

	du, err := time.ParseDuration(in)
	if err != nil {
		return err
	}
	*d = myDuration(du)

	return nil
}

// UnmarshalEnv implements env.Unmarshaler.
func (d *myDuration) UnmarshalEnv(_ string, v string) error {
	return d.UnmarshalJSON([]byte(`"` + v + `"`))
}

type mySubStruct struct {
	MyInt2 int `json:"myInt2"`
}

type testStruct struct {
	MyString           string      `json:"myString"`
	MyInt              int         `json:"myInt"`
	MyUint             uint        `json:"myUint"`
	MyFloat            float64     `json:"myFloat"`
	MyBool             bool        `json:"myBool"`
	MyDuration         myDuration  `json:"myDuration"`
	MyDurationOpt      *myDuration `json:"myDurationOpt"`
	MySliceString      []string    `json:"mySliceString"`
	MySliceStringEmpty []string    `json:"mySliceStringEmpty"`
	MySub              mySubStruct `json:"mySub"`
	Untouched          string      `json:"untouched"`
	Private            string      `json:"-"`
}

func TestLoad(t *testing.T) {
	env := map[string]string{
		"MYPREFIX_MYSTRING":           "testcontent",
		"MYPREFIX_MYINT":              "123",
		"MYPREFIX_MYUINT":             "8456",
		"MYPREFIX_MYFLOAT":            "15.2",
		"MYPREFIX_MYBOOL":             "yes",
		"MYPREFIX_MYDURATION":         "22s",
		"MYPREFIX_MYDURATIONOPT":      "30s",
		"MYPREFIX_MYSLICESTRING":      "val1,val2",
		"MYPREFIX_MYSLICESTRINGEMPTY": "",
		"MYPREFIX_MYSUB_MYINT2":       "7",
		"MYPREFIX_PRIVATE":            "ignored",
	}

	s := testStruct{
		Untouched:          "original",
		MySliceStringEmpty: []string{"a"},
	}

	err := loadWithEnv(env, "MYPREFIX", &s)
	require.NoError(t, err)

	durOpt := myDuration(30 * time.Second)

	require.Equal(t, testStruct{
		MyString:           "testcontent",
		MyInt:              123,
		MyUint:             8456,
		MyFloat:            15.2,
		MyBool:             true,
		MyDuration:         myDuration(22 * time.Second),
		MyDurationOpt:      &durOpt,
		MySliceString:      []string{"val1", "val2"},
		MySliceStringEmpty: []string{},
		MySub:              mySubStruct{MyInt2: 7},
		Untouched:          "original",
	}, s)
}

func TestLoadErrors(t *testing.T) {
	for _, ca := range []struct {
		name string
		env  map[string]string
		err  string
	}{
		{
			"invalid bool",
			map[string]string{"P_MYBOOL": "maybe"},
			"P_MYBOOL: invalid value 'maybe'",
		},
		{
			"invalid int",
			map[string]string{"P_MYINT": "abc"},
			"P_MYINT: strconv.ParseInt: parsing \"abc\": invalid syntax",
		},
		{
			"invalid duration",
			map[string]string{"P_MYDURATION": "abc"},
			"P_MYDURATION: time: invalid duration \"abc\"",
		},
	} {
		t.Run(ca.name, func(t *testing.T) {
			var s testStruct
			err := loadWithEnv(ca.env, "P", &s)
			require.EqualError(t, err, ca.err)
		})
	}
}
