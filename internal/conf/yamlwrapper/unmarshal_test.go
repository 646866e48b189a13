package yamlwrapper

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnmarshalIntegerMapKey(t *testing.T) {
	buf := []byte(`
1: value
test: value2
`)

	var dest any
	err := Unmarshal(buf, &dest)
	require.NoError(t, err)

	require.Equal(t, map[string]any{
		"1":    "value",
		"test": "value2",
	}, dest)
}

func TestUnmarshalUnknownFields(t *testing.T) {
	type testStruct struct {
		Field1 string `json:"field1"`
		Field2 int    `json:"field2"`
	}

	input := []byte("field1: test\n" +
		"unknownField: value\n" +
		"field2: 456\n")

	var result testStruct
	err := Unmarshal(input, &result)
	require.EqualError(t, err, "json: unknown field \"unknownField\"")
}

func TestUnmarshalLegacyBools(t *testing.T) {
	type testStruct struct {
		Field1 bool   `json:"field1"`
		Field2 string `json:"field2"`
	}

	input := []byte("field1: yes\n" +
		"field2: \"yes\"\n")

	var result testStruct
	err := Unmarshal(input, &result)
	require.NoError(t, err)
	require.Equal(t, testStruct{
		Field1: true,
		Field2: "yes",
	}, result)
}

func TestUnmarshalEmpty(t *testing.T) {
	type testStruct struct {
		Field1 string `json:"field1"`
	}

	result := testStruct{Field1: "default"}
	err := Unmarshal([]byte(""), &result)
	require.NoError(t, err)
	require.Equal(t, "default", result.Field1)
}
