package record

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalizeBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"string", `"hello"`, `"hello"`},
		{"int", `42`, `42`},
		{"negative int", `-100`, `-100`},
		{"max int64", `9223372036854775807`, `9223372036854775807`},
		{"null", `null`, `null`},
		{"bools", `[true, false]`, `[true,false]`},
		{"float", `1.50`, `1.5`},
		{"float integral", `2.0`, `2`},
		{"negative zero", `-0.0`, `0`},
		{"small exponent", `1E-7`, `1e-7`},
		{"large exponent", `1e21`, `1e+21`},
		{"whitespace", " { \"a\" : [ 1 , 2 ] } ", `{"a":[1,2]}`},
		{"empty containers", `{"a":{},"b":[]}`, `{"a":{},"b":[]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := Canonicalize([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestCanonicalizeSortedKeys(t *testing.T) {
	result, err := Canonicalize([]byte(`{"zebra":1,"alpha":{"y":2,"b":3},"beta":3}`))
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"b":3,"y":2},"beta":3,"zebra":1}`, string(result))
}

func TestCanonicalizeUTF16Ordering(t *testing.T) {
	// U+10000 encodes as 0xD800 0xDC00 in UTF-16 and sorts before U+E000.
	input := "{\"\uE000\":1,\"\U00010000\":2}"

	result, err := Canonicalize([]byte(input))
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestCanonicalizeNoHTMLEscape(t *testing.T) {
	result, err := Canonicalize([]byte(`{"nick":"<a&b>"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"nick":"<a&b>"}`, string(result))
}

func TestCanonicalizeControlCharacters(t *testing.T) {
	result, err := Canonicalize([]byte(`"a\u0001b\nc"`))
	require.NoError(t, err)
	assert.Equal(t, `"a\u0001b\nc"`, string(result))
}

func TestCanonicalizeNFC(t *testing.T) {
	result, err := Canonicalize([]byte("\"e\u0301\""))
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(result))
}

func TestCanonicalizeRejectsInvalid(t *testing.T) {
	for _, input := range []string{``, `{`, `{"a":1} {"b":2}`, `nope`} {
		_, err := Canonicalize([]byte(input))
		assert.Error(t, err, "input %q", input)
	}
}

func TestCompareKeysRFC8785(t *testing.T) {
	assert.Equal(t, 0, compareKeysRFC8785("a", "a"))
	assert.Equal(t, -1, compareKeysRFC8785("a", "b"))
	assert.Equal(t, -1, compareKeysRFC8785("a", "ab"))
	assert.Equal(t, 1, compareKeysRFC8785("\uE000", "\U00010000"))
}
