package json

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalLines(t *testing.T) {
	data, err := MarshalLines([]interface{}{
		map[string]interface{}{"a": 1},
		map[string]interface{}{"b": "<x>"},
	})
	require.NoError(t, err)

	assert.Equal(t, "{\"a\":1}\n{\"b\":\"<x>\"}\n", string(data))
}

func TestSplitLines(t *testing.T) {
	lines := SplitLines([]byte("{\"a\":1}\n\n  \n{\"b\":2}"))
	require.Len(t, lines, 2)
	assert.Equal(t, `{"a":1}`, string(lines[0]))
	assert.Equal(t, `{"b":2}`, string(lines[1]))
}

func TestDecoderKeepsNumbers(t *testing.T) {
	var v interface{}
	require.NoError(t, NewDecoder(strings.NewReader(`{"i": 12, "f": 1.5}`)).Decode(&v))

	m := v.(map[string]interface{})
	i, ok := m["i"].(Number)
	require.True(t, ok)
	assert.Equal(t, "12", i.String())

	f, ok := m["f"].(Number)
	require.True(t, ok)
	fv, err := f.Float64()
	require.NoError(t, err)
	assert.Equal(t, 1.5, fv)
}
