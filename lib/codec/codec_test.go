package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testCodecs is a map of codec name to factory function
var testCodecs = map[string]func() IValueCodec{
	"JSON": NewJSONCodec,
}

// testPayloads creates a set of payloads with different shapes
func testPayloads() [][]byte {
	return [][]byte{
		[]byte("plain text value"),
		[]byte(`{"nested":"json","n":42}`),
		{0x00, 0x01, 0x02, 0xff, 0xfe, 0x80}, // raw binary
		[]byte(""),                           // explicit empty value
		[]byte("unicode: äöü 読み"),
	}
}

func TestCodecRoundTrip(t *testing.T) {
	for name, factory := range testCodecs {
		t.Run(name, func(t *testing.T) {
			c := factory()
			for _, payload := range testPayloads() {
				encoded, err := c.Encode(payload)
				require.NoError(t, err)

				decoded, err := c.Decode(encoded)
				require.NoError(t, err)
				assert.Equal(t, payload, decoded, "payload must round-trip exactly")
			}
		})
	}
}

func TestCodecDeterministic(t *testing.T) {
	c := NewJSONCodec()
	a, err := c.Encode([]byte("same input"))
	require.NoError(t, err)
	b, err := c.Encode([]byte("same input"))
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestCodecRejectsCorruptInput(t *testing.T) {
	c := NewJSONCodec()

	for _, corrupt := range []string{
		"not json at all",
		`{"type":"bytes","data":"%%%not-base64%%%"}`,
		`{"type":"something-else","data":""}`,
		"",
	} {
		_, err := c.Decode(corrupt)
		assert.Error(t, err, "input %q must be rejected", corrupt)
	}
}
