package cache

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name  string            `cbor:"name"`
	Attrs map[string]string `cbor:"attrs"`
}

func TestEnvelope_RoundTrip(t *testing.T) {
	in := sample{Name: "kiln", Attrs: map[string]string{"b": "2", "a": "1"}}

	data, err := EncodeEnvelope(in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, DecodeEnvelope(data, &out))
	assert.Equal(t, in, out)
}

func TestEnvelope_Deterministic(t *testing.T) {
	a, err := MarshalCanonical(map[string]any{"x": 1, "y": "two", "z": []any{true}})
	require.NoError(t, err)
	b, err := MarshalCanonical(map[string]any{"z": []any{true}, "y": "two", "x": 1})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestEnvelope_Rejects(t *testing.T) {
	valid, err := EncodeEnvelope(sample{Name: "payload"})
	require.NoError(t, err)

	flipped := append([]byte(nil), valid...)
	flipped[envelopeHeadLen-12] ^= 0xff

	cases := map[string][]byte{
		"Empty":            nil,
		"Short Header":     valid[:10],
		"Bad Magic":        append([]byte("NOPE"), valid[4:]...),
		"Truncated Body":   valid[:len(valid)-2],
		"Checksum Flipped": flipped,
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			var out sample
			err := DecodeEnvelope(data, &out)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrCorrupt))
		})
	}
}

func TestEnvelopeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "state")

	var out sample
	found, err := ReadEnvelopeFile(path, &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, WriteEnvelopeFile(path, sample{Name: "stored"}))

	found, err = ReadEnvelopeFile(path, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "stored", out.Name)
}
