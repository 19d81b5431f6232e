package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"0", 0},
		{"4096", 4096},
		{"1Ki", KiB},
		{"4KiB", 4 * KiB},
		{"1Gi", GiB},
		{"500Mi", 500 * MiB},
		{"100MB", 100 * MB},
		{"1.5Gi", ByteSize(1.5 * float64(GiB))},
		{" 2 TiB ", 2 * TiB},
	}

	for _, tt := range tests {
		got, err := Parse(tt.input)
		require.NoError(t, err, "input %q", tt.input)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
	}
}

func TestParseInvalid(t *testing.T) {
	for _, input := range []string{"", "abc", "12XB", "-5Mi"} {
		_, err := Parse(input)
		assert.Error(t, err, "input %q", input)
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("64Mi")))
	assert.Equal(t, 64*MiB, b)

	assert.Error(t, b.UnmarshalText([]byte("nonsense")))
}

func TestFormat(t *testing.T) {
	assert.Equal(t, "317B", Format(317))
	assert.Equal(t, "4.00KiB", Format(4096))
	assert.Equal(t, "1.50GiB", Format(uint64(1.5*float64(GiB))))
}
