package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input   string
		want    Version
		wantErr bool
	}{
		{input: "1.0.0", want: Version{1, 0, 0}},
		{input: "12.34.56", want: Version{12, 34, 56}},
		{input: "0.0.1", want: Version{0, 0, 1}},
		{input: "1.0", wantErr: true},
		{input: "v1.0.0", wantErr: true},
		{input: "1.0.0-beta", wantErr: true},
		{input: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseVersion(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVersionBump(t *testing.T) {
	v := Version{1, 2, 3}

	assert.Equal(t, Version{2, 0, 0}, v.Bump(BumpMajor))
	assert.Equal(t, Version{1, 3, 0}, v.Bump(BumpMinor))
	assert.Equal(t, Version{1, 2, 4}, v.Bump(BumpPatch))
}

func TestVersionLess(t *testing.T) {
	assert.True(t, Version{1, 0, 0}.Less(Version{1, 0, 1}))
	assert.True(t, Version{1, 9, 9}.Less(Version{2, 0, 0}))
	assert.True(t, Version{1, 1, 0}.Less(Version{1, 2, 0}))
	assert.False(t, Version{1, 1, 0}.Less(Version{1, 1, 0}))
	assert.False(t, Version{2, 0, 0}.Less(Version{1, 9, 9}))
}

func TestVersionTextRoundTrip(t *testing.T) {
	v := Version{3, 1, 4}

	text, err := v.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "3.1.4", string(text))

	var parsed Version
	require.NoError(t, parsed.UnmarshalText(text))
	assert.Equal(t, v, parsed)
}
