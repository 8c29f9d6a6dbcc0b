package runnertime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name    string
		in      any
		want    time.Duration
		wantErr bool
	}{
		{name: "duration passthrough", in: 3 * time.Second, want: 3 * time.Second},
		{name: "negative duration rejected", in: -1 * time.Second, wantErr: true},
		{name: "int seconds", in: 5, want: 5 * time.Second},
		{name: "negative int rejected", in: -5, wantErr: true},
		{name: "int64 seconds", in: int64(10), want: 10 * time.Second},
		{name: "float seconds", in: 1.5, want: 1500 * time.Millisecond},
		{name: "negative float rejected", in: -0.5, wantErr: true},
		{name: "zero is valid", in: 0, want: 0},
		{name: "nil rejected", in: nil, wantErr: true},
		{name: "unsupported type rejected", in: "5s", wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Parse(tc.in)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseDefault(t *testing.T) {
	def := 30 * time.Second

	got, err := ParseDefault(nil, def)
	require.NoError(t, err)
	assert.Equal(t, def, got)

	got, err = ParseDefault(5, def)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, got)

	_, err = ParseDefault(-1, def)
	require.Error(t, err)
}
