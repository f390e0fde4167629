package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "https://Example.COM", want: "https://example.com"},
		{in: "https://example.com:443", want: "https://example.com"},
		{in: "http://example.com:80/path?q=1", want: "http://example.com"},
		{in: "http://localhost:8080", want: "http://localhost:8080"},
		{in: "http://[::1]:3000", want: "http://[::1]:3000"},
		{in: "http://[::1]", want: "http://[::1]"},
		{in: "null", want: OpaqueOrigin},
		{in: "", wantErr: true},
		{in: "*", wantErr: true},
		{in: "example.com", wantErr: true},
		{in: "://bad", wantErr: true},
	}
	for _, tt := range tests {
		got, err := NormalizeOrigin(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestSameOrigin(t *testing.T) {
	assert.True(t, SameOrigin("https://a.example", "https://A.example:443/x"))
	assert.False(t, SameOrigin("https://a.example", "http://a.example"))
	assert.False(t, SameOrigin("https://a.example", "https://a.example:8443"))
	assert.False(t, SameOrigin("", ""), "malformed origins never match")
	assert.True(t, SameOrigin("null", "null"))
}

func TestOriginMatcher(t *testing.T) {
	m, err := NewOriginMatcher([]string{"https://host.example", "http://localhost:8080"})
	require.NoError(t, err)
	assert.Equal(t, 2, m.Len())
	assert.True(t, m.Allowed("https://host.example:443"))
	assert.True(t, m.Allowed("http://localhost:8080"))
	assert.False(t, m.Allowed("http://localhost:8081"))
	assert.False(t, m.Allowed("garbage"))

	_, err = NewOriginMatcher([]string{"*"})
	assert.Error(t, err)

	var nilMatcher *OriginMatcher
	assert.False(t, nilMatcher.Allowed("https://host.example"))
	assert.Equal(t, 0, nilMatcher.Len())
}
