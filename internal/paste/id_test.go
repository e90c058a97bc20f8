package paste

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewID(t *testing.T) {
	seen := make(map[string]bool, 1000)
	for range 1000 {
		id := NewID()
		require.True(t, ValidID(id), id)
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestValidID(t *testing.T) {
	assert.True(t, ValidID("abcdefghij"))
	assert.False(t, ValidID("abcdefghi"))
	assert.False(t, ValidID("abcdefghi0"), "0 is not in the alphabet")
	assert.False(t, ValidID("abcdefghil"), "l is not in the alphabet")
	assert.False(t, ValidID("abcdefghi/"))
}

func TestSigner(t *testing.T) {
	s, err := NewSigner([]byte("secret"))
	require.NoError(t, err)

	token := s.Token("abcdefghij")
	assert.Len(t, token, tokenLength)
	assert.True(t, s.Valid("abcdefghij", token))
	assert.False(t, s.Valid("abcdefghik", token))
	assert.False(t, s.Valid("abcdefghij", token[:10]))

	other, err := NewSigner([]byte("other"))
	require.NoError(t, err)
	assert.False(t, other.Valid("abcdefghij", token))

	random, err := NewSigner(nil)
	require.NoError(t, err)
	assert.NotEqual(t, token, random.Token("abcdefghij"))
}

func TestTextToTitle(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{in: "short", n: 50, want: "short"},
		{in: "  spaced \n\t out  ", n: 50, want: "spaced out"},
		{in: "hello world", n: 5, want: "hello…"},
		{in: "hello world", n: 7, want: "hello w…"},
		{in: "aaaaaaaaa bbbbbbbbbbb", n: 11, want: "aaaaaaaaa…"},
		{in: "supercalifragilistic", n: 10, want: "supercalif…"},
		{in: "héllo wörld ünïcode", n: 11, want: "héllo wörld…"},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, TextToTitle(tc.in, tc.n), "TextToTitle(%q, %d)", tc.in, tc.n)
	}
}

func TestIsEmptyRender(t *testing.T) {
	assert.True(t, isEmptyRender(""))
	assert.True(t, isEmptyRender("  \n"))
	assert.True(t, isEmptyRender("<!-- raw HTML omitted -->\n"))
	assert.True(t, isEmptyRender("<!-- raw HTML omitted -->\n<!-- raw HTML omitted -->\n"))
	assert.False(t, isEmptyRender("<p>x</p>"))
}
