package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeURL(t *testing.T) {
	cases := map[string]struct {
		in   string
		want string
	}{
		"tracking params and trailing slash": {
			in:   "https://Example.com/a/?utm_source=x&id=5",
			want: "https://example.com/a?id=5",
		},
		"fragment dropped":        {in: "https://example.com/post#comments", want: "https://example.com/post"},
		"empty query dropped":     {in: "https://example.com/?fbclid=abc&utm_medium=mail", want: "https://example.com"},
		"whitespace trimmed":      {in: "  http://EXAMPLE.com/Path  ", want: "http://example.com/path"},
		"query keys sorted":       {in: "https://example.com/s?b=2&a=1", want: "https://example.com/s?a=1&b=2"},
		"mixed case utm key":      {in: "https://example.com/x?UTM_Campaign=y&q=go", want: "https://example.com/x?q=go"},
		"malformed falls back":    {in: "  Not A URL/ ", want: "not a url"},
		"bad escape falls back":   {in: "http://exa mple.com/%zz/", want: "http://exa mple.com/%zz"},
		"empty stays empty":       {in: "   ", want: ""},
		"ref and source stripped": {in: "https://blog.dev/p/1?ref=hn&source=rss", want: "https://blog.dev/p/1"},
		"bad escape pair kept, tracking still stripped": {
			in:   "https://example.com/a?id=5&utm_source=x&q=%zz",
			want: "https://example.com/a?id=5&q=%zz",
		},
		"semicolon stays inside value": {
			in:   "https://example.com/a?fbclid=1&x=1;y=2",
			want: "https://example.com/a?x=1%3By%3D2",
		},
		"tracking key with bad value stripped": {in: "https://example.com/a?utm_term=%zz&id=5", want: "https://example.com/a?id=5"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, NormalizeURL(tc.in))
		})
	}
}

func TestNormalizeURL_Idempotent(t *testing.T) {
	inputs := []string{
		"https://Example.com/a/?utm_source=x&id=5",
		"https://example.com//",
		"HTTP://WWW.Site.org/Path/?b=2&a=1#frag",
		"not a url///",
		"https://example.com/?q=a%20b",
		"https://example.com/a?id=5&utm_source=x&q=%zz",
		"https://example.com/a?b=%zz&a=1;c",
		"",
	}
	for _, in := range inputs {
		once := NormalizeURL(in)
		assert.Equal(t, once, NormalizeURL(once), "input %q", in)
	}
}

func TestAreEquivalentURLs(t *testing.T) {
	a := "https://Example.com/a/?utm_source=x&id=5"
	b := "https://example.com/a?id=5"
	c := "HTTPS://EXAMPLE.COM/A?id=5&gclid=1#top"

	// 自反、对称、传递
	assert.True(t, AreEquivalentURLs(a, a))
	assert.True(t, AreEquivalentURLs(a, b))
	assert.True(t, AreEquivalentURLs(b, a))
	assert.True(t, AreEquivalentURLs(b, c))
	assert.True(t, AreEquivalentURLs(a, c))

	assert.True(t, AreEquivalentURLs("", ""))
	assert.False(t, AreEquivalentURLs("", b))
	assert.False(t, AreEquivalentURLs(b, ""))
	assert.False(t, AreEquivalentURLs(b, "https://example.com/a?id=6"))
	assert.True(t, AreEquivalentURLs("https://example.com/a?id=5&utm_source=x&q=%zz", "https://example.com/a?q=%zz&id=5"))
}

func TestExtractDomain(t *testing.T) {
	assert.Equal(t, "example.com", ExtractDomain("https://www.Example.com/x"))
	assert.Equal(t, "news.ycombinator.com", ExtractDomain("https://news.ycombinator.com/item?id=1"))
	assert.Equal(t, "localhost", ExtractDomain("http://localhost:8080/"))
	assert.Equal(t, "", ExtractDomain("no scheme here"))
	assert.Equal(t, "", ExtractDomain("http://[::1"))
	assert.Equal(t, "", ExtractDomain(""))
}
