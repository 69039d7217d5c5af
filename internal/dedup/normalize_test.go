package dedup

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercase and collapse", "  Hello   WORLD \n again ", "hello world again"},
		{"strip url", "Read this https://example.com/a?b=c now", "read this now"},
		{"strip www url", "see www.example.org/page", "see"},
		{"strip mention", "@alice thanks for the tip", "thanks for the tip"},
		{"strip fediverse handle", "cc @bob@mastodon.social later", "cc later"},
		{"keep email", "write to bob@example.com", "write to bob@example.com"},
		{"punctuation kept", "Hello world!!", "hello world!!"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.want, Normalize(c.in))
		})
	}
}

func TestFingerprintEquality(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Fingerprint(Normalize("")), Fingerprint(Normalize("   ")))
	assert.Equal(t, Fingerprint(Normalize("Hello https://x.io World")), Fingerprint(Normalize("hello world")))
	assert.NotEqual(t, Fingerprint(Normalize("Hello world")), Fingerprint(Normalize("Hello world!!")))
	assert.Len(t, Fingerprint("abc"), 64)
}

func TestSimilarity(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "hello", "hello world again", "!!!"} {
		assert.Equal(t, 1.0, Similarity(text, text), "reflexive for %q", text)
	}

	assert.Equal(t, 0.0, Similarity("hello world", ""))
	assert.Equal(t, 0.0, Similarity("", "hello world"))
	assert.Equal(t, 1.0, Similarity("hello world", "hello world!!"))
	assert.Equal(t, 0.0, Similarity("breaking news today", "completely different"))
	assert.InDelta(t, 0.5, Similarity("a b c", "b c d"), 1e-9)
	assert.Equal(t, 0.0, Similarity("!!!", "???"))
}

func TestCompareIDs(t *testing.T) {
	t.Parallel()

	assert.Positive(t, CompareIDs("200", "100"))
	assert.Negative(t, CompareIDs("100", "200"))
	assert.Zero(t, CompareIDs("100", "100"))
	assert.Positive(t, CompareIDs("1000", "999"), "numeric, not lexical")
	assert.Positive(t, CompareIDs("1790000000000000000001", "1790000000000000000000"))
	assert.Positive(t, CompareIDs("b", "a"))
	assert.Negative(t, CompareIDs("100", "abc"), "lexical fallback when one side is not numeric")
}
