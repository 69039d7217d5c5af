package feed

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestHTMLToText(t *testing.T) {
	t.Parallel()

	text, images := htmlToText(`<p>Hello <em>there</em></p><p>Second&nbsp;line<br>third</p><script>x()</script><img src="a.png">`)
	if text != "Hello there\nSecond line\nthird" {
		t.Fatalf("unexpected text %q", text)
	}
	if len(images) != 1 || images[0].URL != "a.png" {
		t.Fatalf("unexpected images %+v", images)
	}

	plain, none := htmlToText("  just text  ")
	if plain != "just text" || none != nil {
		t.Fatalf("plain text should pass through, got %q %v", plain, none)
	}
}

func TestTruncateIsRuneSafe(t *testing.T) {
	t.Parallel()

	in := strings.Repeat("ж", 20)
	out := truncate(in, 10)
	if !utf8.ValidString(out) {
		t.Fatalf("truncation produced invalid utf-8")
	}
	if utf8.RuneCountInString(out) != 10 || !strings.HasSuffix(out, ellipsis) {
		t.Fatalf("unexpected truncation %q", out)
	}
	if truncate("short", 10) != "short" {
		t.Fatalf("short text must not change")
	}
}

func TestCompose(t *testing.T) {
	t.Parallel()

	if got := compose("body", "", "", 100); got != "body" {
		t.Fatalf("unexpected %q", got)
	}
	if got := compose("", "https://x.example", "", 100); got != "https://x.example" {
		t.Fatalf("unexpected %q", got)
	}
	if got := compose("body", "https://x.example", "#tag", 100); got != "body\n\nhttps://x.example\n#tag" {
		t.Fatalf("unexpected %q", got)
	}
}

func TestJoinText(t *testing.T) {
	t.Parallel()

	cases := []struct{ title, body, want string }{
		{"", "body", "body"},
		{"Title", "", "Title"},
		{"Title", "Title and more", "Title and more"},
		{"Title", "Body", "Title\n\nBody"},
	}
	for _, c := range cases {
		if got := joinText(c.title, c.body); got != c.want {
			t.Fatalf("joinText(%q, %q) = %q, want %q", c.title, c.body, got, c.want)
		}
	}
}
