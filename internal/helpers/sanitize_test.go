package helpers

import "testing"

func TestSanitizeText(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text untouched", "hello world", "hello world"},
		{"tags stripped", "<p>hello <b>world</b></p>", "hello world"},
		{"script removed", `before<script>alert("x")</script>after`, "beforeafter"},
		{"entities decoded", "fish &amp; chips", "fish & chips"},
		{"event handlers removed", `<a href="https://a.test" onclick="steal()">link</a>`, "link"},
		{"whitespace trimmed", "  padded\n", "padded"},
		{"empty", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeText(tc.in); got != tc.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}
