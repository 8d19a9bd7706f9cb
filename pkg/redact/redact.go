// Package redact masks personal data in transcripts and credentials in logs.
package redact

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var enabled atomic.Bool

// Rules run in order; card numbers go first so the phone rule does not eat them.
var rules = []struct {
	re   *regexp.Regexp
	mask string
}{
	{regexp.MustCompile(`(?i)[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}`), "[email]"},
	{regexp.MustCompile(`\b(?:\d[ \-]?){12,18}\d\b`), "[card]"},
	{regexp.MustCompile(`\+?\d[\d\s\-]{7,}\d\b`), "[phone]"},
}

func SetEnabled(v bool) {
	enabled.Store(v)
}

func Enabled() bool {
	return enabled.Load()
}

// Text masks emails, card numbers and phone numbers in a transcript while
// redaction is enabled.
func Text(in string) string {
	if !enabled.Load() || strings.TrimSpace(in) == "" {
		return in
	}
	out := in
	for _, r := range rules {
		out = r.re.ReplaceAllString(out, r.mask)
	}
	return out
}

// Secret keeps the last four characters of a credential. It ignores SetEnabled.
func Secret(in string) string {
	in = strings.TrimSpace(in)
	if in == "" {
		return ""
	}
	if len(in) <= 4 {
		return "****"
	}
	return "****" + in[len(in)-4:]
}
