package redact

import "testing"

func TestTextPassesThroughWhenDisabled(t *testing.T) {
	SetEnabled(false)
	t.Cleanup(func() { SetEnabled(false) })
	in := "mail me at jane@example.com"
	if got := Text(in); got != in {
		t.Fatalf("expected no redaction, got %q", got)
	}
}

func TestTextMasksTranscriptPII(t *testing.T) {
	SetEnabled(true)
	t.Cleanup(func() { SetEnabled(false) })
	cases := map[string]string{
		"mail me at jane@example.com":           "mail me at [email]",
		"call me on +91 98765 43210 please":     "call me on [phone] please",
		"my card is 4111 1111 1111 1111 thanks": "my card is [card] thanks",
		"booking for two people at seven":       "booking for two people at seven",
		"order 12345 ships tomorrow":            "order 12345 ships tomorrow",
	}
	for in, want := range cases {
		if got := Text(in); got != want {
			t.Fatalf("Text(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSecret(t *testing.T) {
	if got := Secret(""); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if got := Secret("abc"); got != "****" {
		t.Fatalf("expected fully masked, got %q", got)
	}
	if got := Secret(" dg-0123456789 "); got != "****6789" {
		t.Fatalf("expected suffix only, got %q", got)
	}
}
