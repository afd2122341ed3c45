package imap

import (
	"strings"
	"testing"
)

func TestParseBody_PlainText(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"To: inbox@example.com\r\n" +
		"Subject: Unsubscribe\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Please remove me from your list.\r\n"

	body := parseBody([]byte(raw))
	if !strings.Contains(body, "Please remove me") {
		t.Errorf("plain text body not extracted: %q", body)
	}
}

func TestParseBody_PrefersPlainOverHTML(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"Subject: Unsubscribe\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=BOUNDARY\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Please remove me</p>\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Please remove me\r\n" +
		"--BOUNDARY--\r\n"

	body := parseBody([]byte(raw))
	if strings.Contains(body, "<p>") {
		t.Errorf("expected the plain part, got html: %q", body)
	}
	if !strings.Contains(body, "Please remove me") {
		t.Errorf("plain part not extracted: %q", body)
	}
}

func TestParseBody_HTMLOnly(t *testing.T) {
	raw := "From: sender@example.com\r\n" +
		"Subject: Unsubscribe\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>opt out</p>\r\n"

	body := parseBody([]byte(raw))
	if !strings.Contains(body, "opt out") {
		t.Errorf("html body not extracted as last resort: %q", body)
	}
}

func TestParseBody_NotMIMEFallsBackToRaw(t *testing.T) {
	raw := "Subject: hi\r\n\r\njust some text"

	body := parseBody([]byte(raw))
	if !strings.Contains(body, "just some text") {
		t.Errorf("raw fallback failed: %q", body)
	}
}

func TestParseEmailAddress(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Sender Name <Sender@Example.COM>", "sender@example.com"},
		{"sender@example.com", "sender@example.com"},
		{"  Plain@Example.com  ", "plain@example.com"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := ParseEmailAddress(tc.in); got != tc.want {
			t.Errorf("ParseEmailAddress(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
