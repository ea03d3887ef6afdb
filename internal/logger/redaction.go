package logger

import (
	"io"
	"regexp"
)

// Redactor scrubs credentials from log output. Every channel family
// carries at least one secret (corp secrets, bot tokens, AES keys,
// mailbox passwords), and all of them flow through adapter configs that
// may get logged on errors.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default pattern set.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Bearer / QQBot authorization headers
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`QQBot\s+[a-zA-Z0-9._-]+`),

			// Telegram-style bot tokens
			regexp.MustCompile(`\d{8,10}:[a-zA-Z0-9_-]{30,}`),

			// Callback AES keys (43 base64 chars without padding)
			regexp.MustCompile(`encoding_aes_key["\s:=]+[a-zA-Z0-9+/]{43}`),

			// Generic credential fields
			regexp.MustCompile(`password["\s:=]+[^\s"]+`),
			regexp.MustCompile(`corp_secret["\s:=]+[^\s"]+`),
			regexp.MustCompile(`app_secret["\s:=]+[^\s"]+`),
			regexp.MustCompile(`bot_token["\s:=]+[^\s"]+`),
			regexp.MustCompile(`access_token["\s:=]+[a-zA-Z0-9._-]{16,}`),
			regexp.MustCompile(`secret["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact replaces every match with a placeholder.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer so everything written through it is redacted.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
