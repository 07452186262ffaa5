package logger

import (
	"io"
	"regexp"
)

const redacted = "[REDACTED]"

// Redactor redacts sensitive information from logs
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a new redactor with default patterns
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// Model provider keys
			regexp.MustCompile(`sk-ant-[a-zA-Z0-9_-]{20,}`),
			regexp.MustCompile(`sk-[a-zA-Z0-9_-]{20,}`),

			// Bearer tokens
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._!-]+`),

			// Salesforce session ids: org id prefix, '!', opaque token
			regexp.MustCompile(`00D[a-zA-Z0-9]{12,15}![a-zA-Z0-9._-]{20,}`),

			// Credentials in key/value form, JSON or query strings
			regexp.MustCompile(`(?i)(client_secret|security_token|password|access_token|sessionId)(["']?\s*[:=]\s*["']?)[^\s"'&,}<]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact redacts sensitive information from a string
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		if pattern.NumSubexp() >= 2 {
			result = pattern.ReplaceAllString(result, "${1}${2}"+redacted)
			continue
		}
		result = pattern.ReplaceAllString(result, redacted)
	}
	return result
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success so callers don't see a short write when
// redaction changes the length.
func (w *redactingWriter) Write(p []byte) (int, error) {
	if _, err := w.writer.Write([]byte(w.redactor.Redact(string(p)))); err != nil {
		return 0, err
	}
	return len(p), nil
}
