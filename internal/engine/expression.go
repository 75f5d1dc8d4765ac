package engine

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf16"

	errs "github.com/rndebug/rndebug/internal/errors"
)

var asyncPrefix = regexp.MustCompile(`^async\s*(\(|function\b|[A-Za-z_$][\w$]*\s*=>)`)

const wrapperTemplate = `(function() {
  if (typeof global === 'undefined') {
    var root = typeof globalThis !== 'undefined' ? globalThis : this;
    root.global = root;
  }
  return (
%s
  );
})()`

// Prepare validates expression and wraps it for Runtime.evaluate.
// Rejected expressions return an *Error of kind ErrValidation carrying a remediation hint.
func Prepare(expression string) (string, error) {
	for i, r := range expression {
		if r <= 0xFFFF {
			continue
		}
		hi, lo := utf16.EncodeRune(r)
		return "", newError(errs.ErrValidation, fmt.Sprintf(
			"expression contains %q at byte %d, which Hermes cannot compile; write it as the escape sequence \\u%04X\\u%04X instead",
			r, i, hi, lo,
		))
	}

	body, err := stripLeadingComments(expression)
	if err != nil {
		return "", err
	}
	body = strings.TrimRight(body, " \t\r\n;")
	if body == "" {
		return "", newError(errs.ErrValidation, "expression is empty")
	}

	if asyncPrefix.MatchString(body) {
		return "", newError(errs.ErrValidation,
			"top-level async functions are not supported by Runtime.evaluate; "+
				"use a promise chain with a synchronous callback instead, e.g. "+
				"fetch(url).then(r => r.json()).then(v => { global.__result = v })",
		)
	}

	return fmt.Sprintf(wrapperTemplate, body), nil
}

// stripLeadingComments removes comments ahead of the first token so the body can follow "return (".
func stripLeadingComments(s string) (string, error) {
	for {
		s = strings.TrimLeft(s, " \t\r\n")
		switch {
		case strings.HasPrefix(s, "//"):
			end := strings.IndexByte(s, '\n')
			if end < 0 {
				return "", nil
			}
			s = s[end+1:]
		case strings.HasPrefix(s, "/*"):
			end := strings.Index(s[2:], "*/")
			if end < 0 {
				return "", newError(errs.ErrValidation, "expression starts with an unterminated block comment")
			}
			s = s[end+4:]
		default:
			return s, nil
		}
	}
}
