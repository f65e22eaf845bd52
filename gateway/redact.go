package gateway

import (
	"regexp"
	"sort"
	"strings"
)

// sensitiveNames are substrings of variable names whose values are never
// logged.
var sensitiveNames = []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "PASSWD", "CREDENTIAL", "AUTH"}

// minSecretLen keeps short values like "1" from masking unrelated text.
const minSecretLen = 6

var (
	reAssign = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)=(\S+)`)
	reBearer = regexp.MustCompile(`(?i)\b(bearer)\s+[A-Za-z0-9._~+/=-]+`)
)

// redactor masks secret values in the process's diagnostic output.
type redactor struct {
	// secrets are literal values, longest first.
	secrets []string
}

func newRedactor(env []string) *redactor {
	r := &redactor{}
	for _, kv := range env {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || len(value) < minSecretLen || !isSensitive(name) {
			continue
		}
		r.secrets = append(r.secrets, value)
	}
	sort.Slice(r.secrets, func(i, j int) bool {
		return len(r.secrets[i]) > len(r.secrets[j])
	})
	return r
}

func isSensitive(name string) bool {
	upper := strings.ToUpper(name)
	for _, s := range sensitiveNames {
		if strings.Contains(upper, s) {
			return true
		}
	}
	return false
}

// redact replaces known secret values, sensitive NAME=value assignments and
// bearer tokens with "***".
func (r *redactor) redact(s string) string {
	if r == nil || s == "" {
		return s
	}
	for _, v := range r.secrets {
		s = strings.ReplaceAll(s, v, "***")
	}
	s = reAssign.ReplaceAllStringFunc(s, func(m string) string {
		name := reAssign.FindStringSubmatch(m)[1]
		if !isSensitive(name) {
			return m
		}
		return name + "=***"
	})
	return reBearer.ReplaceAllString(s, "$1 ***")
}
