package outbox

import (
	"regexp"
	"strings"
)

// Stored error messages land in the last_error column and in logs, so
// credentials carried by driver or broker errors must not survive
// verbatim (CWE-209).
const maxStoredErrorLength = 512

const truncatedSuffix = "... (truncated)"

const redactedValue = "[REDACTED]"

var storedErrorReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

type redactionRule struct {
	pattern     *regexp.Regexp
	replacement string
}

var redactionRules = []redactionRule{
	// userinfo password in connection URLs (amqp://user:pass@, postgres://...)
	{
		pattern:     regexp.MustCompile(`(?i)\b([a-z][a-z0-9+.-]*://[^:\s/]+):([^@\s]+)@`),
		replacement: `$1:` + redactedValue + `@`,
	},
	{
		pattern:     regexp.MustCompile(`(?i)\bbearer\s+[a-z0-9\-._~+/]+=*\b`),
		replacement: "Bearer " + redactedValue,
	},
	{
		pattern:     regexp.MustCompile(`(?i)(authorization\s*:\s*basic\s+)[a-z0-9+/=]+`),
		replacement: `$1` + redactedValue,
	},
	// JWTs
	{
		pattern:     regexp.MustCompile(`\beyJ[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\.[a-zA-Z0-9_-]+\b`),
		replacement: redactedValue,
	},
	// key=value and key: value credential pairs in DSNs and config dumps
	{
		pattern:     regexp.MustCompile(`(?i)\b(api[-_ ]?key|access[-_ ]?token|refresh[-_ ]?token|password|secret)\s*[:=]\s*([^\s,;]+)`),
		replacement: `$1=` + redactedValue,
	},
	// query-string credentials
	{
		pattern:     regexp.MustCompile(`(?i)([?&](?:password|pass|pwd|token|api[_-]?key|access[_-]?token|refresh[_-]?token)=)([^&\s]+)`),
		replacement: `$1` + redactedValue,
	},
}

// sanitizeErrorForStorage redacts credentials, escapes control characters,
// and enforces bounded length before an error message is written to storage.
func sanitizeErrorForStorage(err error) string {
	if err == nil {
		return ""
	}

	msg := strings.TrimSpace(err.Error())

	for _, rule := range redactionRules {
		msg = rule.pattern.ReplaceAllString(msg, rule.replacement)
	}

	msg = storedErrorReplacer.Replace(msg)

	if len(msg) > maxStoredErrorLength {
		msg = msg[:maxStoredErrorLength-len(truncatedSuffix)] + truncatedSuffix
	}

	return msg
}
