package health

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Applied in order: URLs before paths, since URLs contain paths.
var redactions = []redaction{
	{regexp.MustCompile(`(?i)(password|token|key|secret|credential)[^a-zA-Z\s]*[:=][^,\s}]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?:https?|wss?|nats|tls)://[^\s]+`), "[URL]"},
	{regexp.MustCompile(`[A-Z]:\\[^:\s]+`), "[PATH]"},
	{regexp.MustCompile(`/[a-zA-Z0-9/_.-]+`), "[PATH]"},
	{regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), "[IP]"},
	{regexp.MustCompile(`:\d{2,5}\b`), "[PORT]"},
}

// Sanitize strips addresses, paths and credential-like pairs from an error
// message so it can be served from a health endpoint.
func Sanitize(msg string) string {
	for _, r := range redactions {
		msg = r.pattern.ReplaceAllString(msg, r.replacement)
	}
	return msg
}
