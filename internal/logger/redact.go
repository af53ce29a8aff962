package logger

import "regexp"

// credential patterns seen in tile and session URLs and in config dumps
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)([?&](?:key|session|token)=)([^&\s"]+)`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|session[_-]?token|sentry[_-]?dsn)["']?\s*[:=]\s*["']?)([^;,\s"']{5,})`),
	regexp.MustCompile(`(AIza)[0-9A-Za-z_-]{20,}`),
}

// RedactSensitiveData replaces provider keys and session tokens in s with
// "[REDACTED]".
func RedactSensitiveData(s string) string {
	if s == "" {
		return s
	}
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "${1}[REDACTED]")
	}
	return s
}
