package policy

import "regexp"

type redaction struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: card numbers must be masked before the looser phone pattern
// sees them, and secrets before anything that could split them.
var redactions = []redaction{
	{regexp.MustCompile(`(?i)\b(?:sk|pk|api|key)[-_][a-z0-9\-_]{16,}\b`), "[REDACTED_SECRET]"},
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks contact details, card numbers and API-key-like tokens
// before text is written into a character's long-term memory.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactions {
		next := r.pattern.ReplaceAllString(out, r.replacement)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
