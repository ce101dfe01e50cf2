package pipeline

import (
	"regexp"
	"strings"

	"zora/pkg/logger"
)

// injectionPatterns match phrasings that try to override the system
// prompt or exfiltrate instructions. Matches are wrapped, never removed:
// the user may legitimately be quoting or discussing such text.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(your|the)\s+(system\s+)?prompt`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(in\s+)?(developer|jailbreak|dan)\s+mode`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?prompt`),
	regexp.MustCompile(`(?i)pretend\s+(you\s+have\s+)?no\s+(rules|restrictions|policy)`),
	regexp.MustCompile(`(?i)do\s+not\s+(follow|obey)\s+(your|the)\s+(policy|rules|instructions)`),
	regexp.MustCompile(`(?i)<\s*/?\s*system\s*>`),
}

// SanitizePrompt wraps suspicious spans of the submitted prompt in
// <untrusted_content> tags and reports whether anything matched. The
// prompt is never blocked.
func SanitizePrompt(prompt string) (string, bool) {
	flagged := false
	out := prompt
	for _, re := range injectionPatterns {
		out = re.ReplaceAllStringFunc(out, func(match string) string {
			flagged = true
			if strings.HasPrefix(match, "<untrusted_content>") {
				return match
			}
			return "<untrusted_content>" + match + "</untrusted_content>"
		})
	}
	if flagged {
		logger.Warn().Msg("prompt contains injection-like phrasing, wrapped in untrusted tags")
	}
	return out, flagged
}
