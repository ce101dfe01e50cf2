package pipeline

import (
	"regexp"

	"zora/internal/audit"
	"zora/internal/event"
	"zora/pkg/logger"
)

// Severity ranks a leak pattern.
type Severity string

// Severities.
const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// leakPattern is one named credential detector.
type leakPattern struct {
	Name     string
	Severity Severity
	Pattern  *regexp.Regexp
}

var leakPatterns = []leakPattern{
	{
		Name:     "EnvSecret",
		Severity: SeverityHigh,
		Pattern:  regexp.MustCompile(`(?i)(API_KEY|SECRET|TOKEN|PASSWORD|CREDENTIAL|PRIVATE[._]KEY)\s*[=:]\s*['"]?(\S{8,})`),
	},
	{
		Name:     "BearerToken",
		Severity: SeverityHigh,
		Pattern:  regexp.MustCompile(`(?i)Bearer\s+([A-Za-z0-9\-._~+/]{20,}=*)`),
	},
	{
		Name:     "OpenAIKey",
		Severity: SeverityHigh,
		Pattern:  regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
	},
	{
		Name:     "GitHubPAT",
		Severity: SeverityHigh,
		Pattern:  regexp.MustCompile(`gh[ps]_[A-Za-z0-9]{36}`),
	},
	{
		Name:     "AWSAccessKey",
		Severity: SeverityHigh,
		Pattern:  regexp.MustCompile(`AKIA[0-9A-Z]{16}`),
	},
	{
		Name:     "PrivateKeyBlock",
		Severity: SeverityHigh,
		Pattern:  regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----`),
	},
	{
		Name:     "GenericHex",
		Severity: SeverityMedium,
		Pattern:  regexp.MustCompile(`(?i)(secret|key|token)['":\s]+[0-9a-f]{32,}`),
	},
}

// LeakScanner inspects tool payloads for credential-shaped content.
// Detection is advisory: matches are logged and audited but payloads are
// never mutated, since redaction would corrupt tool results mid-task.
type LeakScanner struct {
	auditor *audit.Logger
}

// NewLeakScanner builds a scanner. auditor may be nil.
func NewLeakScanner(auditor *audit.Logger) *LeakScanner {
	return &LeakScanner{auditor: auditor}
}

// ScanEvent checks tool_call arguments and tool_result content.
func (s *LeakScanner) ScanEvent(jobID string, e event.Event) {
	switch e.Kind {
	case event.KindToolCall:
		if e.ToolCall != nil {
			s.scan(jobID, e.ToolCall.Tool, "tool_call", string(e.ToolCall.Arguments))
		}
	case event.KindToolResult:
		if e.ToolResult != nil {
			s.scan(jobID, e.ToolResult.Tool, "tool_result", e.ToolResult.Content)
		}
	}
}

func (s *LeakScanner) scan(jobID, tool, where, text string) {
	for _, p := range leakPatterns {
		if !p.Pattern.MatchString(text) {
			continue
		}
		if p.Severity == SeverityHigh {
			logger.Warn().
				Str("job_id", jobID).
				Str("tool", tool).
				Str("pattern", p.Name).
				Str("location", where).
				Msg("possible credential in tool payload")
		}
		if s.auditor != nil {
			s.auditor.AppendDetail("leak_detected", jobID, tool, p.Name, map[string]any{
				"severity": string(p.Severity),
				"location": where,
			})
		}
	}
}
