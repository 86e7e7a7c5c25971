package logging

import "regexp"

// Placeholder replaces any credential-shaped value found in log output.
const Placeholder = "[REDACTED]"

var (
	bearerTokenPattern = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	keyValuePattern    = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|access[_-]?token|token|secret|password|credential)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;]+)((?:"|')?)`,
	)
	standaloneSecretPattern = regexp.MustCompile(
		`(?i)(sk-[A-Za-z0-9\-]{16,}|ghp_[A-Za-z0-9]{16,}|pat_[A-Za-z0-9]{16,})`,
	)
)

// Redact scrubs credential material from a log line. The agent binary is
// handed real API keys through its environment, so anything that echoes a
// command line or env dump goes through here first.
func Redact(line string) string {
	sanitized := bearerTokenPattern.ReplaceAllString(line, "${1}"+Placeholder)
	sanitized = keyValuePattern.ReplaceAllString(sanitized, "${1}"+Placeholder+"${3}")
	sanitized = standaloneSecretPattern.ReplaceAllString(sanitized, Placeholder)
	return sanitized
}
