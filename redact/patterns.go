package redact

import (
	"regexp"
	"strings"
)

// buildPatterns compiles the fixed secret shapes plus an assignment pattern
// derived from the sensitive key set. Order matters: multi-line and
// structured shapes run before the generic assignment pattern.
func buildPatterns(keys []string) []pattern {
	var alternation []string
	for _, k := range keys {
		parts := strings.Split(k, "_")
		for i, p := range parts {
			parts[i] = regexp.QuoteMeta(p)
		}
		alternation = append(alternation, strings.Join(parts, `[_\-. ]?`))
	}
	keyAlt := strings.Join(alternation, "|")

	return []pattern{
		{
			name: "pem_private_key",
			re:   regexp.MustCompile(`(?s)()-----BEGIN [A-Z0-9 ]*PRIVATE KEY-----.*?-----END [A-Z0-9 ]*PRIVATE KEY-----`),
		},
		{
			name: "url_credentials",
			re:   regexp.MustCompile(`()\b[A-Za-z][A-Za-z0-9+.\-]*://[^\s:/@]+:[^\s@]*@[^\s/]+`),
		},
		{
			name: "bearer",
			re:   regexp.MustCompile(`(?i)()\bbearer\s+[A-Za-z0-9._~+/=\-]+`),
		},
		{
			name: "jwt",
			re:   regexp.MustCompile(`()\beyJ[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+\.[A-Za-z0-9_\-]+`),
		},
		{
			name: "provider_token",
			re:   regexp.MustCompile(`()\b(?:gh[pousr]_[A-Za-z0-9]{20,}|AKIA[0-9A-Z]{16}|xox[abprs]-[A-Za-z0-9\-]{10,}|sk-[A-Za-z0-9]{20,})`),
		},
		{
			name: "cli_flag",
			re:   regexp.MustCompile(`(?i)(^|\s)--?(?:password|passwd|pass|passphrase|secret|token|api[_\-]?key|p)(?:=|\s+)\S+`),
		},
		{
			name: "assignment",
			re:   regexp.MustCompile(`(?i)(^|[^A-Za-z0-9_])[A-Za-z0-9_\-]*(?:` + keyAlt + `)[A-Za-z0-9_\-]*["']?\s*[=:]\s*(?:"[^"]*"|'[^']*'|\S+)`),
		},
		{
			name: "device_secret_line",
			re:   regexp.MustCompile(`(?im)(^|\s)(?:enable\s+(?:secret|password)|username\s+\S+(?:\s+privilege\s+\d+)?\s+(?:secret|password)|snmp-server\s+community)(?:\s+\d)?\s+\S+`),
		},
	}
}
