package process

import "strings"

const redactedValue = "<redacted>"

var sensitiveArgMarkers = []string{
	"token",
	"password",
	"passwd",
	"secret",
	"api-key",
	"apikey",
	"auth",
	"bearer",
}

// commandLine renders path and args for spans and logs with credential-like
// argument values masked.
func commandLine(path string, args []string) string {
	parts := append([]string{strings.TrimSpace(path)}, redactArgs(args)...)
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return strings.Join(out, " ")
}

// redactArgs masks "--key=value" values and the argument following a bare
// "--key" when key looks like a credential.
func redactArgs(args []string) []string {
	redacted := make([]string, 0, len(args))
	maskNext := false
	for _, arg := range args {
		if maskNext {
			redacted = append(redacted, redactedValue)
			maskNext = false
			continue
		}

		trimmed := strings.TrimSpace(arg)
		if key, _, ok := strings.Cut(trimmed, "="); ok {
			if isSensitiveArg(key) {
				redacted = append(redacted, key+"="+redactedValue)
				continue
			}
			redacted = append(redacted, trimmed)
			continue
		}
		if strings.HasPrefix(trimmed, "-") && isSensitiveArg(trimmed) {
			maskNext = true
		}
		redacted = append(redacted, trimmed)
	}
	return redacted
}

func isSensitiveArg(value string) bool {
	value = strings.ToLower(value)
	for _, marker := range sensitiveArgMarkers {
		if strings.Contains(value, marker) {
			return true
		}
	}
	return false
}
