package embedder

import "strings"

// IsContextLengthError reports whether an embedding failure looks like the
// input exceeded the model's context window. Providers phrase this
// differently, so matching is by message.
func IsContextLengthError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"context length",
		"context window",
		"too many tokens",
		"input is too large",
		"maximum input",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
