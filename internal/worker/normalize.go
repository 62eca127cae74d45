package worker

import (
	"fmt"
	"strings"
)

// NormalizeAddress canonicalizes a raw contact address to "+<digits>".
// Accepted input may carry spaces, dots, dashes and parentheses, a leading
// "+", or an international "00" prefix. Two raw strings that normalize to
// the same value are the same client.
func NormalizeAddress(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case ' ', '.', '-', '(', ')', '\t':
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	cleaned = strings.TrimPrefix(cleaned, "+")
	if strings.HasPrefix(cleaned, "00") {
		cleaned = cleaned[2:]
	}

	if cleaned == "" {
		return "", fmt.Errorf("empty address %q", raw)
	}
	for _, r := range cleaned {
		if r < '0' || r > '9' {
			return "", fmt.Errorf("address %q contains non-digit %q", raw, r)
		}
	}
	if len(cleaned) < 7 || len(cleaned) > 15 {
		return "", fmt.Errorf("address %q has %d digits, want 7-15", raw, len(cleaned))
	}
	return "+" + cleaned, nil
}
