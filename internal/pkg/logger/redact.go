package logger

import (
	"regexp"
	"strings"
)

// Destination addresses are recipient phone numbers; anything that looks like
// one gets masked before it reaches the log stream.
var phoneRegex = regexp.MustCompile(`\+?[0-9][0-9 .\-()]{6,18}[0-9]`)

func redactPIIValue(key, val string) string {
	key = strings.ToLower(key)
	if strings.Contains(key, "address") || strings.Contains(key, "phone") || strings.Contains(key, "destination") {
		return RedactAddress(val)
	}
	// Redact any embedded phone-shaped values in generic fields
	return phoneRegex.ReplaceAllStringFunc(val, RedactAddress)
}

// RedactAddress masks a destination address for safe logging, keeping the
// country-code prefix and the last two digits.
// "+14155550123" → "+14*******23"
func RedactAddress(addr string) string {
	digits := 0
	for _, r := range addr {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < 5 {
		return "***"
	}
	keepHead := 3
	if strings.HasPrefix(addr, "+") {
		keepHead = 4
	}
	if keepHead+2 >= len(addr) {
		return addr[:1] + "***"
	}
	return addr[:keepHead] + strings.Repeat("*", len(addr)-keepHead-2) + addr[len(addr)-2:]
}
