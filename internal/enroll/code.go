package enroll

import "strings"

// CodeLength is the number of digits in a verification code.
const CodeLength = 6

// FilterDigits keeps the ASCII digits of raw, at most max of them.
func FilterDigits(raw string, max int) string {
	var b strings.Builder
	for _, r := range raw {
		if b.Len() >= max {
			break
		}
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCode reports whether code is exactly CodeLength digits.
func ValidCode(code string) bool {
	return len(code) == CodeLength && FilterDigits(code, CodeLength) == code
}
