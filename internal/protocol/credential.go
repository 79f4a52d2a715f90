package protocol

import "strings"

// maxCredentialDigits is a 10-byte (triple-size) ISO 14443 UID.
const maxCredentialDigits = 20

// NormalizeCredential uppercases raw and drops every non-hex character.
//
//	NormalizeCredential("a1:b2:c3:d4") // "A1B2C3D4"
func NormalizeCredential(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'F') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidCredential reports whether c is a normalised, plausible UID:
// a non-empty even number of uppercase hex digits, at most 20.
func ValidCredential(c string) bool {
	if c == "" || len(c)%2 != 0 || len(c) > maxCredentialDigits {
		return false
	}
	return NormalizeCredential(c) == c
}

// ParseCredential normalises raw and validates the result.
func ParseCredential(raw string) (string, error) {
	c := NormalizeCredential(raw)
	if !ValidCredential(c) {
		return "", ErrInvalidCredential
	}
	return c, nil
}
