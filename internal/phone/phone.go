// Package phone normalizes and compares the handle identifiers the
// message store uses: phone numbers in assorted formats and email
// addresses.
package phone

import "strings"

// Normalize strips formatting from a phone number, keeping digits and a
// leading plus. Email addresses are lowercased and returned as-is.
func Normalize(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return ""
	}
	if strings.ContainsRune(identifier, '@') {
		return strings.ToLower(identifier)
	}

	var b strings.Builder
	b.Grow(len(identifier))
	for i, r := range identifier {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// digits returns only the numeric characters of an identifier.
func digits(identifier string) string {
	var b strings.Builder
	b.Grow(len(identifier))
	for _, r := range identifier {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Match reports whether two handle identifiers refer to the same
// endpoint. Emails compare case-insensitively. Phone numbers compare by
// digit string, and fall back to a trailing 7 digit comparison so that
// "+15551234567" matches "555-123-4567" stored without a country code.
func Match(a, b string) bool {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	if a == "" || b == "" {
		return false
	}

	aEmail := strings.ContainsRune(a, '@')
	bEmail := strings.ContainsRune(b, '@')
	if aEmail || bEmail {
		return aEmail && bEmail && strings.EqualFold(a, b)
	}

	da, db := digits(a), digits(b)
	if da == "" || db == "" {
		return false
	}
	if da == db {
		return true
	}
	if len(da) >= 7 && len(db) >= 7 {
		return da[len(da)-7:] == db[len(db)-7:]
	}
	return false
}
