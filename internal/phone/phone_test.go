package phone

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"formatted us number", "(555) 123-4567", "5551234567"},
		{"leading plus kept", "+1 555 123 4567", "+15551234567"},
		{"interior plus dropped", "555+1234567", "5551234567"},
		{"email lowercased", "Alice@Example.COM", "alice@example.com"},
		{"whitespace trimmed", "  +1555  ", "+1555"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.in))
		})
	}
}

func TestMatch(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{"identical digits", "5551234567", "5551234567", true},
		{"formatting ignored", "(555) 123-4567", "555.123.4567", true},
		{"country code suffix", "+15551234567", "555-123-4567", true},
		{"different numbers", "5551234567", "5559876543", false},
		{"short numbers need exact", "12345", "912345", false},
		{"emails case-insensitive", "a@b.com", "A@B.COM", true},
		{"email vs phone", "a@b.com", "5551234567", false},
		{"empty side", "", "5551234567", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Match(tt.a, tt.b))
		})
	}
}
