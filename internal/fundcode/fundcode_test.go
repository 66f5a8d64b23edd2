package fundcode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParse_Valid(t *testing.T) {
	tests := []struct {
		raw, want string
	}{
		{"161725", "161725"},
		{"000001", "000001"},
		{"  110011 ", "110011"},
		{"sh510300", "510300"},
		{"SZ159915", "159915"},
		{"of005827", "005827"},
	}

	for _, tt := range tests {
		got, err := Parse(tt.raw)
		if assert.NoError(t, err, "Parse(%q)", tt.raw) {
			assert.Equal(t, tt.want, got, "Parse(%q)", tt.raw)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	invalid := []string{
		"",
		"12345",
		"1234567",
		"ABCDEF",
		"16172a",
		"hk00700",
		"sh",
	}

	for _, raw := range invalid {
		_, err := Parse(raw)
		assert.ErrorIs(t, err, ErrInvalidCode, "Parse(%q)", raw)
	}
}
