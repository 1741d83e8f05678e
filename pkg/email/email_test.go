package email

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDeriveNameFromEmail(t *testing.T) {
	tests := []struct {
		email string
		first string
		last  string
	}{
		{"riley.chen@example.com", "Riley", "Chen"},
		{"morgan_hale@example.com", "Morgan", "Hale"},
		{"svc-billing.robot@example.com", "Svc", "Robot"},
		{"sam@example.com", "Sam", "User"},
		{"no-at-sign", "No", "Sign"},
		{"", "User", "User"},
	}
	for _, tc := range tests {
		t.Run(tc.email, func(t *testing.T) {
			first, last := DeriveNameFromEmail(tc.email)
			assert.Equal(t, tc.first, first)
			assert.Equal(t, tc.last, last)
		})
	}
}
