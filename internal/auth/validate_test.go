package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/freddennis10/astra-app-sub001/internal/config"
)

func TestValidatePassword(t *testing.T) {
	v := NewValidator(config.PasswordPolicy{
		MinLength:     8,
		RequireUpper:  true,
		RequireLower:  true,
		RequireDigit:  true,
		RequireSymbol: true,
	})

	cases := []struct {
		pw   string
		want int
	}{
		{"Abcdef1!", 0},
		{"abcdef1!", 1},
		{"ABCDEF1!", 1},
		{"Abcdefg!", 1},
		{"Abcdefg1", 1},
		{"Ab1!", 1},
		{"", 5},
		{"Aa1!" + strings.Repeat("x", 70), 1},
	}
	for _, tc := range cases {
		assert.Len(t, v.Password("password", tc.pw), tc.want, "password %q", tc.pw)
	}
}

func TestValidateRegistration(t *testing.T) {
	v := NewValidator(config.PasswordPolicy{MinLength: 8})

	valid := RegisterInput{Username: "alice_01", Email: "alice@example.com", Password: "longenough", FullName: "Alice"}
	assert.Empty(t, v.Registration(valid))

	for _, username := range []string{"al", strings.Repeat("a", 31), "al ice", "al-ice", "ålice"} {
		in := valid
		in.Username = username
		assert.NotEmpty(t, v.Registration(in), username)
	}
	for _, email := range []string{"", "alice", "alice@", "Alice <alice@example.com>", "alice@localhost"} {
		in := valid
		in.Email = email
		assert.NotEmpty(t, v.Registration(in), email)
	}

	in := valid
	in.FullName = strings.Repeat("x", 101)
	assert.Len(t, v.Registration(in), 1)
}
