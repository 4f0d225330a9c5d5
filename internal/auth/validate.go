package auth

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/freddennis10/astra-app-sub001/internal/config"
)

const (
	usernameMin    = 3
	usernameMax    = 30
	fullNameMax    = 100
	passwordMaxLen = 72 // bcrypt input limit in bytes
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.]+$`)

// Validator checks registration input against the configured password policy.
type Validator struct {
	policy config.PasswordPolicy
}

func NewValidator(policy config.PasswordPolicy) *Validator {
	return &Validator{policy: policy}
}

// Registration returns every violated rule, not just the first.
func (v *Validator) Registration(in RegisterInput) []FieldError {
	var errs []FieldError
	errs = append(errs, validateUsername(in.Username)...)
	errs = append(errs, validateEmail(in.Email)...)
	errs = append(errs, v.Password("password", in.Password)...)
	if name := strings.TrimSpace(in.FullName); name == "" {
		errs = append(errs, FieldError{"full_name", "is required"})
	} else if utf8.RuneCountInString(name) > fullNameMax {
		errs = append(errs, FieldError{"full_name", fmt.Sprintf("must be at most %d characters", fullNameMax)})
	}
	return errs
}

// Password applies the strength policy to pw, reporting violations under field.
func (v *Validator) Password(field, pw string) []FieldError {
	var errs []FieldError
	if utf8.RuneCountInString(pw) < v.policy.MinLength {
		errs = append(errs, FieldError{field, fmt.Sprintf("must be at least %d characters", v.policy.MinLength)})
	}
	if len(pw) > passwordMaxLen {
		errs = append(errs, FieldError{field, fmt.Sprintf("must be at most %d bytes", passwordMaxLen)})
	}
	var upper, lower, digit, symbol bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if v.policy.RequireUpper && !upper {
		errs = append(errs, FieldError{field, "must contain an uppercase letter"})
	}
	if v.policy.RequireLower && !lower {
		errs = append(errs, FieldError{field, "must contain a lowercase letter"})
	}
	if v.policy.RequireDigit && !digit {
		errs = append(errs, FieldError{field, "must contain a digit"})
	}
	if v.policy.RequireSymbol && !symbol {
		errs = append(errs, FieldError{field, "must contain a symbol"})
	}
	return errs
}

func validateUsername(u string) []FieldError {
	var errs []FieldError
	n := utf8.RuneCountInString(u)
	if n < usernameMin || n > usernameMax {
		errs = append(errs, FieldError{"username", fmt.Sprintf("must be between %d and %d characters", usernameMin, usernameMax)})
	}
	if u != "" && !usernamePattern.MatchString(u) {
		errs = append(errs, FieldError{"username", "may only contain letters, digits, underscores and dots"})
	}
	return errs
}

func validateEmail(e string) []FieldError {
	if e == "" {
		return []FieldError{{"email", "is required"}}
	}
	addr, err := mail.ParseAddress(e)
	if err != nil || addr.Address != e || addr.Name != "" {
		return []FieldError{{"email", "must be a valid email address"}}
	}
	at := strings.LastIndexByte(e, '@')
	if !strings.Contains(e[at+1:], ".") {
		return []FieldError{{"email", "must be a valid email address"}}
	}
	return nil
}

func normalizeEmail(e string) string {
	return strings.ToLower(strings.TrimSpace(e))
}
