package validate

import (
	"fmt"
	"net/mail"
	"strings"
)

// Form field limits shared with the browser client.
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 6
	MaxPasswordLength = 72
	MaxNameLength     = 100
	MaxEmailLength    = 254
	MaxBioLength      = 500
	MaxQueryLength    = 200
)

// Errors maps a form field to the message rendered next to it.
type Errors map[string]string

func (e Errors) add(field, msg string) {
	if msg != "" {
		if _, exists := e[field]; !exists {
			e[field] = msg
		}
	}
}

func (e Errors) Empty() bool { return len(e) == 0 }

type Registration struct {
	Name            string
	Username        string
	Email           string
	Password        string
	ConfirmPassword string
	AcceptTerms     bool
}

func ValidateRegistration(r Registration) Errors {
	errs := Errors{}
	errs.add("name", required(r.Name, "Name"))
	errs.add("name", checkLen(r.Name, MaxNameLength, "Name"))
	errs.add("username", Username(r.Username))
	errs.add("email", Email(r.Email))
	errs.add("password", Password(r.Password))
	if r.ConfirmPassword != r.Password {
		errs.add("confirmPassword", "Passwords do not match")
	}
	if !r.AcceptTerms {
		errs.add("acceptTerms", "You must accept the terms and conditions")
	}
	return errs
}

func ValidateLogin(username, password string) Errors {
	errs := Errors{}
	errs.add("username", required(username, "Username"))
	errs.add("password", required(password, "Password"))
	return errs
}

func Username(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Username is required"
	}
	if len(s) < MinUsernameLength {
		return fmt.Sprintf("Username must be at least %d characters", MinUsernameLength)
	}
	return checkLen(s, MaxUsernameLength, "Username")
}

func Email(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Email is required"
	}
	if len(s) > MaxEmailLength {
		return checkLen(s, MaxEmailLength, "Email")
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "Email is invalid"
	}
	return ""
}

func Password(s string) string {
	if s == "" {
		return "Password is required"
	}
	if len(s) < MinPasswordLength {
		return fmt.Sprintf("Password must be at least %d characters", MinPasswordLength)
	}
	return checkLen(s, MaxPasswordLength, "Password")
}

func Name(s string) string {
	if msg := required(s, "Name"); msg != "" {
		return msg
	}
	return checkLen(s, MaxNameLength, "Name")
}

func Bio(s string) string   { return checkLen(s, MaxBioLength, "Bio") }
func Query(s string) string { return checkLen(s, MaxQueryLength, "Search query") }

func required(value, field string) string {
	if strings.TrimSpace(value) == "" {
		return field + " is required"
	}
	return ""
}

func checkLen(value string, max int, field string) string {
	if len(value) > max {
		return fmt.Sprintf("%s must be %d characters or fewer", field, max)
	}
	return ""
}

// FieldLimits returns a map of field names to max lengths for the /api/limits endpoint.
func FieldLimits() map[string]int {
	return map[string]int{
		"username": MaxUsernameLength,
		"password": MaxPasswordLength,
		"name":     MaxNameLength,
		"email":    MaxEmailLength,
		"bio":      MaxBioLength,
		"query":    MaxQueryLength,
	}
}
