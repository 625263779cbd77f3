package auth

import (
	"errors"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// validationErrorMessage returns a user-friendly validation error message.
func validationErrorMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, ve := range verrs {
			switch ve.Field() {
			case "Password", "NewPassword":
				switch ve.Tag() {
				case "min":
					return "Password must be at least 8 characters long"
				case "required":
					return "Password is required"
				}
			case "Email":
				switch ve.Tag() {
				case "email":
					return "Please enter a valid email address"
				case "required":
					return "Email is required"
				}
			case "Username":
				switch ve.Tag() {
				case "min":
					return "Username must be at least 3 characters"
				case "max":
					return "Username must be at most 50 characters"
				case "required":
					return "Username is required"
				}
			case "CurrentPassword":
				if ve.Tag() == "required" {
					return "Current password is required"
				}
			case "Role":
				return "Role is required"
			}
		}
	}
	return "Invalid request"
}

var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{2,49}$`)

// ValidateNewUsername validates a username for new user creation.
// Existing usernames are never re-validated at login.
func ValidateNewUsername(username string) error {
	username = strings.TrimSpace(username)

	if len(username) < 3 {
		return errors.New("Username must be at least 3 characters")
	}
	if len(username) > 50 {
		return errors.New("Username must be at most 50 characters")
	}
	if !usernameRegex.MatchString(username) {
		return errors.New("Username may contain letters, digits, dot, dash and underscore")
	}
	return nil
}
