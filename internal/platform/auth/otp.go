package auth

import "regexp"

var otpPattern = regexp.MustCompile(`^[0-9]{6}$`)

// ValidOTP reports whether code is a 6-digit one-time code.
func ValidOTP(code string) bool {
	return otpPattern.MatchString(code)
}
