package auth

import "testing"

func TestValidOTP(t *testing.T) {
	tests := map[string]bool{
		"123456":  true,
		"000000":  true,
		"12345":   false,
		"1234567": false,
		"12a456":  false,
		" 123456": false,
		"":        false,
	}
	for code, want := range tests {
		if got := ValidOTP(code); got != want {
			t.Errorf("ValidOTP(%q) = %v, want %v", code, got, want)
		}
	}
}
