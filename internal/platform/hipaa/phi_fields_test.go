package hipaa

import "testing"

func TestIsPHIPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"patient/records/1/", true},
		{"/emergency-access/requests/", true},
		{"consent/status/", true},
		{"admin/users/", false},
		{"users/profile/", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPHIPath(tt.path); got != tt.want {
			t.Errorf("IsPHIPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestResourceOf(t *testing.T) {
	if got := ResourceOf("/researcher/studies/4/"); got != "researcher" {
		t.Errorf("got %q", got)
	}
	if got := ResourceOf("auth"); got != "auth" {
		t.Errorf("got %q", got)
	}
}

func TestIsSensitiveParam(t *testing.T) {
	for _, name := range []string{"token", "Refresh_Token", "SSN", "dob"} {
		if !IsSensitiveParam(name) {
			t.Errorf("%s should be sensitive", name)
		}
	}
	if IsSensitiveParam("page") {
		t.Error("page is not sensitive")
	}
}
