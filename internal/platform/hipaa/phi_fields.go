package hipaa

import "strings"

// phiResources are the backend path prefixes whose responses carry
// Protected Health Information about an identifiable patient.
var phiResources = map[string]bool{
	"patient":          true,
	"provider":         true,
	"caregiver":        true,
	"healthcare":       true,
	"telemedicine":     true,
	"hipaa":            true,
	"emergency-access": true,
	"consent":          true,
}

// ResourceOf returns the first segment of a backend path, e.g.
// "patient/records/12/" -> "patient".
func ResourceOf(path string) string {
	path = strings.TrimLeft(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}

// IsPHIPath reports whether path addresses a PHI-bearing resource.
func IsPHIPath(path string) bool {
	return phiResources[ResourceOf(path)]
}

// SensitiveParams are query parameter names whose values are never written
// to logs or error reports. Keys are lower case.
var SensitiveParams = map[string]bool{
	"token":         true,
	"refresh_token": true,
	"code":          true,
	"password":      true,
	"email":         true,
	"ssn":           true,
	"dob":           true,
	"secret":        true,
}

// IsSensitiveParam reports whether the query parameter name must be redacted.
func IsSensitiveParam(name string) bool {
	return SensitiveParams[strings.ToLower(name)]
}
