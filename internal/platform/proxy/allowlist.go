package proxy

import (
	"strings"

	"github.com/careportal/portal/internal/platform/auth"
)

// DefaultAllowList returns the backend resource prefixes the browser may
// reach through the proxy.
func DefaultAllowList() []string {
	return []string{
		"users/",
		"patient/",
		"provider/",
		"hipaa/",
		"emergency-access/",
		"consent/",
		"admin/",
		"compliance/",
		"researcher/",
		"pharmco/",
		"caregiver/",
		"approvals/",
		"profile/",
		"auth/",
	}
}

// Allowed reports whether target, a decoded path relative to the backend
// root, may be proxied.
func Allowed(target string, allow []string) bool {
	if target == "" || strings.Contains(target, "..") || strings.ContainsAny(target, "\\\x00") {
		return false
	}
	if strings.HasPrefix(target, "/") || strings.Contains(target, "://") {
		return false
	}
	for _, p := range allow {
		if strings.HasPrefix(target, p) {
			return true
		}
	}
	return false
}

// GuardRule gates one backend prefix behind a permission guard.
type GuardRule struct {
	Prefix string
	Guard  auth.Guard
}

// DefaultGuards maps the role areas of the backend to their guards.
func DefaultGuards() []GuardRule {
	return []GuardRule{
		{Prefix: "admin/", Guard: auth.AdminGuard},
		{Prefix: "provider/", Guard: auth.ProviderGuard},
		{Prefix: "researcher/", Guard: auth.ResearchGuard},
		{Prefix: "caregiver/", Guard: auth.CaregiverGuard},
		{Prefix: "patient/", Guard: auth.ClinicalAccessGuard},
		{Prefix: "consent/", Guard: auth.PatientGuard},
		{Prefix: "compliance/", Guard: auth.ComplianceGuard},
	}
}

// GuardFor returns the guard of the longest rule prefix matching target.
func GuardFor(target string, rules []GuardRule) (auth.Guard, bool) {
	var (
		best  auth.Guard
		found bool
		n     int
	)
	for _, r := range rules {
		if strings.HasPrefix(target, r.Prefix) && len(r.Prefix) > n {
			best, found, n = r.Guard, true, len(r.Prefix)
		}
	}
	return best, found
}
