// Package endpoints is the registry of backend URL templates and feature
// flags. Templates are relative to NEXT_PUBLIC_API_URL and may contain
// {name} placeholders that Resolve fills in.
package endpoints

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"

	"github.com/goccy/go-yaml"
)

// Endpoint keys used across the server.
const (
	AuthLogin           = "auth.login"
	AuthVerifyTwoFactor = "auth.verify_2fa"
	AuthLogout          = "auth.logout"
	AuthRefresh         = "auth.refresh"
	AuthPasswordReset   = "auth.password_reset"
	AuthMe              = "auth.me"

	TwoFactorSetup   = "2fa.setup"
	TwoFactorConfirm = "2fa.confirm"
	TwoFactorDisable = "2fa.disable"

	Profile               = "users.profile"
	ProfileAvatar         = "users.profile_avatar"
	NotificationSettings  = "users.notification_settings"
	EmergencyAccessList   = "compliance.emergency_access"
	EmergencyAccessDetail = "compliance.emergency_access_detail"
	EmergencyAccessReview = "compliance.emergency_access_review"

	PatientAppointments = "patient.appointments"
	PatientMedications  = "patient.medications"
	PatientLabResults   = "patient.lab_results"
	PatientVitals       = "patient.vitals"

	ProviderPatients     = "provider.patients"
	ProviderAppointments = "provider.appointments"
	ProviderPending      = "provider.pending_reviews"

	ResearcherStudies  = "researcher.studies"
	ResearcherCohorts  = "researcher.cohorts"
	PharmcoTrials      = "pharmco.trials"
	PharmcoReports     = "pharmco.reports"
	CaregiverPatients  = "caregiver.patients"
	CaregiverAlerts    = "caregiver.alerts"
	ComplianceAudit    = "compliance.audit_logs"
	ComplianceReports  = "compliance.reports"
	AdminUsers         = "admin.users"
	AdminSystemStats   = "admin.system_stats"
	ApprovalsPending   = "approvals.pending"
	AdminAuditSummary  = "admin.audit_summary"
	ConsentStatus      = "consent.status"
	Notifications      = "users.notifications"
)

// Feature flag names.
const (
	FeatureTelemedicine    = "telemedicine"
	FeatureWearables       = "wearables"
	FeatureResearchPortal  = "research_portal"
	FeatureEmergencyAccess = "emergency_access"
	FeatureTwoFactor       = "two_factor"
)

// Registry maps endpoint keys to path templates and carries feature flags.
// It is built once at startup and read-only afterwards.
type Registry struct {
	templates map[string]string
	features  map[string]bool
}

func defaultTemplates() map[string]string {
	return map[string]string{
		AuthLogin:           "users/auth/login/",
		AuthVerifyTwoFactor: "users/auth/verify-2fa/",
		AuthLogout:          "users/auth/logout/",
		AuthRefresh:         "users/auth/refresh-session/",
		AuthPasswordReset:   "users/auth/password-reset/",
		AuthMe:              "users/me/",

		TwoFactorSetup:   "users/2fa/setup/",
		TwoFactorConfirm: "users/2fa/confirm/",
		TwoFactorDisable: "users/2fa/disable/",

		Profile:               "users/profile/",
		ProfileAvatar:         "users/profile/avatar/",
		NotificationSettings:  "users/notification-settings/",
		Notifications:         "users/notifications/",
		EmergencyAccessList:   "emergency-access/requests/",
		EmergencyAccessDetail: "emergency-access/requests/{id}/",
		EmergencyAccessReview: "emergency-access/requests/{id}/review/",

		PatientAppointments: "telemedicine/appointments/",
		PatientMedications:  "healthcare/medications/",
		PatientLabResults:   "healthcare/lab-results/",
		PatientVitals:       "healthcare/vitals/",

		ProviderPatients:     "provider/patients/",
		ProviderAppointments: "telemedicine/appointments/provider/",
		ProviderPending:      "provider/pending-reviews/",

		ResearcherStudies: "researcher/studies/",
		ResearcherCohorts: "researcher/cohorts/",
		PharmcoTrials:     "pharmco/trials/",
		PharmcoReports:    "pharmco/reports/",
		CaregiverPatients: "caregiver/patients/",
		CaregiverAlerts:   "caregiver/alerts/",
		ComplianceAudit:   "compliance/audit-logs/",
		ComplianceReports: "compliance/reports/",
		AdminUsers:        "admin/users/",
		AdminSystemStats:  "admin/system-stats/",
		AdminAuditSummary: "admin/audit-summary/",
		ApprovalsPending:  "approvals/pending/",
		ConsentStatus:     "consent/status/",
	}
}

func defaultFeatures() map[string]bool {
	return map[string]bool{
		FeatureTelemedicine:    true,
		FeatureWearables:       false,
		FeatureResearchPortal:  true,
		FeatureEmergencyAccess: true,
		FeatureTwoFactor:       true,
	}
}

// Default returns the built-in registry.
func Default() *Registry {
	return &Registry{templates: defaultTemplates(), features: defaultFeatures()}
}

// fileFormat is the YAML shape of an ENDPOINTS_FILE override.
type fileFormat struct {
	Endpoints map[string]string `yaml:"endpoints"`
	Features  map[string]bool   `yaml:"features"`
}

// Load returns the default registry with overrides from a YAML file applied.
// An empty path returns Default().
func Load(path string) (*Registry, error) {
	r := Default()
	if path == "" {
		return r, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}
	if err := r.apply(data); err != nil {
		return nil, fmt.Errorf("parse endpoints file %s: %w", path, err)
	}
	return r, nil
}

func (r *Registry) apply(data []byte) error {
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return err
	}
	for k, tmpl := range f.Endpoints {
		tmpl = strings.TrimLeft(strings.TrimSpace(tmpl), "/")
		if tmpl == "" {
			return fmt.Errorf("endpoint %q has an empty template", k)
		}
		r.templates[k] = tmpl
	}
	for k, on := range f.Features {
		r.features[k] = on
	}
	return nil
}

// Resolve fills the template registered under key with params. Values are
// path-escaped. Every placeholder must be supplied.
func (r *Registry) Resolve(key string, params map[string]string) (string, error) {
	tmpl, ok := r.templates[key]
	if !ok {
		return "", fmt.Errorf("unknown endpoint %q", key)
	}
	out := tmpl
	for name, val := range params {
		out = strings.ReplaceAll(out, "{"+name+"}", url.PathEscape(val))
	}
	if i := strings.IndexByte(out, '{'); i >= 0 {
		j := strings.IndexByte(out[i:], '}')
		if j > 0 {
			return "", fmt.Errorf("endpoint %q: missing parameter %s", key, out[i+1:i+j])
		}
	}
	return out, nil
}

// MustResolve is Resolve for keys without placeholders. It panics on an
// unknown key, which is a programming error.
func (r *Registry) MustResolve(key string) string {
	p, err := r.Resolve(key, nil)
	if err != nil {
		panic(err)
	}
	return p
}

// Enabled reports whether a feature flag is on. Unknown flags are off.
func (r *Registry) Enabled(feature string) bool {
	return r.features[feature]
}

// Keys returns all endpoint keys sorted.
func (r *Registry) Keys() []string {
	keys := make([]string, 0, len(r.templates))
	for k := range r.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Template returns the raw template for key.
func (r *Registry) Template(key string) (string, bool) {
	t, ok := r.templates[key]
	return t, ok
}

// Features returns a copy of the feature flags.
func (r *Registry) Features() map[string]bool {
	out := make(map[string]bool, len(r.features))
	for k, v := range r.features {
		out[k] = v
	}
	return out
}
