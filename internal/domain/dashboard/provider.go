package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/careportal/portal/internal/platform/apiclient"
	"github.com/careportal/portal/internal/platform/auth"
	"github.com/careportal/portal/internal/platform/endpoints"
)

// DashboardDataProvider loads the dashboard of one role.
type DashboardDataProvider interface {
	Role() auth.Role
	Load(ctx context.Context, client *apiclient.Client, user *auth.User) (*Dashboard, error)
}

// widgetProvider is a DashboardDataProvider made of independent widgets
// fetched in one batch.
type widgetProvider struct {
	role    auth.Role
	title   string
	widgets []Widget
	reg     *endpoints.Registry
}

func (p *widgetProvider) Role() auth.Role { return p.role }

// Load fetches every enabled widget concurrently. A failing widget is
// reported in Errors; only an expired session fails the whole dashboard.
func (p *widgetProvider) Load(ctx context.Context, client *apiclient.Client, user *auth.User) (*Dashboard, error) {
	d := &Dashboard{
		Role:        p.role,
		Title:       p.title,
		Widgets:     map[string]json.RawMessage{},
		Errors:      map[string]string{},
		GeneratedAt: time.Now().UTC(),
	}
	if user != nil {
		d.User = UserSummary{ID: user.ID, FullName: user.FullName(), Email: user.Email}
	}

	var (
		names []string
		calls []apiclient.Call
	)
	for _, w := range p.widgets {
		if w.Feature != "" && !p.reg.Enabled(w.Feature) {
			continue
		}
		path, err := p.reg.Resolve(w.Endpoint, nil)
		if err != nil {
			d.Errors[w.Name] = "widget is not configured"
			continue
		}
		call := apiclient.Call{Method: http.MethodGet, Path: path}
		if len(w.Params) > 0 {
			q := url.Values{}
			for k, v := range w.Params {
				q.Set(k, v)
			}
			call.Options = append(call.Options, apiclient.WithQuery(q))
		}
		names = append(names, w.Name)
		calls = append(calls, call)
	}

	for i, res := range client.Batch(ctx, calls) {
		name := names[i]
		switch {
		case errors.Is(res.Err, apiclient.ErrSessionExpired):
			return nil, res.Err
		case res.Err != nil:
			d.Errors[name] = "temporarily unavailable"
		case !res.Response.OK():
			d.Errors[name] = apiclient.ExtractMessage(res.Response.Body, http.StatusText(res.Response.StatusCode))
		case !json.Valid(res.Response.Body):
			d.Errors[name] = "unexpected response"
		default:
			d.Widgets[name] = json.RawMessage(res.Response.Body)
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if len(d.Errors) == 0 {
		d.Errors = nil
	}
	return d, nil
}

func recent(n string) map[string]string {
	return map[string]string{"page_size": n}
}

// DefaultProviders returns one provider per role dashboard.
func DefaultProviders(reg *endpoints.Registry) []DashboardDataProvider {
	return []DashboardDataProvider{
		&widgetProvider{role: auth.RolePatient, title: "My Health", reg: reg, widgets: []Widget{
			{Name: "appointments", Endpoint: endpoints.PatientAppointments, Params: recent("5"), Feature: endpoints.FeatureTelemedicine},
			{Name: "medications", Endpoint: endpoints.PatientMedications},
			{Name: "lab_results", Endpoint: endpoints.PatientLabResults, Params: recent("5")},
			{Name: "vitals", Endpoint: endpoints.PatientVitals, Params: recent("10")},
			{Name: "consent", Endpoint: endpoints.ConsentStatus},
			{Name: "notifications", Endpoint: endpoints.Notifications, Params: recent("5")},
		}},
		&widgetProvider{role: auth.RoleProvider, title: "Provider Dashboard", reg: reg, widgets: []Widget{
			{Name: "patients", Endpoint: endpoints.ProviderPatients, Params: recent("10")},
			{Name: "appointments", Endpoint: endpoints.ProviderAppointments, Params: recent("10"), Feature: endpoints.FeatureTelemedicine},
			{Name: "pending_reviews", Endpoint: endpoints.ProviderPending},
			{Name: "notifications", Endpoint: endpoints.Notifications, Params: recent("5")},
		}},
		&widgetProvider{role: auth.RoleResearcher, title: "Research Dashboard", reg: reg, widgets: []Widget{
			{Name: "studies", Endpoint: endpoints.ResearcherStudies, Feature: endpoints.FeatureResearchPortal},
			{Name: "cohorts", Endpoint: endpoints.ResearcherCohorts, Feature: endpoints.FeatureResearchPortal},
		}},
		&widgetProvider{role: auth.RolePharmco, title: "Pharmaceutical Dashboard", reg: reg, widgets: []Widget{
			{Name: "trials", Endpoint: endpoints.PharmcoTrials},
			{Name: "reports", Endpoint: endpoints.PharmcoReports, Params: recent("10")},
		}},
		&widgetProvider{role: auth.RoleCaregiver, title: "Caregiver Dashboard", reg: reg, widgets: []Widget{
			{Name: "patients", Endpoint: endpoints.CaregiverPatients},
			{Name: "alerts", Endpoint: endpoints.CaregiverAlerts, Params: recent("10")},
			{Name: "notifications", Endpoint: endpoints.Notifications, Params: recent("5")},
		}},
		&widgetProvider{role: auth.RoleCompliance, title: "Compliance Dashboard", reg: reg, widgets: []Widget{
			{Name: "audit_logs", Endpoint: endpoints.ComplianceAudit, Params: recent("20")},
			{Name: "emergency_access", Endpoint: endpoints.EmergencyAccessList, Params: map[string]string{"status": "pending"}, Feature: endpoints.FeatureEmergencyAccess},
			{Name: "reports", Endpoint: endpoints.ComplianceReports},
		}},
		&widgetProvider{role: auth.RoleAdmin, title: "Administration", reg: reg, widgets: []Widget{
			{Name: "users", Endpoint: endpoints.AdminUsers, Params: recent("10")},
			{Name: "system_stats", Endpoint: endpoints.AdminSystemStats},
			{Name: "approvals", Endpoint: endpoints.ApprovalsPending},
			{Name: "audit_summary", Endpoint: endpoints.AdminAuditSummary},
		}},
	}
}
