package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// RequireRole returns middleware that checks if the user has at least one of
// the specified roles. Superadmins pass every role check.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userRoles := RolesFromContext(c.Request().Context())
			for _, has := range userRoles {
				if has == string(RoleSuperadmin) {
					return next(c)
				}
				for _, required := range roles {
					if has == required {
						return next(c)
					}
				}
			}
			return echo.NewHTTPError(http.StatusForbidden,
				fmt.Sprintf("required role: %s", strings.Join(roles, " or ")))
		}
	}
}

// UserLoader resolves the current user when the request carries a session
// but no cached user yet.
type UserLoader interface {
	LoadUser(c echo.Context) (*User, error)
}

// Guard is a declarative capability gate. The wrapped handler runs only when
// Allow returns true for the current user's permission set.
type Guard struct {
	Name     string
	Title    string
	Allow    func(PermissionSet) bool
	Fallback echo.HandlerFunc
}

var (
	// AuthenticatedGuard admits any signed-in user.
	AuthenticatedGuard = Guard{
		Name:  "account",
		Allow: func(PermissionSet) bool { return true },
	}
	AdminGuard = Guard{
		Name:  "admin",
		Title: "Administrative Access Required",
		Allow: func(p PermissionSet) bool { return p.HasAdminAccess },
	}
	PatientGuard = Guard{
		Name:  "patient",
		Allow: func(p PermissionSet) bool { return p.IsPatient || p.HasSuperadminAccess },
	}
	ProviderGuard = Guard{
		Name:  "provider",
		Allow: func(p PermissionSet) bool { return p.HasProviderAccess },
	}
	ComplianceGuard = Guard{
		Name:  "compliance",
		Allow: func(p PermissionSet) bool { return p.HasAuditAccess },
	}
	ResearchGuard = Guard{
		Name:  "research",
		Allow: func(p PermissionSet) bool { return p.CanViewResearchData },
	}
	CaregiverGuard = Guard{
		Name:  "caregiver",
		Allow: func(p PermissionSet) bool { return p.HasCaregiverAccess },
	}
	ClinicalAccessGuard = Guard{
		Name:  "clinical",
		Allow: func(p PermissionSet) bool { return p.HasClinicalAccess() && !p.AuditOnly() },
	}
)

// WithFallback returns a copy of g that renders h instead of the default
// access-denied panel.
func (g Guard) WithFallback(h echo.HandlerFunc) Guard {
	g.Fallback = h
	return g
}

// DisplayTitle is the heading of the access-denied panel.
func (g Guard) DisplayTitle() string {
	if g.Title != "" {
		return g.Title
	}
	return cases.Title(language.English).String(g.Name) + " Access Required"
}

// DeniedAction is the single button offered on the access-denied panel.
type DeniedAction struct {
	Label string `json:"label"`
	Href  string `json:"href"`
}

// DeniedPanel is the body of the default 403 response.
type DeniedPanel struct {
	Code    string       `json:"code"`
	Guard   string       `json:"guard"`
	Title   string       `json:"title"`
	Message string       `json:"message"`
	Action  DeniedAction `json:"action"`
}

func (g Guard) panel() DeniedPanel {
	return DeniedPanel{
		Code:    "access_denied",
		Guard:   g.Name,
		Title:   g.DisplayTitle(),
		Message: "You do not have permission to view this page.",
		Action:  DeniedAction{Label: "Return to Dashboard", Href: "/dashboard"},
	}
}

// Require returns middleware enforcing g. The permission set is recomputed
// from the user on every request; no grant or deny is cached. loader may be
// nil, in which case only a user already on the context is considered.
func Require(g Guard, loader UserLoader) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			user := UserFromContext(c.Request().Context())
			if user == nil && loader != nil {
				u, err := loader.LoadUser(c)
				if err != nil {
					return err
				}
				if u != nil {
					user = u
					c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), u)))
				}
			}
			if user == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
			}

			if g.Allow != nil && g.Allow(user.Permissions()) {
				return next(c)
			}

			if g.Fallback != nil {
				return g.Fallback(c)
			}
			return c.JSON(http.StatusForbidden, map[string]DeniedPanel{"error": g.panel()})
		}
	}
}
