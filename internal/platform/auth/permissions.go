package auth

// PermissionSet is the read-only capability projection of a role. It is
// recomputed from the user on every request and never stored.
type PermissionSet struct {
	HasAdminAccess           bool `json:"has_admin_access"`
	HasSuperadminAccess      bool `json:"has_superadmin_access"`
	HasProviderAccess        bool `json:"has_provider_access"`
	HasPatientDataAccess     bool `json:"has_patient_data_access"`
	CanViewResearchData      bool `json:"can_view_research_data"`
	HasPharmcoAccess         bool `json:"has_pharmco_access"`
	HasCaregiverAccess       bool `json:"has_caregiver_access"`
	HasAuditAccess           bool `json:"has_audit_access"`
	CanManageUsers           bool `json:"can_manage_users"`
	CanReviewEmergencyAccess bool `json:"can_review_emergency_access"`
	IsPatient                bool `json:"is_patient"`
}

// PermissionsFor returns the capability flags granted to role. Unknown roles
// get an empty set.
func PermissionsFor(role Role) PermissionSet {
	switch role {
	case RolePatient:
		return PermissionSet{HasPatientDataAccess: true, IsPatient: true}
	case RoleProvider:
		return PermissionSet{HasProviderAccess: true, HasPatientDataAccess: true}
	case RoleResearcher:
		return PermissionSet{CanViewResearchData: true}
	case RolePharmco:
		return PermissionSet{HasPharmcoAccess: true, CanViewResearchData: true}
	case RoleCaregiver:
		return PermissionSet{HasCaregiverAccess: true, HasPatientDataAccess: true}
	case RoleCompliance:
		return PermissionSet{HasAuditAccess: true, CanReviewEmergencyAccess: true}
	case RoleAdmin:
		return PermissionSet{
			HasAdminAccess:           true,
			HasAuditAccess:           true,
			CanManageUsers:           true,
			CanReviewEmergencyAccess: true,
		}
	case RoleSuperadmin:
		return PermissionSet{
			HasAdminAccess:           true,
			HasSuperadminAccess:      true,
			HasProviderAccess:        true,
			HasPatientDataAccess:     true,
			CanViewResearchData:      true,
			HasPharmcoAccess:         true,
			HasCaregiverAccess:       true,
			HasAuditAccess:           true,
			CanManageUsers:           true,
			CanReviewEmergencyAccess: true,
		}
	}
	return PermissionSet{}
}

// HasClinicalAccess reports whether any clinical capability is present.
func (p PermissionSet) HasClinicalAccess() bool {
	return p.HasProviderAccess || p.HasPatientDataAccess || p.HasCaregiverAccess || p.CanViewResearchData
}

// AuditOnly is true when audit access is the only clinical-adjacent grant.
func (p PermissionSet) AuditOnly() bool {
	return p.HasAuditAccess && !p.HasClinicalAccess() && !p.HasAdminAccess
}
