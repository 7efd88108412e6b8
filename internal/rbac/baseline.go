package rbac

import "authgrid.org/internal/entity"

// BaselineActions is the default permission catalog ensured at startup.
// Overridable through configuration.
func BaselineActions() []string {
	return []string{
		"document:upload",
		"document:verify",
		"document:download",
		"document:archive",
		"property:create",
		"property:view",
		"property:update",
		"property:approve",
		"property:tokenize",
		"token:view",
		"token:trade",
		"token:transfer",
		"token:mint",
		"user:onboard",
		"user:approve",
		"user:manage",
	}
}

// RoleSeed describes one system role created idempotently at startup.
type RoleSeed struct {
	Name        string
	Description string
	ScopeTypes  []entity.Type
	Permissions []string
}

// SystemRoles is the seeded role catalog.
func SystemRoles() []RoleSeed {
	return []RoleSeed{
		{
			Name:        "agent",
			Description: "Onboarding agent: manages users, documents and property lifecycle.",
			ScopeTypes:  []entity.Type{entity.TypeAgent, entity.TypeIssuer},
			Permissions: []string{
				"document:upload",
				"document:verify",
				"document:download",
				"document:archive",
				"property:create",
				"property:view",
				"property:update",
				"property:approve",
				"property:tokenize",
				"token:view",
				"user:onboard",
				"user:approve",
				"user:manage",
			},
		},
		{
			Name:        "property_owner",
			Description: "Property owner: manages listed properties and their documents.",
			Permissions: []string{
				"document:upload",
				"document:download",
				"property:create",
				"property:view",
				"property:update",
				"token:view",
			},
		},
		{
			Name:        "investor_pending",
			Description: "Investor awaiting approval: browse and submit documents.",
			ScopeTypes:  []entity.Type{entity.TypeInvestor},
			Permissions: []string{
				"document:upload",
				"document:download",
				"property:view",
				"token:view",
			},
		},
		{
			Name:        "investor_active",
			Description: "Approved investor: browsing plus token trading.",
			ScopeTypes:  []entity.Type{entity.TypeInvestor},
			Permissions: []string{
				"document:upload",
				"document:download",
				"property:view",
				"token:view",
				"token:trade",
			},
		},
	}
}
