package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// UserRole represents the available roles for the RBAC system.
type UserRole string

const (
	RoleAdmin             UserRole = "ADMIN"
	RoleComplianceOfficer UserRole = "COMPLIANCE_OFFICER"
	RoleFleetManager      UserRole = "FLEET_MANAGER"
	RoleDriver            UserRole = "DRIVER"
	RoleSystem            UserRole = "SYSTEM"
)

// JWTClaims represents the payload of access tokens minted by the identity provider.
type JWTClaims struct {
	UserID         string   `json:"user_id"`
	OrganizationID string   `json:"organization_id"`
	Role           UserRole `json:"role"`
	jwt.RegisteredClaims
}

// Scope identifies the tenant and actor every operation runs on behalf of.
type Scope struct {
	OrganizationID string
	ActorID        string
	Role           UserRole
}

// ScopeFromClaims derives the operation scope from verified token claims.
func ScopeFromClaims(claims *JWTClaims) Scope {
	if claims == nil {
		return Scope{}
	}
	return Scope{OrganizationID: claims.OrganizationID, ActorID: claims.UserID, Role: claims.Role}
}

// SystemScope is used by batch jobs acting on a single organization.
func SystemScope(organizationID string) Scope {
	return Scope{OrganizationID: organizationID, ActorID: "system", Role: RoleSystem}
}
