package auth

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/tomehq/tome/pkg/errdefs"
	"github.com/tomehq/tome/pkg/types"
)

// Permission names one allowed action class.
type Permission string

const (
	PermFilesRead       Permission = "files:read"
	PermFilesWrite      Permission = "files:write"
	PermChatRead        Permission = "chat:read"
	PermChatWrite       Permission = "chat:write"
	PermDomainsRead     Permission = "domains:read"
	PermDomainsWrite    Permission = "domains:write"
	PermConnectorsRead  Permission = "connectors:read"
	PermConnectorsWrite Permission = "connectors:write"
	PermScrapeRun       Permission = "scrape:run"
	PermMembersManage   Permission = "members:manage"
	PermAuditRead       Permission = "audit:read"
	PermOrgAdmin        Permission = "org:admin"
)

// rolePermissions fixes the built-in permission sets. Roles are strictly
// nested: every role holds its predecessor's set plus its own grants.
var rolePermissions = map[types.Role][]Permission{
	types.RoleViewer: {
		PermFilesRead, PermChatRead, PermDomainsRead, PermConnectorsRead,
	},
	types.RoleMember: {
		PermFilesRead, PermChatRead, PermDomainsRead, PermConnectorsRead,
		PermFilesWrite, PermChatWrite,
	},
	types.RoleAdmin: {
		PermFilesRead, PermChatRead, PermDomainsRead, PermConnectorsRead,
		PermFilesWrite, PermChatWrite,
		PermDomainsWrite, PermConnectorsWrite, PermScrapeRun,
		PermMembersManage, PermAuditRead,
	},
	types.RoleOwner: {
		PermFilesRead, PermChatRead, PermDomainsRead, PermConnectorsRead,
		PermFilesWrite, PermChatWrite,
		PermDomainsWrite, PermConnectorsWrite, PermScrapeRun,
		PermMembersManage, PermAuditRead,
		PermOrgAdmin,
	},
}

// PermissionsForRole returns the fixed permission set of a built-in role.
// Unknown roles get no permissions.
func PermissionsForRole(role types.Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Has reports whether the claims carry the permission.
func (c *Claims) Has(perm Permission) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Require checks that the claims belong to orgID and carry the permission.
// A foreign org reads as not-found so resource existence never leaks across
// tenants.
func Require(claims *Claims, perm Permission, orgID uuid.UUID) error {
	if claims == nil {
		return errdefs.ErrUnauthenticated
	}
	if claims.OrgID != orgID {
		return fmt.Errorf("organization %s: %w", orgID, errdefs.ErrTenantMismatch)
	}
	if !claims.Has(perm) {
		return fmt.Errorf("%s requires %s: %w", claims.Role, perm, errdefs.ErrPermissionDenied)
	}
	return nil
}

// RequireDomain checks Require plus the domain's access mode:
//
//   - public: any org member with the permission
//   - private: admin and owner only
//   - restricted: user ids listed in the domain's allowed_users setting,
//     plus admin and owner
func RequireDomain(claims *Claims, perm Permission, domain *types.Domain) error {
	if domain == nil {
		return errdefs.ErrNotFound
	}
	if err := Require(claims, perm, domain.OrgID); err != nil {
		return err
	}

	switch domain.AccessMode {
	case types.AccessPublic, "":
		return nil
	case types.AccessPrivate:
		if claims.Role == types.RoleAdmin || claims.Role == types.RoleOwner {
			return nil
		}
		return fmt.Errorf("domain %s is private: %w", domain.Name, errdefs.ErrPermissionDenied)
	case types.AccessRestricted:
		if claims.Role == types.RoleAdmin || claims.Role == types.RoleOwner {
			return nil
		}
		if domainAllowsUser(domain, claims.UserID) {
			return nil
		}
		return fmt.Errorf("domain %s is restricted: %w", domain.Name, errdefs.ErrPermissionDenied)
	default:
		return fmt.Errorf("domain %s has unknown access mode %q: %w", domain.Name, domain.AccessMode, errdefs.ErrPermissionDenied)
	}
}

func domainAllowsUser(domain *types.Domain, userID uuid.UUID) bool {
	raw, ok := domain.Settings["allowed_users"]
	if !ok {
		return false
	}
	list, ok := raw.([]any)
	if !ok {
		return false
	}
	for _, v := range list {
		if s, ok := v.(string); ok && s == userID.String() {
			return true
		}
	}
	return false
}

// Scope returns the tenant filter for retrieval: the caller's org and the
// domains it may read. A nil domain slice means every readable domain must
// be resolved by the caller (viewer of public domains).
func Scope(claims *Claims, domains []*types.Domain) (uuid.UUID, []uuid.UUID) {
	if claims == nil {
		return uuid.Nil, nil
	}
	allowed := make([]uuid.UUID, 0, len(domains))
	for _, d := range domains {
		if d.OrgID != claims.OrgID {
			continue
		}
		if err := RequireDomain(claims, PermChatRead, d); err == nil {
			allowed = append(allowed, d.ID)
		}
	}
	return claims.OrgID, allowed
}
