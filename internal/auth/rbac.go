// Package auth implements CORTEX's API-key authentication, role-based
// access control, and the Sovereign Gate compound authorizer used for
// high-stakes operations that need both a permission grant and a
// consensus-backed claim.
package auth

import "github.com/cortex-memory/cortex/internal/types"

// roleHierarchy is each role's closure: the set of roles whose policies it
// inherits, including itself. System inherits everything; viewer inherits
// only itself.
var roleHierarchy = map[types.Role][]types.Role{
	types.RoleSystem: {types.RoleSystem, types.RoleAdmin, types.RoleAgent, types.RoleViewer},
	types.RoleAdmin:  {types.RoleAdmin, types.RoleAgent, types.RoleViewer},
	types.RoleAgent:  {types.RoleAgent, types.RoleViewer},
	types.RoleViewer: {types.RoleViewer},
}

// defaultPolicies is the permission set granted to each role directly
// (before hierarchy closure is applied).
var defaultPolicies = map[types.Role][]types.Permission{
	types.RoleViewer: {
		types.PermReadFacts,
		types.PermSearch,
	},
	types.RoleAgent: {
		types.PermReadFacts,
		types.PermWriteFacts,
		types.PermDeleteFacts,
		types.PermSearch,
		types.PermSync,
	},
	types.RoleAdmin: {
		types.PermReadFacts,
		types.PermWriteFacts,
		types.PermDeleteFacts,
		types.PermSearch,
		types.PermSync,
		types.PermPurgeData,
		types.PermManageKeys,
		types.PermViewLogs,
	},
	types.RoleSystem: {
		types.PermReadFacts, types.PermWriteFacts, types.PermDeleteFacts, types.PermSearch,
		types.PermSync, types.PermPurgeData, types.PermManageKeys, types.PermViewLogs,
		types.PermConsensusOverride, types.PermSnapshotExport, types.PermSystemConfig,
	},
}

// Evaluator checks whether a role (plus any explicit per-key grants) is
// authorized for a permission.
type Evaluator struct {
	policies map[types.Role]map[types.Permission]bool
}

// NewEvaluator builds an Evaluator from a custom policy map, falling back
// to defaultPolicies for any role not present in policies.
func NewEvaluator(policies map[types.Role][]types.Permission) *Evaluator {
	if policies == nil {
		policies = defaultPolicies
	}
	indexed := make(map[types.Role]map[types.Permission]bool, len(policies))
	for role, perms := range policies {
		set := make(map[types.Permission]bool, len(perms))
		for _, p := range perms {
			set[p] = true
		}
		indexed[role] = set
	}
	return &Evaluator{policies: indexed}
}

// DefaultEvaluator builds an Evaluator over defaultPolicies.
func DefaultEvaluator() *Evaluator {
	return NewEvaluator(defaultPolicies)
}

// HasPermission reports whether role's hierarchy closure grants perm, or
// grants explicitly lists it — an API key's stored permissions list can
// widen a role's default policy, never narrow it.
func (e *Evaluator) HasPermission(role types.Role, grants []types.Permission, perm types.Permission) bool {
	for _, g := range grants {
		if g == perm {
			return true
		}
	}
	closure, ok := roleHierarchy[role]
	if !ok {
		return false
	}
	for _, r := range closure {
		if e.policies[r][perm] {
			return true
		}
	}
	return false
}
