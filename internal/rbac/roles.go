package rbac

import "vidcall-platform/internal/ledger"

// Role names. Keep these stable; they are part of auth/RBAC contracts.
// Customer and provider match ledger account types.
const (
	RoleCustomer = string(ledger.AccountTypeCustomer)
	RoleProvider = string(ledger.AccountTypeProvider)
	RoleAdmin    = "admin"
)

func IsAdmin(role string) bool { return role == RoleAdmin }
