package auth

// Permission keys used across the banking services. The catalog is closed:
// the evaluator only ever sees keys from this list plus the scoping suffix
// and wildcard conventions documented on Permission.
const (
	PermFullAccess = "*"

	PermCustomersRead  = "customers.read"
	PermCustomersWrite = "customers.write"

	PermAccountsRead    = "accounts.read"
	PermAccountsReadOwn = "accounts.read.own"
	PermAccountsWrite   = "accounts.write"

	PermTransactionsRead    = "transactions.read"
	PermTransactionsReadOwn = "transactions.read.own"

	PermCardsAll     = "cards.*"
	PermCardsRead    = "cards.read"
	PermCardsReadOwn = "cards.read.own"

	PermUsersManage = "users.manage"
	PermRolesManage = "roles.manage"
	PermAuditRead   = "audit.read"
)

// Builtin role names.
const (
	RoleAdmin    = "ADMIN"
	RoleManager  = "MANAGER"
	RoleCustomer = "CUSTOMER"
	RoleSupport  = "SUPPORT"
	RoleAuditor  = "AUDITOR"
)

// BuiltinPermissions is the full permission catalog, seeded at startup and
// treated as immutable reference data afterwards.
var BuiltinPermissions = []Permission{
	{Key: PermFullAccess, Description: "Unrestricted access to every resource"},
	{Key: PermCustomersRead, Description: "Read customer profiles"},
	{Key: PermCustomersWrite, Description: "Create and update customer profiles"},
	{Key: PermAccountsRead, Description: "Read any account"},
	{Key: PermAccountsReadOwn, Description: "Read own accounts"},
	{Key: PermAccountsWrite, Description: "Create and update accounts"},
	{Key: PermTransactionsRead, Description: "Read any transaction history"},
	{Key: PermTransactionsReadOwn, Description: "Read own transaction history"},
	{Key: PermCardsAll, Description: "Full card management"},
	{Key: PermCardsRead, Description: "Read any card"},
	{Key: PermCardsReadOwn, Description: "Read own cards"},
	{Key: PermUsersManage, Description: "Manage user accounts, including lock and unlock"},
	{Key: PermRolesManage, Description: "Manage roles and role assignments"},
	{Key: PermAuditRead, Description: "Read the audit trail"},
}

// BuiltinRoles is the closed role catalog.
var BuiltinRoles = []Role{
	{Name: RoleAdmin, Description: "Full administrative access"},
	{Name: RoleManager, Description: "Branch manager: customer and account administration"},
	{Name: RoleCustomer, Description: "Bank customer: access to own records only"},
	{Name: RoleSupport, Description: "Support agent: read access to customer data"},
	{Name: RoleAuditor, Description: "Compliance auditor: read-only audit trail access"},
}

// DefaultRoleGrants maps each builtin role to its permission keys.
var DefaultRoleGrants = map[string][]string{
	RoleAdmin: {PermFullAccess, PermCardsAll},
	RoleManager: {
		PermCustomersRead, PermCustomersWrite,
		PermAccountsRead, PermAccountsWrite,
		PermTransactionsRead, PermCardsRead,
	},
	RoleCustomer: {
		PermAccountsReadOwn, PermTransactionsReadOwn, PermCardsReadOwn,
	},
	RoleSupport: {
		PermCustomersRead, PermAccountsRead, PermCardsRead,
	},
	RoleAuditor: {
		PermAuditRead,
	},
}
