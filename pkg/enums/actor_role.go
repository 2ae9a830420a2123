package enums

// ActorRole identifies who drives a change. Customer, provider and admin
// are token roles; system and settlement are internal actors.
type ActorRole string

const (
	ActorCustomer   ActorRole = "customer"
	ActorProvider   ActorRole = "provider"
	ActorAdmin      ActorRole = "admin"
	ActorSystem     ActorRole = "system"
	ActorSettlement ActorRole = "settlement"
)

var validActorRoles = []ActorRole{
	ActorCustomer,
	ActorProvider,
	ActorAdmin,
	ActorSystem,
	ActorSettlement,
}

// ActorRoles returns every known role.
func ActorRoles() []ActorRole {
	out := make([]ActorRole, len(validActorRoles))
	copy(out, validActorRoles)
	return out
}

// String implements fmt.Stringer.
func (a ActorRole) String() string {
	return string(a)
}

// IsValid reports whether the value is a known ActorRole.
func (a ActorRole) IsValid() bool {
	return isOneOf(a, validActorRoles)
}

// IsUserRole reports whether the role may appear in an access token.
func (a ActorRole) IsUserRole() bool {
	return a == ActorCustomer || a == ActorProvider || a == ActorAdmin
}

// ParseActorRole converts raw input into an ActorRole.
func ParseActorRole(value string) (ActorRole, error) {
	return parseOneOf(value, "actor role", validActorRoles)
}
