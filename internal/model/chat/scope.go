package chat

// Scope selects the visibility tier a session lives in. Sessions of one
// scope are invisible to the other.
type Scope int

const (
	ScopePublic Scope = iota
	ScopeAdmin
)

// IsAdmin reports whether the scope is the privileged tier.
func (s Scope) IsAdmin() bool {
	return s == ScopeAdmin
}

func (s Scope) String() string {
	if s == ScopeAdmin {
		return "admin"
	}
	return "public"
}
