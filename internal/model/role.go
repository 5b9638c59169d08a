package model

type Role string

const (
	RoleUser      = Role("user")
	RoleAssistant = Role("assistant")
)

func ParseRole(s string) (Role, bool) {
	switch s {
	case string(RoleUser):
		return RoleUser, true
	case string(RoleAssistant):
		return RoleAssistant, true
	default:
		return Role(s), false
	}
}

func (r Role) Valid() bool {
	_, ok := ParseRole(string(r))
	return ok
}
