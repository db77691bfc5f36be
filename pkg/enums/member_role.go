package enums

import "fmt"

// MemberRole is the caller's role inside the organization named by the access token.
type MemberRole string

const (
	MemberRoleOwner  MemberRole = "owner"
	MemberRoleAdmin  MemberRole = "admin"
	MemberRoleMember MemberRole = "member"
)

var validMemberRoles = []MemberRole{
	MemberRoleOwner,
	MemberRoleAdmin,
	MemberRoleMember,
}

func (r MemberRole) String() string {
	return string(r)
}

func (r MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanManageBilling reports whether the role may start checkouts, cancel or open the billing portal.
func (r MemberRole) CanManageBilling() bool {
	return r == MemberRoleOwner || r == MemberRoleAdmin
}

func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
