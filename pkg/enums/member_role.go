package enums

import "fmt"

// MemberRole scopes a user's association with a box.
type MemberRole string

const (
	MemberRoleAthlete   MemberRole = "athlete"
	MemberRoleCoach     MemberRole = "coach"
	MemberRoleHeadCoach MemberRole = "head_coach"
	MemberRoleOwner     MemberRole = "owner"
)

var validMemberRoles = []MemberRole{
	MemberRoleAthlete,
	MemberRoleCoach,
	MemberRoleHeadCoach,
	MemberRoleOwner,
}

// String implements fmt.Stringer.
func (r MemberRole) String() string {
	return string(r)
}

// IsValid reports whether the value is known.
func (r MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CountsAsCoach reports whether the role consumes a coach seat against plan
// limits. Owners hold a coach seat; athletes do not.
func (r MemberRole) CountsAsCoach() bool {
	switch r {
	case MemberRoleCoach, MemberRoleHeadCoach, MemberRoleOwner:
		return true
	default:
		return false
	}
}

// ParseMemberRole converts raw input into a MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
