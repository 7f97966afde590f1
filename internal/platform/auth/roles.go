package auth

import "fmt"

// Role is a capability grant attached to an identity. An identity may hold
// several roles at once; each session token carries exactly one.
type Role string

const (
	RolePatient     Role = "PATIENT"
	RoleDoctor      Role = "DOCTOR"
	RoleClinicStaff Role = "CLINIC_STAFF"
)

// AllRoles lists every role a token can carry.
var AllRoles = []Role{RolePatient, RoleDoctor, RoleClinicStaff}

func (r Role) Valid() bool {
	switch r {
	case RolePatient, RoleDoctor, RoleClinicStaff:
		return true
	}
	return false
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}
