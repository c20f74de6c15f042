package core

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// AllRoles lists every valid Role, highest privilege first.
var AllRoles = []Role{RoleAdmin, RoleTeacher, RoleStudent}

// ParseRole converts s into a Role, rejecting anything outside AllRoles.
func ParseRole(s string) (Role, error) {
	switch r := Role(CleanString(s, true)); r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return r, nil
	default:
		return "", NewInvalidInputError("role", fmt.Sprintf("unknown role %q", s))
	}
}

func (r Role) Valid() bool {
	_, err := ParseRole(string(r))
	return err == nil
}

// Name is the human readable label of the Role.
func (r Role) Name() string {
	switch r {
	case RoleAdmin:
		return "Admin"
	case RoleTeacher:
		return "Teacher"
	case RoleStudent:
		return "Student"
	default:
		return ""
	}
}

// Priority ranks roles; a user cannot grant a role with a higher priority than their own.
func (r Role) Priority() int {
	switch r {
	case RoleAdmin:
		return 30
	case RoleTeacher:
		return 20
	case RoleStudent:
		return 10
	default:
		return 0
	}
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*r = ""
		return nil
	}
	role, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = role
	return nil
}

// Session is the verified principal performing an operation.
type Session struct {
	UID    string
	Role   Role
	Claims map[string]string
}

// Session claim keys
const (
	ClaimEmail   = "email"
	ClaimName    = "name"
	ClaimClassID = "class_id"
)

func NewSession(uid string, role Role, claims map[string]string) Session {
	if claims == nil {
		claims = make(map[string]string)
	}
	return Session{UID: uid, Role: role, Claims: claims}
}

func (s Session) Claim(key string) string {
	if s.Claims == nil {
		return ""
	}
	return s.Claims[key]
}

func (s Session) ClassID() string { return s.Claim(ClaimClassID) }

func (s Session) IsAdmin() bool   { return s.Role == RoleAdmin }
func (s Session) IsTeacher() bool { return s.Role == RoleTeacher }
func (s Session) IsStudent() bool { return s.Role == RoleStudent }

// Authorize returns ErrPermissionDenied unless the Session is authenticated with one of roles.
func (s Session) Authorize(roles ...Role) error {
	if s.UID == "" || !s.Role.Valid() {
		return ErrPermissionDenied
	}
	for _, r := range roles {
		if s.Role == r {
			return nil
		}
	}
	return ErrPermissionDenied
}

// AuthorizeSelfOr allows uid itself, or any of roles.
func (s Session) AuthorizeSelfOr(uid string, roles ...Role) error {
	if s.UID != "" && s.UID == uid && s.Role.Valid() {
		return nil
	}
	return s.Authorize(roles...)
}

func (s Session) String() string {
	return strings.Join([]string{string(s.Role), s.UID}, ":")
}
