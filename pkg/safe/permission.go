package safe

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Permission is a user's access level in a safe. Levels are ordered:
// each level includes the rights of the levels below it.
type Permission int

const (
	// PermissionNone grants nothing; setting it removes the user
	PermissionNone Permission = iota

	// PermissionRead allows listing and reading files
	PermissionRead

	// PermissionWrite allows putting and deleting files
	PermissionWrite

	// PermissionAdmin allows managing users
	PermissionAdmin
)

var permissionNames = [...]string{"none", "read", "write", "admin"}

// String returns the lowercase level name.
func (p Permission) String() string {
	if p < PermissionNone || p > PermissionAdmin {
		return fmt.Sprintf("permission(%d)", int(p))
	}
	return permissionNames[p]
}

// ParsePermission parses a level name (case-insensitive).
func ParsePermission(s string) (Permission, error) {
	for i, name := range permissionNames {
		if strings.EqualFold(s, name) {
			return Permission(i), nil
		}
	}
	return PermissionNone, fmt.Errorf("unknown permission %q", s)
}

// Allows reports whether p includes required.
func (p Permission) Allows(required Permission) bool {
	return p >= required
}

// MarshalJSON encodes the permission as its name.
func (p Permission) MarshalJSON() ([]byte, error) {
	if p < PermissionNone || p > PermissionAdmin {
		return nil, fmt.Errorf("invalid permission %d", int(p))
	}
	return json.Marshal(p.String())
}

// UnmarshalJSON accepts a level name or its numeric value.
func (p *Permission) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		parsed, err := ParsePermission(name)
		if err != nil {
			return err
		}
		*p = parsed
		return nil
	}

	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("invalid permission %s", data)
	}
	if Permission(n) < PermissionNone || Permission(n) > PermissionAdmin {
		return fmt.Errorf("invalid permission %d", n)
	}
	*p = Permission(n)
	return nil
}

// Users maps identity ids to permissions.
type Users map[string]Permission

// Clone returns an independent copy.
func (u Users) Clone() Users {
	out := make(Users, len(u))
	for id, p := range u {
		out[id] = p
	}
	return out
}
