package api

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Role is the project role carried in the access token.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleMember  Role = "member"
	RoleViewer  Role = "viewer"
)

var errForbidden = errors.New("forbidden")

func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleManager, RoleMember, RoleViewer:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}

// Principal is the authenticated caller. An empty Projects list grants
// access to every project.
type Principal struct {
	UserID   string
	Role     Role
	Projects []string
}

func (p Principal) canAccess(projectID string) bool {
	return len(p.Projects) == 0 || slices.Contains(p.Projects, projectID)
}

func (p Principal) canEdit() bool {
	return p.Role != RoleViewer
}

func (p Principal) canManage() bool {
	return p.Role == RoleAdmin || p.Role == RoleManager
}

type access int

const (
	accessView access = iota
	accessEdit
	accessManage
)

// authorize reports errForbidden when p may not perform a level of access on
// the project.
func (p Principal) authorize(projectID string, level access) error {
	if !p.canAccess(projectID) {
		return errForbidden
	}
	switch level {
	case accessEdit:
		if !p.canEdit() {
			return errForbidden
		}
	case accessManage:
		if !p.canManage() {
			return errForbidden
		}
	}
	return nil
}
