package access

import "strings"

// Role is the coarse permission level of a Principal.
type Role string

const (
	RoleAdmin    Role = "ADMIN"
	RoleOperator Role = "OPERATOR"
	RoleViewer   Role = "VIEWER"
)

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, bool) {
	switch r := Role(strings.ToUpper(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleOperator, RoleViewer:
		return r, true
	}
	return "", false
}

// Visibility controls who may list an Operation.
type Visibility string

const (
	VisibilityEveryone   Visibility = "EVERYONE"
	VisibilityGroupsOnly Visibility = "GROUPS_ONLY"
)

// ParseVisibility accepts a visibility mode in any case.
func ParseVisibility(s string) (Visibility, bool) {
	switch v := Visibility(strings.ToUpper(strings.TrimSpace(s))); v {
	case VisibilityEveryone, VisibilityGroupsOnly:
		return v, true
	}
	return "", false
}

// Action is what a principal intends to do with an Operation.
type Action string

const (
	ActionView   Action = "view"
	ActionModify Action = "modify"
)

// Principal is the authenticated caller. It is resolved once per request and not mutated.
type Principal struct {
	ID       string
	Role     Role
	GroupIDs []string
}

// AccessGroup is one group granted access to an Operation, joined with its members.
type AccessGroup struct {
	GroupID string
	Members []string // principal IDs
}

// Operation is the access-control view of a recorded engagement.
type Operation struct {
	ID           string
	OwnerID      string
	Visibility   Visibility
	AccessGroups []AccessGroup
}

// Field names understood by Predicate and Record.
const (
	FieldVisibility   = "visibility"
	FieldOwnerID      = "ownerId"
	FieldMemberUserID = "accessGroups.group.members.userId"
)

// Scalar implements Record.
func (o Operation) Scalar(field string) (string, bool) {
	switch field {
	case FieldVisibility:
		return string(o.Visibility), true
	case FieldOwnerID:
		return o.OwnerID, true
	}
	return "", false
}

// Set implements Record.
func (o Operation) Set(field string) []string {
	if field != FieldMemberUserID {
		return nil
	}
	var ids []string
	for _, g := range o.AccessGroups {
		ids = append(ids, g.Members...)
	}
	return ids
}
