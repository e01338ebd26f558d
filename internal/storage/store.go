package storage

import (
	"errors"
	"time"

	"github.com/developingchet/rtledger/internal/access"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// PrincipalRecord is a stored user account.
type PrincipalRecord struct {
	ID           string
	Username     string
	PasswordHash string
	Role         access.Role
	CreatedAt    time.Time
}

// GroupRecord is a named set of principals.
type GroupRecord struct {
	ID        string
	Name      string
	Members   []string // principal IDs
	CreatedAt time.Time
}

// Outcome is what the defenders achieved against one executed technique.
type Outcome struct {
	Detected   bool
	Prevented  bool
	Attributed bool
}

// Technique is one ATT&CK-style technique executed during an operation.
type Technique struct {
	ID          string
	TechniqueID string // e.g. T1059.001
	Tactic      string // e.g. execution
	Name        string
	ExecutedAt  time.Time
	Outcome     Outcome
	Notes       string
}

// OperationRecord is a recorded red-team engagement.
type OperationRecord struct {
	ID             string
	Name           string
	Description    string
	OwnerID        string
	Visibility     access.Visibility
	AccessGroupIDs []string
	Techniques     []Technique
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AuditEvent records one access decision or mutation.
type AuditEvent struct {
	ID          string
	At          time.Time
	PrincipalID string
	Action      string
	OperationID string
	Allowed     bool
	Detail      string
}

// Store is the persistence interface for rtledger.
type Store interface {
	// Principals
	PutPrincipal(rec PrincipalRecord) error
	GetPrincipal(id string) (*PrincipalRecord, error)
	GetPrincipalByUsername(username string) (*PrincipalRecord, error)
	ListPrincipals() ([]PrincipalRecord, error)

	// Groups
	PutGroup(rec GroupRecord) error
	GetGroup(id string) (*GroupRecord, error)
	ListGroups() ([]GroupRecord, error)
	AddGroupMember(groupID, principalID string) error
	RemoveGroupMember(groupID, principalID string) error
	// GroupsFor returns the IDs of every group principalID belongs to.
	GroupsFor(principalID string) ([]string, error)

	// Operations
	PutOperation(rec OperationRecord) error
	// GetOperation returns the record together with its access view, groups joined with members.
	GetOperation(id string) (*OperationRecord, access.Operation, error)
	// ListOperations returns every operation whose access view satisfies filter, newest first.
	ListOperations(filter access.Predicate) ([]OperationRecord, error)
	DeleteOperation(id string) error

	// Audit
	AppendAudit(ev AuditEvent) error
	// ListAudit returns up to limit events, newest first.
	ListAudit(limit int) ([]AuditEvent, error)

	// Utility
	Ping() error
	SizeBytes() (int64, error)
	Close() error
}

// AccessView builds the access-control view of rec from a group lookup.
// Groups the lookup cannot find contribute no members.
func AccessView(rec OperationRecord, lookup func(id string) (GroupRecord, bool)) access.Operation {
	op := access.Operation{
		ID:         rec.ID,
		OwnerID:    rec.OwnerID,
		Visibility: rec.Visibility,
	}
	for _, gid := range rec.AccessGroupIDs {
		ag := access.AccessGroup{GroupID: gid}
		if g, ok := lookup(gid); ok {
			ag.Members = append([]string(nil), g.Members...)
		}
		op.AccessGroups = append(op.AccessGroups, ag)
	}
	return op
}
