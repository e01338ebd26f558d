package access

// Reason labels which rule settled an access decision.
type Reason string

const (
	ReasonAdmin   Reason = "admin"
	ReasonGroup   Reason = "group"
	ReasonView    Reason = "view"
	ReasonRole    Reason = "role"
	ReasonOwner   Reason = "owner"
	ReasonUnknown Reason = "unknown"
)

// BuildListFilter returns the predicate selecting every Operation p may list.
func BuildListFilter(p Principal) Predicate {
	if p.Role == RoleAdmin {
		return True()
	}
	return Or(
		Eq(FieldVisibility, string(VisibilityEveryone)),
		And(
			Eq(FieldVisibility, string(VisibilityGroupsOnly)),
			Has(FieldMemberUserID, p.ID),
		),
	)
}

// CheckAccess reports whether p may perform action on op.
// op must already be resolved; a nil AccessGroups list counts as empty.
func CheckAccess(p Principal, op Operation, action Action) bool {
	ok, _ := Decide(p, op, action)
	return ok
}

// Decide is CheckAccess with the rule that settled the outcome.
func Decide(p Principal, op Operation, action Action) (bool, Reason) {
	// Stage 1: admin bypass
	if p.Role == RoleAdmin {
		return true, ReasonAdmin
	}

	// Stage 2: group gate, applied before any action-specific rule.
	// Unknown visibility values are denied outright.
	switch op.Visibility {
	case VisibilityEveryone:
	case VisibilityGroupsOnly:
		if !IsMember(p, op) {
			return false, ReasonGroup
		}
	default:
		return false, ReasonGroup
	}

	switch action {
	case ActionView:
		return true, ReasonView
	case ActionModify:
		switch p.Role {
		case RoleOperator:
			if p.ID != "" && p.ID == op.OwnerID {
				return true, ReasonOwner
			}
			return false, ReasonOwner
		default:
			return false, ReasonRole
		}
	}
	return false, ReasonUnknown
}

// CanCreate reports whether p may record a new Operation.
func CanCreate(p Principal) bool {
	return p.Role == RoleAdmin || p.Role == RoleOperator
}

// IsMember reports whether p belongs to at least one of op's access groups.
func IsMember(p Principal, op Operation) bool {
	for _, g := range op.AccessGroups {
		for _, m := range g.Members {
			if m == p.ID {
				return true
			}
		}
	}
	return false
}
