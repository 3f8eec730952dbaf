package filings

import "github.com/filingdesk/filingdesk/internal/shared"

// Action is an operation a principal attempts on filings.
type Action string

const (
	ActionCreate Action = "create"
	ActionRead   Action = "read"
	ActionList   Action = "list"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Authorize decides whether p may perform action on target. Target is nil
// for create and list. Callers resolve NotFound before calling so that a
// missing filing is never reported as forbidden.
//
//	          owner              other user   admin
//	create    yes                yes          yes
//	read      yes                forbidden    yes
//	update    only while draft   forbidden    yes
//	delete    yes                forbidden    yes
func Authorize(p *shared.Principal, action Action, target *Filing) error {
	if p == nil {
		return ErrUnauthenticated
	}
	switch p.Role {
	case shared.RoleAdmin:
		return nil
	case shared.RoleUser:
		return authorizeUser(*p, action, target)
	default:
		return ErrUnknownRole
	}
}

func authorizeUser(p shared.Principal, action Action, target *Filing) error {
	switch action {
	case ActionCreate, ActionList:
		return nil
	case ActionRead, ActionDelete:
		if target == nil {
			return ErrNotFound
		}
		if !target.IsOwnedBy(p) {
			return ErrNotOwner
		}
		return nil
	case ActionUpdate:
		if target == nil {
			return ErrNotFound
		}
		if !target.IsOwnedBy(p) {
			return ErrNotOwner
		}
		if !target.Status.CanEdit() {
			return ErrLocked
		}
		return nil
	default:
		return ErrUnknownRole
	}
}

// AuthorizeScope checks that p may list or count with scope.
func AuthorizeScope(p *shared.Principal, scope Scope) error {
	if p == nil {
		return ErrUnauthenticated
	}
	switch scope {
	case ScopeOwn:
		return nil
	case ScopeAll:
		if !p.IsAdmin() {
			return ErrAdminOnly
		}
		return nil
	default:
		return ErrAdminOnly
	}
}

// CanEdit reports whether the edit form should be offered to p.
func CanEdit(p *shared.Principal, f *Filing) bool {
	return Authorize(p, ActionUpdate, f) == nil
}
