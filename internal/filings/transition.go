package filings

import "github.com/filingdesk/filingdesk/internal/shared"

// InitialStatus is the status every new filing starts in, whatever the
// client asked for.
func InitialStatus() Status {
	return StatusDraft
}

// NextStatus resolves the status an update moves a filing to. An empty
// request keeps the current status. Authorization has already passed, so an
// owner only reaches here while the filing is a draft.
func NextStatus(p shared.Principal, current Status, requested string) (Status, error) {
	if requested == "" {
		return current, nil
	}
	next, err := ParseStatus(requested)
	if err != nil {
		verr := shared.NewValidationError()
		verr.Add("status", "must be one of: draft, submitted, error")
		return "", verr
	}
	switch p.Role {
	case shared.RoleAdmin:
		return next, nil
	case shared.RoleUser:
		if !current.CanEdit() {
			return "", ErrLocked
		}
		return next, nil
	default:
		return "", ErrUnknownRole
	}
}
