package filings

import (
	"fmt"

	"github.com/filingdesk/filingdesk/internal/platform/httpx"
)

// Domain errors for filings.
var (
	ErrUnauthenticated  = fmt.Errorf("%w: sign in required", httpx.ErrUnauthorized)
	ErrNotFound         = fmt.Errorf("%w: filing", httpx.ErrNotFound)
	ErrNotOwner         = fmt.Errorf("%w: filing belongs to another user", httpx.ErrForbidden)
	ErrLocked           = fmt.Errorf("%w: filing is no longer a draft", httpx.ErrForbidden)
	ErrAdminOnly        = fmt.Errorf("%w: admin role required", httpx.ErrForbidden)
	ErrUnknownRole      = fmt.Errorf("%w: unknown role", httpx.ErrForbidden)
	ErrDuplicateInvoice = fmt.Errorf("%w: invoice_no already exists", httpx.ErrDuplicate)
	ErrConcurrentUpdate = fmt.Errorf("%w: filing was modified concurrently, retry", httpx.ErrDuplicate)
)
