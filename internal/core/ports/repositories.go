package ports

import (
	"context"

	"mpcomm/internal/core/domain"
)

// PresenceRepository tracks which contacts are currently in a call so the
// signaling server can answer Busy without consulting the callee.
type PresenceRepository interface {
	SetBusy(ctx context.Context, contactID domain.ContactID, callID domain.CallID) error
	ClearBusy(ctx context.Context, contactID domain.ContactID) error
	IsBusy(ctx context.Context, contactID domain.ContactID) (bool, error)
	Close() error
}
