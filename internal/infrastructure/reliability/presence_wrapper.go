package reliability

import (
	"context"

	"mpcomm/internal/core/domain"
	"mpcomm/internal/core/ports"
	"mpcomm/pkg/retry"

	"go.uber.org/zap"
)

// PresenceWrapper wraps a PresenceRepository with retry logic. Transient
// store failures during busy checks would otherwise surface as spurious
// rejected or double-booked calls.
type PresenceWrapper struct {
	repo        ports.PresenceRepository
	retryConfig retry.Config
	logger      *zap.SugaredLogger
}

func NewPresenceWrapper(repo ports.PresenceRepository, retryConfig retry.Config, logger *zap.SugaredLogger) *PresenceWrapper {
	return &PresenceWrapper{
		repo:        repo,
		retryConfig: retryConfig,
		logger:      logger,
	}
}

func (w *PresenceWrapper) SetBusy(ctx context.Context, contactID domain.ContactID, callID domain.CallID) error {
	err := retry.Do(ctx, w.retryConfig, func() error {
		return w.repo.SetBusy(ctx, contactID, callID)
	})
	if err != nil {
		w.logger.Errorw("set busy failed after retries",
			"contact_id", contactID, "call_id", callID, "error", err)
	}
	return err
}

func (w *PresenceWrapper) ClearBusy(ctx context.Context, contactID domain.ContactID) error {
	err := retry.Do(ctx, w.retryConfig, func() error {
		return w.repo.ClearBusy(ctx, contactID)
	})
	if err != nil {
		w.logger.Errorw("clear busy failed after retries",
			"contact_id", contactID, "error", err)
	}
	return err
}

func (w *PresenceWrapper) IsBusy(ctx context.Context, contactID domain.ContactID) (bool, error) {
	var busy bool
	err := retry.Do(ctx, w.retryConfig, func() error {
		var innerErr error
		busy, innerErr = w.repo.IsBusy(ctx, contactID)
		return innerErr
	})
	if err != nil {
		w.logger.Errorw("busy check failed after retries",
			"contact_id", contactID, "error", err)
	}
	return busy, err
}

func (w *PresenceWrapper) Close() error {
	return w.repo.Close()
}
