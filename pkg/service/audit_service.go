package service

import (
	"github.com/pkg/errors"

	"github.com/Balli0706/automotive-pim-dam/pkg/models"
	"github.com/Balli0706/automotive-pim-dam/pkg/storage"
)

// AuditService is the read surface over the append-only audit log. The
// engine appends entries inside its own transactions; Append exists for
// out-of-band notes only.
type AuditService struct {
	store  storage.Store
	logger Logger
}

func NewAuditService(store storage.Store, logger Logger) *AuditService {
	return &AuditService{
		store:  store,
		logger: logger,
	}
}

// Append writes a single entry. Fails only on unrecoverable storage errors,
// which are surfaced to the caller, never retried silently.
func (as *AuditService) Append(e models.AuditEntry) error {
	if err := as.store.AppendAudit(e); err != nil {
		return errors.Wrapf(ErrStorageUnavailable, "append audit entry: %v", err)
	}
	return nil
}

// Query returns the ordered entries for a run after afterID. History can be
// long, so callers page with afterID/limit and restart where they left off.
func (as *AuditService) Query(runID string, afterID int64, limit int) ([]models.AuditEntry, error) {
	return as.store.ListAudit(runID, afterID, limit)
}
