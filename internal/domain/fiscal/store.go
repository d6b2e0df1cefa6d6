package fiscal

import (
	"context"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/core/tx"
)

// stateMark is the part of a document that decides whether an event is due.
type stateMark struct {
	status      Status
	contingency bool
}

func markOf(doc *FiscalDocument) stateMark {
	return stateMark{status: doc.Status, contingency: doc.ContingencyMode}
}

// store writes document changes together with the lifecycle event they cause.
type store struct {
	docs      DocumentRepository
	events    EventPublisher
	txManager tx.Manager // Optional. If nil, obtained from context (DB-per-tenant).
}

func (s *store) getTxManager(ctx context.Context) (tx.Manager, error) {
	if s.txManager != nil {
		return s.txManager, nil
	}
	return tenant.GetTxManager(ctx)
}

// save updates doc and, when its state moved away from before, records the
// event for the new state in the same transaction.
func (s *store) save(ctx context.Context, doc *FiscalDocument, before stateMark) error {
	event, announce := EventFor(doc)
	if markOf(doc) == before {
		announce = false
	}

	txm, err := s.getTxManager(ctx)
	if err != nil {
		return apperror.NewInternal(err).WithDetail("missing", "tx_manager")
	}
	return txm.RunInTransaction(ctx, func(ctx context.Context) error {
		if err := s.docs.Update(ctx, doc); err != nil {
			return err
		}
		if announce {
			return s.events.Publish(ctx, doc, event)
		}
		return nil
	})
}
