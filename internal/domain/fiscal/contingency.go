package fiscal

import (
	"cmp"
	"context"
	"fmt"
	"slices"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/id"
	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/core/tx"
	"fiscalhub/pkg/logger"
)

// DefaultRetransmitBatch bounds how many queued documents one run picks up.
const DefaultRetransmitBatch = 500

// RetransmitResult is the outcome for one queued document.
type RetransmitResult struct {
	DocumentID id.ID       `json:"document_id"`
	Series     string      `json:"series"`
	Number     int64       `json:"number"`
	Status     Status      `json:"status"`
	Success    bool        `json:"success"`
	Failure    FailureKind `json:"failure"`
	Error      string      `json:"error,omitempty"`
}

// BatchResult tallies a retransmission run.
type BatchResult struct {
	AuthorityAvailable bool               `json:"authority_available"`
	Processed          int                `json:"processed"`
	Succeeded          int                `json:"succeeded"`
	Failed             int                `json:"failed"`
	Results            []RetransmitResult `json:"results"`
}

// ContingencyManager queues documents the authority could not receive and
// replays them, oldest first, once it responds again.
type ContingencyManager struct {
	store     store
	docs      DocumentRepository
	profiles  ProfileRepository
	gateways  GatewayResolver
	batchSize int
}

// NewContingencyManager creates a manager. txManager may be nil to use the
// tenant's transaction manager from the context.
func NewContingencyManager(
	docs DocumentRepository,
	profiles ProfileRepository,
	gateways GatewayResolver,
	events EventPublisher,
	txManager tx.Manager,
) *ContingencyManager {
	return &ContingencyManager{
		store:     store{docs: docs, events: events, txManager: txManager},
		docs:      docs,
		profiles:  profiles,
		gateways:  gateways,
		batchSize: DefaultRetransmitBatch,
	}
}

// SaveOffline persists doc as pending with contingency mode on, keeping body
// byte for byte for the retransmission.
func (m *ContingencyManager) SaveOffline(ctx context.Context, doc *FiscalDocument, body []byte) error {
	before := markOf(doc)
	if err := doc.MarkContingency(body); err != nil {
		return err
	}
	if err := m.store.save(ctx, doc, before); err != nil {
		return fmt.Errorf("save offline document: %w", err)
	}

	logger.Warn(ctx, "document queued for contingency",
		"document_id", doc.ID, "series", doc.Series, "number", doc.Number, "error", doc.ErrorMessage)
	return nil
}

// IsAuthorityAvailable probes the region's authority through the tenant's gateway.
// Any failure, including a missing gateway, counts as unavailable.
func (m *ContingencyManager) IsAuthorityAvailable(ctx context.Context, region string) bool {
	gw, err := m.gateways.Resolve(ctx, tenant.GetTenantID(ctx))
	if err != nil {
		logger.Warn(ctx, "authority probe skipped", "error", err)
		return false
	}
	return probe(ctx, gw, region)
}

func probe(ctx context.Context, gw Gateway, region string) bool {
	res := gw.QueryAuthorityStatus(ctx, region)
	if !res.Success {
		logger.Info(ctx, "authority unavailable", "region", region, "failure", res.Failure, "error", res.ErrorMessage)
	}
	return res.Success
}

// PendingCount returns how many documents wait for retransmission.
func (m *ContingencyManager) PendingCount(ctx context.Context, tenantID string) (int, error) {
	n, err := m.docs.CountPendingContingency(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("count pending documents: %w", err)
	}
	return n, nil
}

// RetransmitPending replays every queued document of the tenant in creation
// order. Nothing is sent when the authority probe fails. A document that fails
// again is re-queued and the batch moves on.
func (m *ContingencyManager) RetransmitPending(ctx context.Context, tenantID string) (BatchResult, error) {
	var batch BatchResult

	profile, err := m.profiles.Get(ctx, tenantID)
	if err != nil {
		return batch, fmt.Errorf("load fiscal profile: %w", err)
	}
	gw, err := m.gateways.Resolve(ctx, tenantID)
	if err != nil {
		return batch, fmt.Errorf("resolve gateway: %w", err)
	}

	if !probe(ctx, gw, profile.Region) {
		return batch, nil
	}
	batch.AuthorityAvailable = true

	docs, err := m.docs.ListPendingContingency(ctx, tenantID, m.batchSize)
	if err != nil {
		return batch, fmt.Errorf("list pending documents: %w", err)
	}
	slices.SortStableFunc(docs, func(a, b *FiscalDocument) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Number, b.Number)
	})

	for _, doc := range docs {
		r := m.retransmit(ctx, gw, doc)
		batch.Processed++
		if r.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
		batch.Results = append(batch.Results, r)
	}

	logger.Info(ctx, "contingency retransmission finished",
		"tenant_id", tenantID, "processed", batch.Processed,
		"succeeded", batch.Succeeded, "failed", batch.Failed)
	return batch, nil
}

// RetransmitOne replays a single queued document without probing first.
func (m *ContingencyManager) RetransmitOne(ctx context.Context, doc *FiscalDocument) RetransmitResult {
	gw, err := m.gateways.Resolve(ctx, doc.TenantID)
	if err != nil {
		r := resultFor(doc)
		r.Failure = FailureUnreachable
		r.Error = err.Error()
		return r
	}
	return m.retransmit(ctx, gw, doc)
}

func (m *ContingencyManager) retransmit(ctx context.Context, gw Gateway, doc *FiscalDocument) RetransmitResult {
	r := resultFor(doc)
	if doc.Status != StatusPending || !doc.ContingencyMode {
		r.Failure = FailureNone
		r.Error = apperror.NewInvalidTransition(string(doc.Status), string(StatusPending)).Error()
		return r
	}

	body := doc.ContingencyPayload
	before := markOf(doc)
	res := Emit(ctx, gw, doc.Family, doc.Reference, body)

	var err error
	if res.Failure.Retryable() {
		err = doc.Apply(res)
		if err == nil {
			err = doc.MarkContingency(body)
		}
	} else {
		err = doc.Apply(res)
	}
	if err == nil {
		err = m.store.save(ctx, doc, before)
	}

	r.Status = doc.Status
	r.Failure = res.Failure
	if r.Failure == "" {
		r.Failure = FailureNone
	}
	r.Error = res.ErrorMessage
	if err != nil {
		logger.Error(ctx, "retransmission not recorded", "document_id", doc.ID, "error", err)
		r.Error = err.Error()
		return r
	}

	r.Success = res.Success && doc.Status != StatusRejected
	if !r.Success {
		logger.Warn(ctx, "retransmission failed",
			"document_id", doc.ID, "number", doc.Number, "failure", r.Failure, "error", r.Error)
	}
	return r
}

func resultFor(doc *FiscalDocument) RetransmitResult {
	return RetransmitResult{
		DocumentID: doc.ID,
		Series:     doc.Series,
		Number:     doc.Number,
		Status:     doc.Status,
	}
}
