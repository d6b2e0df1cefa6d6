package fiscal

import (
	"context"
	"time"

	"fiscalhub/internal/core/id"
	"fiscalhub/internal/domain/fiscal/payload"
)

// DocumentRepository persists fiscal documents. Implementations resolve the
// tenant database from the context.
type DocumentRepository interface {
	// Create inserts a new document. A reused reference or number is a duplicate error.
	Create(ctx context.Context, doc *FiscalDocument) error
	// Update overwrites the mutable fields of doc (last write wins).
	Update(ctx context.Context, doc *FiscalDocument) error
	GetByID(ctx context.Context, docID id.ID) (*FiscalDocument, error)
	// GetByReference returns a NotFound AppError when no document uses reference.
	GetByReference(ctx context.Context, tenantID, reference string) (*FiscalDocument, error)
	// ListPendingContingency returns queued documents oldest first (created_at, number).
	ListPendingContingency(ctx context.Context, tenantID string, limit int) ([]*FiscalDocument, error)
	CountPendingContingency(ctx context.Context, tenantID string) (int, error)
	// ListByStatus returns documents in status oldest first.
	ListByStatus(ctx context.Context, tenantID string, status Status, limit int) ([]*FiscalDocument, error)
}

// Provider names.
const (
	ProviderFocusNFe    = "focusnfe"
	ProviderNuvemFiscal = "nuvemfiscal"
)

// Profile is a tenant's fiscal identity and gateway configuration.
type Profile struct {
	TenantID string         `db:"tenant_id" json:"tenantId"`
	Issuer   payload.Issuer `db:"issuer" json:"issuer"`
	// Region is the UF whose authority receives the tenant's NF-e.
	Region   string `db:"region" json:"region"`
	Provider string `db:"provider" json:"provider"`
	BaseURL  string `db:"base_url" json:"baseUrl"`
	// SealedCredentials is the provider token or client id/secret, encrypted at rest.
	SealedCredentials []byte    `db:"sealed_credentials" json:"-"`
	UpdatedAt         time.Time `db:"updated_at" json:"updatedAt"`
}

// ProfileRepository loads tenant fiscal profiles.
type ProfileRepository interface {
	Get(ctx context.Context, tenantID string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
}

// WebhookRepository persists webhook subscriptions.
type WebhookRepository interface {
	Create(ctx context.Context, sub *WebhookSubscription) error
	GetByID(ctx context.Context, subID id.ID) (*WebhookSubscription, error)
	List(ctx context.Context, tenantID string) ([]*WebhookSubscription, error)
	Delete(ctx context.Context, subID id.ID) error
	// ListActive returns active subscriptions of tenantID subscribed to event.
	ListActive(ctx context.Context, tenantID string, event Event) ([]*WebhookSubscription, error)
	// RecordSuccess resets the consecutive failure counter.
	RecordSuccess(ctx context.Context, subID id.ID) error
	// RecordFailure increments the counter in one statement and deactivates the
	// subscription once it reaches threshold. It reports the new count and whether
	// the subscription is now inactive.
	RecordFailure(ctx context.Context, subID id.ID, threshold int, lastError string) (failures int, deactivated bool, err error)
	// Reactivate turns a subscription back on with a zero counter.
	Reactivate(ctx context.Context, subID id.ID) error
}
