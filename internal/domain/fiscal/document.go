package fiscal

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/entity"
	"fiscalhub/internal/core/id"
	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/domain/fiscal/payload"
)

// FiscalDocument is one numbered NF-e or NFS-e and everything the provider
// told us about it.
type FiscalDocument struct {
	entity.BaseDocument

	TenantID string           `db:"tenant_id" json:"tenantId"`
	Kind     Kind             `db:"kind" json:"kind"`
	Family   numerator.Family `db:"family" json:"family"`
	Series   string           `db:"series" json:"series"`
	Number   int64            `db:"number" json:"number"`

	// Reference is the caller's idempotency reference, also sent to the provider.
	Reference string `db:"reference" json:"reference"`
	// ParentID is the authorized NF-e a return or complementary document refers to.
	ParentID *id.ID `db:"parent_id" json:"parentId,omitempty"`

	Status     Status `db:"status" json:"status"`
	AccessKey  string `db:"access_key" json:"accessKey,omitempty"`
	ProviderID string `db:"provider_id" json:"providerId,omitempty"`
	Protocol   string `db:"protocol" json:"protocol,omitempty"`

	Total decimal.Decimal `db:"total" json:"total"`

	// Snapshot of what was invoiced, never a live reference to catalog data.
	Recipient payload.Recipient `db:"recipient" json:"recipient"`
	Items     []payload.Item    `db:"items" json:"items,omitempty"`
	Service   *payload.Service  `db:"service" json:"service,omitempty"`

	ContingencyMode    bool   `db:"contingency_mode" json:"contingencyMode"`
	ContingencyPayload []byte `db:"contingency_payload" json:"-"`
	LastResponse       []byte `db:"last_response" json:"-"`
	ErrorMessage       string `db:"error_message" json:"errorMessage,omitempty"`
	PDFLocator         string `db:"pdf_locator" json:"pdfLocator,omitempty"`
	XMLLocator         string `db:"xml_locator" json:"xmlLocator,omitempty"`

	IssuedAt *time.Time `db:"issued_at" json:"issuedAt,omitempty"`
}

// NewDocument creates a pending document for a reserved number.
func NewDocument(tenantID string, kind Kind, reference string, r numerator.Reservation) *FiscalDocument {
	return &FiscalDocument{
		BaseDocument: entity.NewBaseDocument(),
		TenantID:     tenantID,
		Kind:         kind,
		Family:       kind.Family(),
		Series:       r.Series,
		Number:       r.Number,
		Reference:    reference,
		Status:       StatusPending,
		Total:        decimal.Zero,
	}
}

// GatewayRef addresses the document at its provider.
func (d *FiscalDocument) GatewayRef() Reference {
	return Reference{Family: d.Family, Ref: d.Reference, ProviderID: d.ProviderID}
}

// Transition moves the document to a new status. The contingency flag only
// survives while the document stays pending.
func (d *FiscalDocument) Transition(to Status) error {
	if !CanTransition(d.Status, to) {
		return apperror.NewInvalidTransition(string(d.Status), string(to)).
			WithDetail("document_id", d.ID.String())
	}
	d.Status = to
	if to != StatusPending {
		d.ContingencyMode = false
	}
	d.Touch()
	return nil
}

// MarkContingency queues a pending document for retransmission with the exact
// bytes that were meant for the provider.
func (d *FiscalDocument) MarkContingency(body []byte) error {
	if err := d.Transition(StatusPending); err != nil {
		return err
	}
	d.ContingencyMode = true
	d.ContingencyPayload = body
	return nil
}

// Apply folds a gateway result into the document. Unreachable results only
// record the response; the status is left alone.
func (d *FiscalDocument) Apply(res GatewayResult) error {
	if len(res.RawResponse) > 0 {
		d.LastResponse = res.RawResponse
	}

	if !res.Success {
		d.ErrorMessage = res.ErrorMessage
		if res.Failure == FailureRejected || res.Failure == FailureValidation {
			return d.moveTo(StatusRejected)
		}
		d.Touch()
		return nil
	}

	if res.ProviderID != "" {
		d.ProviderID = res.ProviderID
	}
	if res.AccessKey != "" {
		d.AccessKey = res.AccessKey
	}
	if res.Protocol != "" {
		d.Protocol = res.Protocol
	}
	if res.PDFLocator != "" {
		d.PDFLocator = res.PDFLocator
	}
	if res.XMLLocator != "" {
		d.XMLLocator = res.XMLLocator
	}

	switch res.Status {
	case StatusAuthorized:
		d.ErrorMessage = ""
		if d.IssuedAt == nil {
			now := time.Now().UTC()
			d.IssuedAt = &now
		}
		return d.moveTo(StatusAuthorized)
	case StatusRejected:
		d.ErrorMessage = res.ErrorMessage
		return d.moveTo(StatusRejected)
	case StatusCancelled:
		return d.moveTo(StatusCancelled)
	case StatusProcessing, StatusPending:
		if d.Status == StatusPending {
			return d.moveTo(StatusProcessing)
		}
	}
	d.Touch()
	return nil
}

// moveTo is Transition that tolerates a repeated report of the current status.
func (d *FiscalDocument) moveTo(to Status) error {
	if d.Status == to {
		d.Touch()
		return nil
	}
	return d.Transition(to)
}
