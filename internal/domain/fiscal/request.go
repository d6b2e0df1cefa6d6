package fiscal

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/id"
	"fiscalhub/internal/domain/fiscal/payload"
)

// EmissionRequest is what a caller asks the core to emit.
type EmissionRequest struct {
	Kind      Kind   `json:"kind" validate:"required"`
	Reference string `json:"reference" validate:"required,max=64,printascii"`
	// Series is optional; the counter's series is used when empty.
	Series   string `json:"series" validate:"omitempty,alphanum,max=5"`
	ParentID *id.ID `json:"parent_id,omitempty"`

	Recipient payload.Recipient    `json:"recipient"`
	Items     []payload.Item       `json:"items,omitempty"`
	Service   *payload.Service     `json:"service,omitempty"`
	Nature    string               `json:"nature,omitempty" validate:"max=60"`
	Options   payload.GoodsOptions `json:"options"`
	IssuedAt  *time.Time           `json:"issued_at,omitempty"`
}

var validate = validator.New()

// Validate checks the request shape. Tax data is checked by the payload builders.
func (r *EmissionRequest) Validate() error {
	if err := validate.Struct(r); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			fields := make(map[string]string, len(ve))
			for _, fe := range ve {
				fields[fe.Field()] = fe.Tag()
			}
			return apperror.NewValidation("invalid emission request").WithDetail("fields", fields)
		}
		return apperror.NewValidation(err.Error())
	}

	if !r.Kind.Valid() {
		return apperror.NewValidation("unknown document kind").WithDetail("kind", r.Kind)
	}
	if r.Kind.IsService() {
		if r.Service == nil {
			return apperror.NewValidation("service is required for " + string(r.Kind)).
				WithDetail("field", "service")
		}
	} else if r.Service != nil {
		return apperror.NewValidation("service is only accepted for " + string(KindServiceInvoice)).
			WithDetail("field", "service")
	}
	if r.Kind.RequiresParent() && (r.ParentID == nil || id.IsNil(*r.ParentID)) {
		return apperror.NewValidation(string(r.Kind) + " must reference the original document").
			WithDetail("field", "parent_id")
	}
	return nil
}

// EmissionResult is the structured outcome of Emit. Expected upstream failures
// are reported here, never as errors.
type EmissionResult struct {
	Success  bool            `json:"success"`
	Document *FiscalDocument `json:"document"`
	Failure  FailureKind     `json:"failure"`
	Error    string          `json:"error,omitempty"`
}

func resultOf(doc *FiscalDocument, res GatewayResult) *EmissionResult {
	out := &EmissionResult{Document: doc, Failure: res.Failure, Error: res.ErrorMessage}
	if out.Failure == "" {
		out.Failure = FailureNone
	}
	switch doc.Status {
	case StatusAuthorized, StatusProcessing, StatusCancelled:
		out.Success = res.Success
	case StatusRejected:
		if out.Failure == FailureNone {
			out.Failure = FailureRejected
		}
	}
	return out
}
