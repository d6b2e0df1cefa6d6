package fiscal

import (
	"context"

	"fiscalhub/internal/core/numerator"
)

// FailureKind tags why a gateway call did not succeed. Callers branch on it
// instead of inspecting errors.
type FailureKind string

const (
	FailureNone FailureKind = "none"
	// FailureRejected: the authority refused the document. It needs a corrected new document.
	FailureRejected FailureKind = "rejected"
	// FailureUnreachable: transport error, timeout or 5xx. Candidate for contingency.
	FailureUnreachable FailureKind = "unreachable"
	// FailureAuth: credentials were refused after one re-authentication.
	FailureAuth FailureKind = "auth"
	// FailureValidation: the gateway refused the payload schema before reaching the authority.
	FailureValidation FailureKind = "validation"
)

// Retryable reports whether the document should be queued for contingency.
// Credential failures are treated like an unreachable authority.
func (k FailureKind) Retryable() bool {
	return k == FailureUnreachable || k == FailureAuth
}

// GatewayResult is what every gateway call returns. Transport errors never
// escape a Gateway; they become a result with Success false.
type GatewayResult struct {
	Success      bool
	ProviderID   string
	AccessKey    string
	Protocol     string
	Status       Status
	PDFLocator   string
	XMLLocator   string
	RawResponse  []byte
	ErrorMessage string
	Failure      FailureKind
}

// Failed builds an unsuccessful result.
func Failed(kind FailureKind, message string, raw []byte) GatewayResult {
	return GatewayResult{Failure: kind, ErrorMessage: message, RawResponse: raw}
}

// Reference addresses an already submitted document at the provider.
type Reference struct {
	Family numerator.Family
	// Ref is the reference the document was submitted with.
	Ref string
	// ProviderID is the provider's own id, when it assigned one.
	ProviderID string
}

// Gateway is the capability set every provider adapter implements.
type Gateway interface {
	// Name identifies the adapter in logs and document records.
	Name() string
	EmitGoods(ctx context.Context, ref string, body []byte) GatewayResult
	EmitServices(ctx context.Context, ref string, body []byte) GatewayResult
	QueryStatus(ctx context.Context, ref Reference) GatewayResult
	Cancel(ctx context.Context, ref Reference, justification string) GatewayResult
	DownloadPDF(ctx context.Context, ref Reference) ([]byte, GatewayResult)
	DownloadXML(ctx context.Context, ref Reference) ([]byte, GatewayResult)
	// QueryAuthorityStatus probes the tax authority of a region (UF).
	// Success means the authority is accepting documents.
	QueryAuthorityStatus(ctx context.Context, region string) GatewayResult
}

// GatewayResolver returns the single active adapter for a tenant.
type GatewayResolver interface {
	Resolve(ctx context.Context, tenantID string) (Gateway, error)
}

// Emit sends body through the endpoint matching the document family.
func Emit(ctx context.Context, gw Gateway, family numerator.Family, ref string, body []byte) GatewayResult {
	if family == numerator.FamilyNFSe {
		return gw.EmitServices(ctx, ref, body)
	}
	return gw.EmitGoods(ctx, ref, body)
}
