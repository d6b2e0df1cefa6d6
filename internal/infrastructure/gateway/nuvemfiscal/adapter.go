// Package nuvemfiscal is the gateway adapter for the Nuvem Fiscal API. It
// authenticates with OAuth2 client credentials and submits documents in the
// API's own layout, translated from the canonical payloads.
package nuvemfiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/domain/fiscal/payload"
	"fiscalhub/internal/infrastructure/gateway"
	"fiscalhub/internal/infrastructure/gateway/oauth"
)

// Vendor endpoints.
const (
	ProductionURL   = "https://api.nuvemfiscal.com.br"
	HomologationURL = "https://api.sandbox.nuvemfiscal.com.br"
	TokenURL        = "https://auth.nuvemfiscal.com.br/oauth/token"
)

// Scopes requested for every token.
var Scopes = []string{"empresa", "nfe", "nfse"}

// Name is the provider name stored in fiscal profiles.
const Name = fiscal.ProviderNuvemFiscal

var statuses = gateway.NewStatusNormalizer(map[fiscal.Status][]string{
	fiscal.StatusAuthorized: {"autorizado", "autorizada", "concluido"},
	fiscal.StatusCancelled:  {"cancelado", "cancelada"},
	fiscal.StatusRejected:   {"rejeitado", "denegado", "negada", "erro"},
	fiscal.StatusProcessing: {"processando", "pendente"},
})

// Options configures one Nuvem Fiscal account.
type Options struct {
	BaseURL string
	// Environment is EnvProduction or EnvHomologation.
	Environment string
	// IssuerCNPJ scopes reference lookups and authority probes.
	IssuerCNPJ  string
	Credentials gateway.CredentialSource
	Timeouts    gateway.Timeouts
	HTTPClient  *http.Client
}

// Adapter implements fiscal.Gateway.
type Adapter struct {
	client   *gateway.Client
	env      string
	cnpj     string
	timeouts gateway.Timeouts
}

// New creates an adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = ProductionURL
	}
	if opts.Environment == "" {
		opts.Environment = EnvHomologation
	}
	return &Adapter{
		client:   gateway.NewClient(Name, opts.BaseURL, opts.Credentials, opts.HTTPClient),
		env:      opts.Environment,
		cnpj:     payload.Digits(opts.IssuerCNPJ),
		timeouts: opts.Timeouts.WithDefaults(),
	}
}

// Factory builds adapters for tenant profiles. Tokens are kept in cache, which
// may be shared by every tenant; entries are keyed by client id.
func Factory(timeouts gateway.Timeouts, httpClient *http.Client, cache oauth.TokenCache, tokenURL string) gateway.Factory {
	if tokenURL == "" {
		tokenURL = TokenURL
	}
	return func(p *fiscal.Profile, creds gateway.Credentials) (fiscal.Gateway, error) {
		env, base := EnvProduction, ProductionURL
		if creds.Sandbox() {
			env, base = EnvHomologation, HomologationURL
		}
		if p.BaseURL != "" {
			base = p.BaseURL
		}
		source := oauth.NewClientCredentials(oauth.Config{
			TokenURL:     tokenURL,
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			Scopes:       Scopes,
		}, cache, httpClient)

		return New(Options{
			BaseURL:     base,
			Environment: env,
			IssuerCNPJ:  p.Issuer.CNPJ,
			Credentials: source,
			Timeouts:    timeouts,
			HTTPClient:  httpClient,
		}), nil
	}
}

func (a *Adapter) Name() string { return Name }

type message struct {
	Codigo    string `json:"codigo"`
	Descricao string `json:"descricao"`
	Correcao  string `json:"correcao"`
}

type authorization struct {
	NumeroProtocolo string `json:"numero_protocolo"`
	CodigoStatus    int    `json:"codigo_status"`
	MotivoStatus    string `json:"motivo_status"`
}

// document is the union of the NF-e, NFS-e and cancellation answers.
type document struct {
	ID                string         `json:"id"`
	Status            string         `json:"status"`
	Chave             string         `json:"chave"`
	CodigoVerificacao string         `json:"codigo_verificacao"`
	CodigoStatus      int            `json:"codigo_status"`
	MotivoStatus      string         `json:"motivo_status"`
	Autorizacao       *authorization `json:"autorizacao"`
	Mensagens         []message      `json:"mensagens"`
}

func (d document) message() string {
	if d.Autorizacao != nil && d.Autorizacao.MotivoStatus != "" {
		return d.Autorizacao.MotivoStatus
	}
	if d.MotivoStatus != "" {
		return d.MotivoStatus
	}
	msgs := make([]string, 0, len(d.Mensagens))
	for _, m := range d.Mensagens {
		msgs = append(msgs, m.Descricao)
	}
	return strings.Join(msgs, "; ")
}

func (a *Adapter) EmitGoods(ctx context.Context, ref string, body []byte) fiscal.GatewayResult {
	translated, err := translateGoods(a.env, ref, body)
	if err != nil {
		return fiscal.Failed(fiscal.FailureValidation, err.Error(), nil)
	}
	return a.emit(ctx, numerator.FamilyNFe, translated)
}

func (a *Adapter) EmitServices(ctx context.Context, ref string, body []byte) fiscal.GatewayResult {
	translated, err := translateServices(a.env, ref, body)
	if err != nil {
		return fiscal.Failed(fiscal.FailureValidation, err.Error(), nil)
	}
	return a.emit(ctx, numerator.FamilyNFSe, translated)
}

func (a *Adapter) emit(ctx context.Context, family numerator.Family, body []byte) fiscal.GatewayResult {
	path := "/nfe"
	if family == numerator.FamilyNFSe {
		path = "/nfse/dps"
	}
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "emit_" + string(family),
		Method:    http.MethodPost,
		Path:      path,
		Body:      body,
		Timeout:   a.timeouts.Emit,
	})
	return result(resp, err)
}

func (a *Adapter) QueryStatus(ctx context.Context, ref fiscal.Reference) fiscal.GatewayResult {
	if ref.ProviderID == "" {
		return a.findByReference(ctx, ref)
	}
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "status_" + string(ref.Family),
		Method:    http.MethodGet,
		Path:      "/" + string(ref.Family) + "/" + url.PathEscape(ref.ProviderID),
		Timeout:   a.timeouts.Query,
	})
	return result(resp, err)
}

// findByReference lists the issuer's documents filtered by our reference. It
// serves documents whose emission answer was lost before the id was stored.
func (a *Adapter) findByReference(ctx context.Context, ref fiscal.Reference) fiscal.GatewayResult {
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "lookup_" + string(ref.Family),
		Method:    http.MethodGet,
		Path:      "/" + string(ref.Family),
		Query: url.Values{
			"cpf_cnpj":   {a.cnpj},
			"ambiente":   {a.env},
			"referencia": {ref.Ref},
			"$top":       {"1"},
		},
		Timeout: a.timeouts.Query,
	})
	if err != nil || !resp.OK() {
		return gateway.Failure(resp, err, nil)
	}

	var list struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(resp.Body, &list); err != nil {
		return fiscal.Failed(fiscal.FailureRejected, "unreadable provider answer", resp.Body)
	}
	if len(list.Data) == 0 {
		// Not visible yet; the submission may still be in flight.
		return fiscal.Failed(fiscal.FailureUnreachable, "no document with reference "+ref.Ref, resp.Body)
	}
	return decode(list.Data[0])
}

type cancelRequest struct {
	Justificativa string `json:"justificativa"`
}

func (a *Adapter) Cancel(ctx context.Context, ref fiscal.Reference, justification string) fiscal.GatewayResult {
	id, res := a.resolveID(ctx, ref)
	if id == "" {
		return res
	}
	body, err := json.Marshal(cancelRequest{Justificativa: justification})
	if err != nil {
		return fiscal.Failed(fiscal.FailureValidation, fmt.Sprintf("encode cancellation: %v", err), nil)
	}
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "cancel_" + string(ref.Family),
		Method:    http.MethodPost,
		Path:      "/" + string(ref.Family) + "/" + url.PathEscape(id) + "/cancelamento",
		Body:      body,
		Timeout:   a.timeouts.Emit,
	})
	if err != nil || !resp.OK() {
		return gateway.Failure(resp, err, documentMessage)
	}

	var d document
	if err := json.Unmarshal(resp.Body, &d); err != nil {
		return fiscal.Failed(fiscal.FailureRejected, "unreadable provider answer", resp.Body)
	}
	switch strings.ToLower(d.Status) {
	case "registrado", "concluido", "homologado", "cancelado":
		return fiscal.GatewayResult{Success: true, ProviderID: id, Status: fiscal.StatusCancelled, RawResponse: resp.Body, Failure: fiscal.FailureNone}
	case "pendente", "processando":
		return fiscal.GatewayResult{Success: true, ProviderID: id, Status: fiscal.StatusProcessing, RawResponse: resp.Body, Failure: fiscal.FailureNone}
	}
	res = fiscal.Failed(fiscal.FailureRejected, d.message(), resp.Body)
	res.Status = fiscal.StatusAuthorized
	return res
}

func (a *Adapter) DownloadPDF(ctx context.Context, ref fiscal.Reference) ([]byte, fiscal.GatewayResult) {
	return a.download(ctx, ref, "pdf", "application/pdf")
}

func (a *Adapter) DownloadXML(ctx context.Context, ref fiscal.Reference) ([]byte, fiscal.GatewayResult) {
	return a.download(ctx, ref, "xml", "application/xml")
}

func (a *Adapter) download(ctx context.Context, ref fiscal.Reference, kind, accept string) ([]byte, fiscal.GatewayResult) {
	id, res := a.resolveID(ctx, ref)
	if id == "" {
		return nil, res
	}
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "download_" + string(ref.Family),
		Method:    http.MethodGet,
		Path:      "/" + string(ref.Family) + "/" + url.PathEscape(id) + "/" + kind,
		Accept:    accept,
		Timeout:   a.timeouts.Query,
	})
	if err != nil || !resp.OK() {
		return nil, gateway.Failure(resp, err, nil)
	}
	return resp.Body, fiscal.GatewayResult{Success: true, ProviderID: id, Failure: fiscal.FailureNone}
}

// resolveID returns the provider id of ref, looking it up when unknown. An
// empty id comes with the failed lookup result.
func (a *Adapter) resolveID(ctx context.Context, ref fiscal.Reference) (string, fiscal.GatewayResult) {
	if ref.ProviderID != "" {
		return ref.ProviderID, fiscal.GatewayResult{}
	}
	res := a.findByReference(ctx, ref)
	if !res.Success && res.ProviderID == "" {
		return "", res
	}
	if res.ProviderID == "" {
		return "", fiscal.Failed(fiscal.FailureRejected, "provider answer has no document id", res.RawResponse)
	}
	return res.ProviderID, res
}

// QueryAuthorityStatus asks for the SEFAZ service status of the issuer's UF.
func (a *Adapter) QueryAuthorityStatus(ctx context.Context, region string) fiscal.GatewayResult {
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "authority_status",
		Method:    http.MethodGet,
		Path:      "/nfe/sefaz/status",
		Query:     url.Values{"cpf_cnpj": {a.cnpj}, "autorizador": {strings.ToUpper(region)}},
		Timeout:   a.timeouts.Query,
	})
	if err != nil || !resp.OK() {
		return gateway.Failure(resp, err, nil)
	}

	var st struct {
		CodigoStatus int    `json:"codigo_status"`
		MotivoStatus string `json:"motivo_status"`
	}
	if err := json.Unmarshal(resp.Body, &st); err != nil {
		return fiscal.Failed(fiscal.FailureUnreachable, "unreadable status answer", resp.Body)
	}
	if st.CodigoStatus != 107 {
		return fiscal.Failed(fiscal.FailureUnreachable, "authority "+region+" unavailable: "+st.MotivoStatus, resp.Body)
	}
	return fiscal.GatewayResult{Success: true, Failure: fiscal.FailureNone, RawResponse: resp.Body}
}

func documentMessage(b []byte) string {
	var d document
	if json.Unmarshal(b, &d) != nil {
		return ""
	}
	return d.message()
}

func result(resp *gateway.Response, err error) fiscal.GatewayResult {
	if err != nil || !resp.OK() {
		return gateway.Failure(resp, err, documentMessage)
	}
	return decode(resp.Body)
}

// decode folds a document answer into a GatewayResult.
func decode(body []byte) fiscal.GatewayResult {
	var d document
	if err := json.Unmarshal(body, &d); err != nil {
		return fiscal.Failed(fiscal.FailureRejected, "unreadable provider answer", body)
	}

	status, ok := statuses.Normalize(d.Status)
	if !ok {
		status = fiscal.StatusProcessing
	}
	if status == fiscal.StatusRejected {
		res := fiscal.Failed(fiscal.FailureRejected, d.message(), body)
		res.ProviderID = d.ID
		res.Status = fiscal.StatusRejected
		return res
	}

	key := payload.Digits(d.Chave)
	if key == "" {
		key = d.CodigoVerificacao
	}
	res := fiscal.GatewayResult{
		Success:     true,
		ProviderID:  d.ID,
		Status:      status,
		AccessKey:   key,
		RawResponse: body,
		Failure:     fiscal.FailureNone,
	}
	if d.Autorizacao != nil {
		res.Protocol = d.Autorizacao.NumeroProtocolo
	}
	return res
}

var _ fiscal.Gateway = (*Adapter)(nil)
