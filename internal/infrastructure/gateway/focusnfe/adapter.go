// Package focusnfe is the gateway adapter for the Focus NFe REST API: token
// basic auth, documents addressed by the caller reference.
package focusnfe

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
)

// Vendor base URLs.
const (
	ProductionURL   = "https://api.focusnfe.com.br"
	HomologationURL = "https://homologacao.focusnfe.com.br"
)

// Name is the provider name stored in fiscal profiles.
const Name = fiscal.ProviderFocusNFe

var statuses = gateway.NewStatusNormalizer(map[fiscal.Status][]string{
	fiscal.StatusAuthorized: {"autorizado", "autorizada"},
	fiscal.StatusCancelled:  {"cancelado", "cancelada"},
	fiscal.StatusRejected:   {"erro_autorizacao", "denegado", "rejeitado"},
	fiscal.StatusProcessing: {"processando_autorizacao", "processando"},
})

// Options configures one Focus NFe account.
type Options struct {
	BaseURL    string
	Token      string
	Timeouts   gateway.Timeouts
	HTTPClient *http.Client
}

// Adapter implements fiscal.Gateway.
type Adapter struct {
	client   *gateway.Client
	timeouts gateway.Timeouts
}

// New creates an adapter.
func New(opts Options) *Adapter {
	if opts.BaseURL == "" {
		opts.BaseURL = ProductionURL
	}
	return &Adapter{
		client:   gateway.NewClient(Name, opts.BaseURL, gateway.BasicToken(opts.Token), opts.HTTPClient),
		timeouts: opts.Timeouts.WithDefaults(),
	}
}

// Factory builds adapters for tenant profiles.
func Factory(timeouts gateway.Timeouts, httpClient *http.Client) gateway.Factory {
	return func(p *fiscal.Profile, creds gateway.Credentials) (fiscal.Gateway, error) {
		base := p.BaseURL
		if base == "" {
			base = ProductionURL
			if creds.Sandbox() {
				base = HomologationURL
			}
		}
		return New(Options{BaseURL: base, Token: creds.Token, Timeouts: timeouts, HTTPClient: httpClient}), nil
	}
}

func (a *Adapter) Name() string { return Name }

// response is the union of the NF-e and NFS-e answers.
type response struct {
	Status            string `json:"status"`
	StatusSefaz       string `json:"status_sefaz"`
	MensagemSefaz     string `json:"mensagem_sefaz"`
	Mensagem          string `json:"mensagem"`
	ChaveNFe          string `json:"chave_nfe"`
	Protocolo         string `json:"protocolo"`
	CodigoVerificacao string `json:"codigo_verificacao"`
	CaminhoXML        string `json:"caminho_xml_nota_fiscal"`
	CaminhoDANFE      string `json:"caminho_danfe"`
	URLDANFSE         string `json:"url_danfse"`
	Erros             []struct {
		Mensagem string `json:"mensagem"`
	} `json:"erros"`
}

func (r response) message() string {
	if r.MensagemSefaz != "" {
		return r.MensagemSefaz
	}
	if r.Mensagem != "" {
		return r.Mensagem
	}
	msgs := make([]string, 0, len(r.Erros))
	for _, e := range r.Erros {
		msgs = append(msgs, e.Mensagem)
	}
	return strings.Join(msgs, "; ")
}

func (a *Adapter) EmitGoods(ctx context.Context, ref string, body []byte) fiscal.GatewayResult {
	return a.emit(ctx, numerator.FamilyNFe, ref, body)
}

func (a *Adapter) EmitServices(ctx context.Context, ref string, body []byte) fiscal.GatewayResult {
	return a.emit(ctx, numerator.FamilyNFSe, ref, body)
}

func (a *Adapter) emit(ctx context.Context, family numerator.Family, ref string, body []byte) fiscal.GatewayResult {
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "emit_" + string(family),
		Method:    http.MethodPost,
		Path:      "/v2/" + string(family),
		Query:     url.Values{"ref": {ref}},
		Body:      body,
		Timeout:   a.timeouts.Emit,
	})
	return a.result(resp, err)
}

func (a *Adapter) QueryStatus(ctx context.Context, ref fiscal.Reference) fiscal.GatewayResult {
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "status_" + string(ref.Family),
		Method:    http.MethodGet,
		Path:      documentPath(ref),
		Timeout:   a.timeouts.Query,
	})
	return a.result(resp, err)
}

type cancelRequest struct {
	Justificativa string `json:"justificativa"`
}

func (a *Adapter) Cancel(ctx context.Context, ref fiscal.Reference, justification string) fiscal.GatewayResult {
	body, err := json.Marshal(cancelRequest{Justificativa: justification})
	if err != nil {
		return fiscal.Failed(fiscal.FailureValidation, fmt.Sprintf("encode cancellation: %v", err), nil)
	}
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "cancel_" + string(ref.Family),
		Method:    http.MethodDelete,
		Path:      documentPath(ref),
		Body:      body,
		Timeout:   a.timeouts.Emit,
	})
	if err == nil && resp.OK() {
		var r response
		if json.Unmarshal(resp.Body, &r) == nil && strings.EqualFold(r.Status, "erro_cancelamento") {
			res := fiscal.Failed(fiscal.FailureRejected, r.message(), resp.Body)
			res.Status = fiscal.StatusAuthorized
			return res
		}
	}
	return a.result(resp, err)
}

func (a *Adapter) DownloadPDF(ctx context.Context, ref fiscal.Reference) ([]byte, fiscal.GatewayResult) {
	return a.download(ctx, ref, "application/pdf", func(r fiscal.GatewayResult) string { return r.PDFLocator })
}

func (a *Adapter) DownloadXML(ctx context.Context, ref fiscal.Reference) ([]byte, fiscal.GatewayResult) {
	return a.download(ctx, ref, "application/xml", func(r fiscal.GatewayResult) string { return r.XMLLocator })
}

// download looks the file path up in the document status, then fetches it.
func (a *Adapter) download(ctx context.Context, ref fiscal.Reference, accept string, locator func(fiscal.GatewayResult) string) ([]byte, fiscal.GatewayResult) {
	status := a.QueryStatus(ctx, ref)
	if !status.Success {
		return nil, status
	}
	path := locator(status)
	if path == "" {
		return nil, fiscal.Failed(fiscal.FailureRejected, "document has no file of this type yet", status.RawResponse)
	}

	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "download_" + string(ref.Family),
		Method:    http.MethodGet,
		Path:      path,
		Accept:    accept,
		Timeout:   a.timeouts.Query,
	})
	if err != nil || !resp.OK() {
		return nil, gateway.Failure(resp, err, nil)
	}
	return resp.Body, fiscal.GatewayResult{Success: true, Failure: fiscal.FailureNone, Status: status.Status}
}

// QueryAuthorityStatus asks for the SEFAZ service status of a UF.
func (a *Adapter) QueryAuthorityStatus(ctx context.Context, region string) fiscal.GatewayResult {
	resp, err := a.client.Do(ctx, gateway.Request{
		Operation: "authority_status",
		Method:    http.MethodGet,
		Path:      "/v2/sefaz_status",
		Query:     url.Values{"uf": {strings.ToUpper(region)}},
		Timeout:   a.timeouts.Query,
	})
	if err != nil || !resp.OK() {
		return gateway.Failure(resp, err, nil)
	}

	var r response
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return fiscal.Failed(fiscal.FailureUnreachable, "unreadable status answer", resp.Body)
	}
	switch strings.ToLower(r.Status) {
	case "online", "operacional", "em_operacao":
		return fiscal.GatewayResult{Success: true, Failure: fiscal.FailureNone, RawResponse: resp.Body}
	}
	if r.StatusSefaz == "107" {
		return fiscal.GatewayResult{Success: true, Failure: fiscal.FailureNone, RawResponse: resp.Body}
	}
	return fiscal.Failed(fiscal.FailureUnreachable, "authority "+region+" unavailable: "+r.message(), resp.Body)
}

// result folds a document answer into a GatewayResult.
func (a *Adapter) result(resp *gateway.Response, err error) fiscal.GatewayResult {
	if err != nil || !resp.OK() {
		return gateway.Failure(resp, err, func(b []byte) string {
			var r response
			if json.Unmarshal(b, &r) != nil {
				return ""
			}
			return r.message()
		})
	}

	var r response
	if err := json.Unmarshal(resp.Body, &r); err != nil {
		return fiscal.Failed(fiscal.FailureRejected, "unreadable provider answer", resp.Body)
	}

	status, ok := statuses.Normalize(r.Status)
	if !ok {
		status = fiscal.StatusProcessing
	}
	if status == fiscal.StatusRejected {
		res := fiscal.Failed(fiscal.FailureRejected, r.message(), resp.Body)
		res.Status = fiscal.StatusRejected
		return res
	}

	key := payload.Digits(r.ChaveNFe)
	if key == "" {
		key = r.CodigoVerificacao
	}
	pdf := r.CaminhoDANFE
	if pdf == "" {
		pdf = r.URLDANFSE
	}
	return fiscal.GatewayResult{
		Success:     true,
		Status:      status,
		AccessKey:   key,
		Protocol:    r.Protocolo,
		PDFLocator:  pdf,
		XMLLocator:  r.CaminhoXML,
		RawResponse: resp.Body,
		Failure:     fiscal.FailureNone,
	}
}

func documentPath(ref fiscal.Reference) string {
	return "/v2/" + string(ref.Family) + "/" + url.PathEscape(ref.Ref)
}

var _ fiscal.Gateway = (*Adapter)(nil)
