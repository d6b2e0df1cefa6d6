package focusnfe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/infrastructure/gateway"
)

const token = "focus-token"

func newAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _, ok := r.BasicAuth()
		if !ok || user != token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		h(w, r)
	}))
	t.Cleanup(srv.Close)
	return New(Options{
		BaseURL:    srv.URL,
		Token:      token,
		Timeouts:   gateway.Timeouts{Emit: time.Second, Query: time.Second},
		HTTPClient: srv.Client(),
	})
}

func TestEmitGoods_ProcessingIsProvisionalSuccess(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v2/nfe", r.URL.Path)
		assert.Equal(t, "order-1001", r.URL.Query().Get("ref"))
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"numero":41}`, string(body))
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte(`{"cnpj_emitente":"12345678000195","ref":"order-1001","status":"processando_autorizacao"}`))
	})

	res := a.EmitGoods(context.Background(), "order-1001", []byte(`{"numero":41}`))
	assert.True(t, res.Success)
	assert.Equal(t, fiscal.StatusProcessing, res.Status)
	assert.Equal(t, fiscal.FailureNone, res.Failure)
	assert.Contains(t, string(res.RawResponse), "processando_autorizacao")
}

func TestQueryStatus_Authorized(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/nfe/order-1001", r.URL.Path)
		_, _ = w.Write([]byte(`{
			"status": "autorizado",
			"status_sefaz": "100",
			"mensagem_sefaz": "Autorizado o uso da NF-e",
			"chave_nfe": "NFe35260312345678000195550010000000411000000410",
			"protocolo": "135260000000041",
			"caminho_xml_nota_fiscal": "/arquivos/nfe.xml",
			"caminho_danfe": "/arquivos/danfe.pdf"
		}`))
	})

	res := a.QueryStatus(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-1001"})
	require.True(t, res.Success)
	assert.Equal(t, fiscal.StatusAuthorized, res.Status)
	assert.Equal(t, "35260312345678000195550010000000411000000410", res.AccessKey)
	assert.Equal(t, "135260000000041", res.Protocol)
	assert.Equal(t, "/arquivos/danfe.pdf", res.PDFLocator)
	assert.Equal(t, "/arquivos/nfe.xml", res.XMLLocator)
}

func TestEmit_Rejection(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"erro_autorizacao","status_sefaz":"539","mensagem_sefaz":"Rejeição: Duplicidade de NF-e"}`))
	})

	res := a.EmitGoods(context.Background(), "order-2", []byte(`{}`))
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
	assert.Equal(t, fiscal.StatusRejected, res.Status)
	assert.Equal(t, "Rejeição: Duplicidade de NF-e", res.ErrorMessage)
	assert.NotEmpty(t, res.RawResponse)
}

func TestEmit_SchemaErrorIsRejection(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"codigo":"erro_validacao_schema","mensagem":"Erro na validação do schema","erros":[{"codigo":"x","mensagem":"cfop inválido"}]}`))
	})

	res := a.EmitServices(context.Background(), "os-1", []byte(`{}`))
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
	assert.Equal(t, "Erro na validação do schema", res.ErrorMessage)
}

func TestEmit_ServerErrorIsUnreachable(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`<html>502</html>`))
	})

	res := a.EmitGoods(context.Background(), "order-3", []byte(`{}`))
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureUnreachable, res.Failure)
	assert.Equal(t, "<html>502</html>", string(res.RawResponse))
}

func TestEmit_WrongTokenIsAuthFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()
	a := New(Options{BaseURL: srv.URL, Token: "wrong", HTTPClient: srv.Client()})

	res := a.EmitGoods(context.Background(), "order-4", []byte(`{}`))
	assert.Equal(t, fiscal.FailureAuth, res.Failure)
	assert.True(t, res.Failure.Retryable())
	assert.Equal(t, int32(2), calls.Load())
}

func TestEmitServices_AuthorizedSynchronously(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/nfse", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"status":"autorizado","numero":"1234","codigo_verificacao":"AB12CD34","url_danfse":"https://nfse.example/danfse/1234","caminho_xml_nota_fiscal":"/arquivos/nfse.xml"}`))
	})

	res := a.EmitServices(context.Background(), "os-2", []byte(`{}`))
	require.True(t, res.Success)
	assert.Equal(t, fiscal.StatusAuthorized, res.Status)
	assert.Equal(t, "AB12CD34", res.AccessKey)
	assert.Equal(t, "https://nfse.example/danfse/1234", res.PDFLocator)
}

func TestCancel(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		assert.Equal(t, "/v2/nfe/order-5", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"justificativa":"Pedido cancelado pelo cliente"}`, string(body))
		_, _ = w.Write([]byte(`{"status_sefaz":"135","mensagem_sefaz":"Evento registrado","status":"cancelado"}`))
	})

	res := a.Cancel(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-5"}, "Pedido cancelado pelo cliente")
	assert.True(t, res.Success)
	assert.Equal(t, fiscal.StatusCancelled, res.Status)
}

func TestCancel_JustificationIsEscaped(t *testing.T) {
	const justification = `Cliente desistiu "pedido 12" \ devolução`
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		var req cancelRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, justification, req.Justificativa)
		_, _ = w.Write([]byte(`{"status":"cancelado"}`))
	})

	res := a.Cancel(context.Background(), fiscal.Reference{Family: numerator.FamilyNFSe, Ref: "os-9"}, justification)
	assert.True(t, res.Success)
	assert.Equal(t, fiscal.StatusCancelled, res.Status)
}

func TestCancel_Refused(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"erro_cancelamento","status_sefaz":"501","mensagem_sefaz":"Rejeição: Prazo de cancelamento superior ao previsto"}`))
	})

	res := a.Cancel(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-6"}, "Pedido cancelado pelo cliente")
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
	assert.Equal(t, fiscal.StatusAuthorized, res.Status)
	assert.Contains(t, res.ErrorMessage, "Prazo de cancelamento")
}

func TestDownloadPDF(t *testing.T) {
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/nfe/order-7":
			_, _ = w.Write([]byte(`{"status":"autorizado","caminho_danfe":"/arquivos/danfe-7.pdf"}`))
		case "/arquivos/danfe-7.pdf":
			assert.Equal(t, "application/pdf", r.Header.Get("Accept"))
			_, _ = w.Write([]byte("%PDF-1.4 danfe"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	data, res := a.DownloadPDF(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-7"})
	require.True(t, res.Success)
	assert.Equal(t, "%PDF-1.4 danfe", string(data))

	_, res = a.DownloadXML(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-7"})
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
}

func TestQueryAuthorityStatus(t *testing.T) {
	var online atomic.Bool
	online.Store(true)
	a := newAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v2/sefaz_status", r.URL.Path)
		assert.Equal(t, "SP", r.URL.Query().Get("uf"))
		if online.Load() {
			_, _ = w.Write([]byte(`{"status":"online","status_sefaz":"107","mensagem":"Serviço em Operação"}`))
			return
		}
		_, _ = w.Write([]byte(`{"status":"offline","status_sefaz":"108","mensagem":"Serviço Paralisado Momentaneamente"}`))
	})

	assert.True(t, a.QueryAuthorityStatus(context.Background(), "sp").Success)

	online.Store(false)
	res := a.QueryAuthorityStatus(context.Background(), "SP")
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureUnreachable, res.Failure)
}

func TestStatusVocabulary(t *testing.T) {
	for _, w := range []string{"autorizado", "AUTORIZADO", "autorizada"} {
		s, ok := statuses.Normalize(w)
		assert.True(t, ok)
		assert.Equal(t, fiscal.StatusAuthorized, s)
	}
	for w, want := range map[string]fiscal.Status{
		"cancelado":               fiscal.StatusCancelled,
		"erro_autorizacao":        fiscal.StatusRejected,
		"denegado":                fiscal.StatusRejected,
		"processando_autorizacao": fiscal.StatusProcessing,
	} {
		s, ok := statuses.Normalize(w)
		assert.True(t, ok, w)
		assert.Equal(t, want, s, w)
	}
}

func TestFactory(t *testing.T) {
	f := Factory(gateway.Timeouts{}, nil)
	gw, err := f(&fiscal.Profile{Provider: Name}, gateway.Credentials{Token: "t", Environment: "homologacao"})
	require.NoError(t, err)
	assert.Equal(t, Name, gw.Name())
	assert.Equal(t, gateway.DefaultEmitTimeout, gw.(*Adapter).timeouts.Emit)
}
