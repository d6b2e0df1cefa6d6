package nuvemfiscal

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/domain/fiscal"
	"fiscalhub/internal/domain/fiscal/payload"
	"fiscalhub/internal/infrastructure/gateway"
	"fiscalhub/internal/infrastructure/gateway/oauth"
)

// fakeAPI serves both the token endpoint and the API. Tokens are "tok-N";
// only the latest one is accepted.
type fakeAPI struct {
	*httptest.Server
	issued  atomic.Int32
	revoked atomic.Bool
	handler http.HandlerFunc
}

func newFakeAPI(t *testing.T, h http.HandlerFunc) *fakeAPI {
	t.Helper()
	f := &fakeAPI{handler: h}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/oauth/token" {
			_ = r.ParseForm()
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "empresa nfe nfse", r.PostForm.Get("scope"))
			n := f.issued.Add(1)
			fmt.Fprintf(w, `{"access_token":"tok-%d","token_type":"bearer","expires_in":2592000}`, n)
			return
		}
		current := fmt.Sprintf("Bearer tok-%d", f.issued.Load())
		if f.revoked.CompareAndSwap(true, false) || r.Header.Get("Authorization") != current {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":{"code":"Unauthorized","message":"token expirado"}}`))
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeAPI) adapter() *Adapter {
	creds := oauth.NewClientCredentials(oauth.Config{
		TokenURL:     f.URL + "/oauth/token",
		ClientID:     "client",
		ClientSecret: "secret",
		Scopes:       Scopes,
	}, oauth.NewMemoryCache(), f.Client())
	return New(Options{
		BaseURL:     f.URL,
		Environment: EnvHomologation,
		IssuerCNPJ:  "12.345.678/0001-95",
		Credentials: creds,
		Timeouts:    gateway.Timeouts{Emit: time.Second, Query: time.Second},
		HTTPClient:  f.Client(),
	})
}

func str(s string) *string { return &s }

func goodsBody(t *testing.T) []byte {
	t.Helper()
	p := payload.GoodsPayload{
		NaturezaOperacao:          "Venda de mercadoria",
		DataEmissao:               "2026-03-10T10:00:00-03:00",
		TipoDocumento:             1,
		FinalidadeEmissao:         1,
		ConsumidorFinal:           1,
		PresencaComprador:         1,
		Serie:                     "1",
		Numero:                    41,
		CNPJEmitente:              "12345678000195",
		NomeEmitente:              "Loja Exemplo Ltda",
		CodigoMunicipioEmitente:   "3550308",
		UFEmitente:                "SP",
		InscricaoEstadualEmitente: "123456789110",
		RegimeTributarioEmitente:  1,
		NomeDestinatario:          "Cliente Exemplo",
		CPFDestinatario:           str("12345678909"),
		UFDestinatario:            "RJ",
		ValorProdutos:             "10000.00",
		ICMSBaseCalculo:           "10000.00",
		ICMSValorTotal:            "700.00",
		ValorTotal:                "10000.00",
		ModalidadeFrete:           9,
		Items: []payload.GoodsItem{{
			NumeroItem:               1,
			CodigoProduto:            "SKU-1",
			Descricao:                "Notebook",
			CodigoNCM:                "84713012",
			CFOP:                     "6102",
			UnidadeComercial:         "UN",
			QuantidadeComercial:      "1.0000",
			ValorUnitarioComercial:   "10000.0000000000",
			UnidadeTributavel:        "UN",
			QuantidadeTributavel:     "1.0000",
			ValorUnitarioTributavel:  "10000.0000000000",
			ValorBruto:               "10000.00",
			ICMSSituacaoTributaria:   "900",
			ICMSBaseCalculo:          str("10000.00"),
			ICMSAliquota:             str("7.00"),
			ICMSValor:                str("700.00"),
			PISSituacaoTributaria:    "49",
			COFINSSituacaoTributaria: "07",
		}},
		FormasPagamento:    []payload.Payment{{FormaPagamento: "01", ValorPagamento: "10000.00"}},
		NotasReferenciadas: []payload.ReferencedNote{{ChaveNFe: "35260312345678000195550010000000401000000401"}},
	}
	b, err := payload.Marshal(p)
	require.NoError(t, err)
	return b
}

func TestEmitGoods_TranslatesAndRefreshesToken(t *testing.T) {
	var body map[string]any
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/nfe", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"id":"nfe_0001","status":"autorizado","chave":"35260312345678000195550010000000411000000410","autorizacao":{"numero_protocolo":"135260000000041","codigo_status":100,"motivo_status":"Autorizado o uso da NF-e"}}`))
	})
	a := api.adapter()

	// The first token is refused once; the adapter refreshes it and retries.
	api.revoked.Store(true)

	res := a.EmitGoods(context.Background(), "order-1001", goodsBody(t))
	require.True(t, res.Success, res.ErrorMessage)
	assert.Equal(t, fiscal.StatusAuthorized, res.Status)
	assert.Equal(t, "nfe_0001", res.ProviderID)
	assert.Equal(t, "35260312345678000195550010000000411000000410", res.AccessKey)
	assert.Equal(t, "135260000000041", res.Protocol)
	assert.Equal(t, int32(2), api.issued.Load())

	assert.Equal(t, "homologacao", body["ambiente"])
	assert.Equal(t, "order-1001", body["referencia"])

	inf := body["infNFe"].(map[string]any)
	ide := inf["ide"].(map[string]any)
	assert.EqualValues(t, 35, ide["cUF"])
	assert.EqualValues(t, 41, ide["nNF"])
	assert.EqualValues(t, 2, ide["idDest"], "interstate sale")
	assert.Len(t, ide["NFref"], 1)

	det := inf["det"].([]any)[0].(map[string]any)
	imposto := det["imposto"].(map[string]any)
	icms := imposto["ICMS"].(map[string]any)["ICMSSN900"].(map[string]any)
	assert.Equal(t, "900", icms["CSOSN"])
	assert.EqualValues(t, 700, icms["vICMS"])
	assert.Contains(t, imposto["PIS"], "PISOutr")
	assert.Contains(t, imposto["COFINS"], "COFINSNT")
	assert.NotContains(t, imposto, "IPI")

	tot := inf["total"].(map[string]any)["ICMSTot"].(map[string]any)
	assert.EqualValues(t, 700, tot["vICMS"])
	assert.EqualValues(t, 10000, tot["vNF"])
}

func TestTranslateGoods_KeepsDecimalText(t *testing.T) {
	out, err := translateGoods(EnvProduction, "r", goodsBody(t))
	require.NoError(t, err)
	assert.Contains(t, string(out), `"vICMS":700.00`)
	assert.Contains(t, string(out), `"vUnCom":10000.0000000000`)
}

func TestICMSGroup(t *testing.T) {
	cases := map[string]string{
		"102": "ICMSSN102",
		"400": "ICMSSN102",
		"203": "ICMSSN202",
		"500": "ICMSSN500",
		"00":  "ICMS00",
		"41":  "ICMS40",
		"60":  "ICMS60",
	}
	for code, group := range cases {
		g := icmsGroup(payload.GoodsItem{ICMSSituacaoTributaria: code})
		assert.Contains(t, g, group, code)
	}
}

func TestEmitGoods_UndecodablePayload(t *testing.T) {
	a := New(Options{BaseURL: "http://127.0.0.1:1", Credentials: gateway.BasicToken("x")})
	res := a.EmitGoods(context.Background(), "r", []byte(`not json`))
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureValidation, res.Failure)
	assert.False(t, res.Failure.Retryable())
}

func TestEmitServices_NationalDPS(t *testing.T) {
	var body map[string]any
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nfse/dps", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))
		_, _ = w.Write([]byte(`{"id":"nfse_7","status":"processando"}`))
	})

	p := payload.ServicePayload{
		DataEmissao:            "2026-03-10T10:00:00-03:00",
		OptanteSimplesNacional: true,
		RPS:                    payload.RPS{Numero: 7, Serie: "RPS", Tipo: 1},
		Prestador:              payload.Provider{CNPJ: "12345678000195", InscricaoMunicipal: "1234567", CodigoMunicipio: "3550308"},
		Tomador:                payload.Taker{CNPJ: str("98765432000198"), RazaoSocial: "Tomador SA"},
		Servico: payload.ServiceBlock{
			Discriminacao:    "Consultoria",
			ItemListaServico: "17.01",
			CodigoMunicipio:  "3550308",
			Aliquota:         "0.0500",
			ValorServicos:    "800.00",
			BaseCalculo:      "800.00",
			ValorIR:          str("12.00"),
			ValorLiquido:     "788.00",
		},
	}
	b, err := payload.Marshal(p)
	require.NoError(t, err)

	res := api.adapter().EmitServices(context.Background(), "os-7", b)
	require.True(t, res.Success)
	assert.Equal(t, fiscal.StatusProcessing, res.Status)
	assert.Equal(t, "nfse_7", res.ProviderID)

	dps := body["infDPS"].(map[string]any)
	assert.EqualValues(t, 2, dps["tpAmb"])
	assert.Equal(t, "7", dps["nDPS"])
	assert.Equal(t, "2026-03-10", dps["dCompet"])
	assert.Equal(t, "170101", dps["serv"].(map[string]any)["cServ"].(map[string]any)["cTribNac"])
	trib := dps["valores"].(map[string]any)["trib"].(map[string]any)
	assert.EqualValues(t, 5, trib["tribMun"].(map[string]any)["pAliq"])
	assert.EqualValues(t, 12, trib["tribFed"].(map[string]any)["vRetIRRF"])
	assert.EqualValues(t, 3, dps["prest"].(map[string]any)["regTrib"].(map[string]any)["opSimpNac"])
}

func TestQueryStatus_ByIDAndByReference(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nfe/nfe_9":
			_, _ = w.Write([]byte(`{"id":"nfe_9","status":"rejeitado","autorizacao":{"codigo_status":539,"motivo_status":"Rejeição: Duplicidade de NF-e"}}`))
		case "/nfe":
			q := r.URL.Query()
			assert.Equal(t, "12345678000195", q.Get("cpf_cnpj"))
			assert.Equal(t, "order-9", q.Get("referencia"))
			assert.Equal(t, "1", q.Get("$top"))
			if q.Get("referencia") == "order-9" {
				_, _ = w.Write([]byte(`{"data":[{"id":"nfe_9","status":"autorizado"}]}`))
				return
			}
			_, _ = w.Write([]byte(`{"data":[]}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	a := api.adapter()

	res := a.QueryStatus(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-9", ProviderID: "nfe_9"})
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
	assert.Equal(t, fiscal.StatusRejected, res.Status)
	assert.Equal(t, "Rejeição: Duplicidade de NF-e", res.ErrorMessage)

	res = a.QueryStatus(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-9"})
	require.True(t, res.Success)
	assert.Equal(t, "nfe_9", res.ProviderID)
	assert.Equal(t, fiscal.StatusAuthorized, res.Status)
}

func TestQueryStatus_UnknownReferenceIsUnreachable(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	res := api.adapter().QueryStatus(context.Background(), fiscal.Reference{Family: numerator.FamilyNFe, Ref: "lost"})
	assert.Equal(t, fiscal.FailureUnreachable, res.Failure)
}

func TestCancel(t *testing.T) {
	var answer atomic.Value
	answer.Store(`{"id":"evt_1","status":"registrado","codigo_status":135,"motivo_status":"Evento registrado"}`)
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/nfe/nfe_5/cancelamento", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"justificativa":"Pedido cancelado pelo cliente"}`, string(raw))
		_, _ = w.Write([]byte(answer.Load().(string)))
	})
	a := api.adapter()
	ref := fiscal.Reference{Family: numerator.FamilyNFe, Ref: "order-5", ProviderID: "nfe_5"}

	res := a.Cancel(context.Background(), ref, "Pedido cancelado pelo cliente")
	assert.True(t, res.Success)
	assert.Equal(t, fiscal.StatusCancelled, res.Status)

	answer.Store(`{"id":"evt_2","status":"rejeitado","codigo_status":501,"motivo_status":"Rejeição: Prazo de cancelamento superior ao previsto"}`)
	res = a.Cancel(context.Background(), ref, "Pedido cancelado pelo cliente")
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
	assert.Equal(t, fiscal.StatusAuthorized, res.Status)
	assert.True(t, strings.HasPrefix(res.ErrorMessage, "Rejeição: Prazo"))
}

func TestDownloads(t *testing.T) {
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/nfse/nfse_3/pdf":
			assert.Equal(t, "application/pdf", r.Header.Get("Accept"))
			_, _ = w.Write([]byte("%PDF-1.7"))
		case "/nfse/nfse_3/xml":
			_, _ = w.Write([]byte("<NFSe/>"))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NotFound","message":"Documento não encontrado"}}`))
		}
	})
	a := api.adapter()
	ref := fiscal.Reference{Family: numerator.FamilyNFSe, Ref: "os-3", ProviderID: "nfse_3"}

	pdf, res := a.DownloadPDF(context.Background(), ref)
	require.True(t, res.Success)
	assert.Equal(t, "%PDF-1.7", string(pdf))

	xml, res := a.DownloadXML(context.Background(), ref)
	require.True(t, res.Success)
	assert.Equal(t, "<NFSe/>", string(xml))

	_, res = a.DownloadPDF(context.Background(), fiscal.Reference{Family: numerator.FamilyNFSe, ProviderID: "nfse_404"})
	assert.Equal(t, fiscal.FailureRejected, res.Failure)
	assert.Equal(t, "Documento não encontrado", res.ErrorMessage)
}

func TestQueryAuthorityStatus(t *testing.T) {
	var code atomic.Int32
	code.Store(107)
	api := newFakeAPI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/nfe/sefaz/status", r.URL.Path)
		assert.Equal(t, "SP", r.URL.Query().Get("autorizador"))
		fmt.Fprintf(w, `{"autorizador":"SP","codigo_status":%d,"motivo_status":"status %d"}`, code.Load(), code.Load())
	})
	a := api.adapter()

	assert.True(t, a.QueryAuthorityStatus(context.Background(), "sp").Success)

	code.Store(108)
	res := a.QueryAuthorityStatus(context.Background(), "SP")
	assert.False(t, res.Success)
	assert.Equal(t, fiscal.FailureUnreachable, res.Failure)
	assert.Contains(t, res.ErrorMessage, "status 108")
}

func TestFactory_SelectsEnvironment(t *testing.T) {
	f := Factory(gateway.Timeouts{}, nil, oauth.NewMemoryCache(), "")
	profile := &fiscal.Profile{Provider: Name, Issuer: payload.Issuer{CNPJ: "12345678000195"}}

	gw, err := f(profile, gateway.Credentials{ClientID: "id", ClientSecret: "s"})
	require.NoError(t, err)
	a := gw.(*Adapter)
	assert.Equal(t, EnvHomologation, a.env)
	assert.Equal(t, "12345678000195", a.cnpj)

	gw, err = f(profile, gateway.Credentials{ClientID: "id", ClientSecret: "s", Environment: EnvProduction})
	require.NoError(t, err)
	assert.Equal(t, EnvProduction, gw.(*Adapter).env)
}

func TestPercent(t *testing.T) {
	assert.Equal(t, json.Number("5.00"), percent("0.0500"))
	assert.Equal(t, json.Number("2.00"), percent("2.00"))
	assert.Equal(t, json.Number("0"), percent(""))
}
