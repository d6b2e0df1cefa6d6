package payload

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fiscalhub/internal/core/apperror"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testIssuer(regime Regime) Issuer {
	return Issuer{
		CNPJ:              "12.345.678/0001-95",
		LegalName:         "Loja Exemplo LTDA",
		StateRegistration: "110.042.490.114",
		Regime:            regime,
		Address: Address{
			Street:   "Rua Augusta",
			Number:   "100",
			District: "Consolação",
			City:     "São Paulo",
			CityCode: "3550308",
			State:    "SP",
			ZipCode:  "01304-000",
		},
		PISRate:    dec("1.65"),
		COFINSRate: dec("7.6"),
	}
}

func testCompany() Recipient {
	return Recipient{
		Document:          "98.765.432/0001-10",
		Name:              "Cliente Industrial SA",
		StateRegistration: "123456789",
		Address: Address{
			Street:   "Av. Brasil",
			Number:   "2000",
			District: "Centro",
			City:     "Rio de Janeiro",
			CityCode: "3304557",
			State:    "RJ",
			ZipCode:  "20040-000",
		},
	}
}

func testItem(qty, price string, icms ICMSTax) Item {
	return Item{
		Code:        "SKU-1",
		Description: "Parafuso sextavado",
		NCM:         "7318.15.00",
		CFOP:        "5102",
		Unit:        "UN",
		Quantity:    dec(qty),
		UnitPrice:   dec(price),
		ICMS:        icms,
	}
}

func goodsInput(regime Regime, items ...Item) GoodsInput {
	return GoodsInput{
		Issuer:    testIssuer(regime),
		Recipient: testCompany(),
		Items:     items,
		Series:    "1",
		Number:    42,
		IssuedAt:  time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC),
		Direction: DirectionExit,
	}
}

func TestBuildGoods_CSOSN900OwnICMS(t *testing.T) {
	in := goodsInput(RegimeSimplesNacional, testItem("1", "10000", ICMSTax{CSOSN: "900", Rate: dec("7")}))

	p, err := BuildGoods(in)
	require.NoError(t, err)
	require.Len(t, p.Items, 1)

	it := p.Items[0]
	assert.Equal(t, "900", it.ICMSSituacaoTributaria)
	require.NotNil(t, it.ICMSBaseCalculo)
	require.NotNil(t, it.ICMSValor)
	assert.Equal(t, "10000.00", *it.ICMSBaseCalculo)
	assert.Equal(t, "700.00", *it.ICMSValor)
	assert.Equal(t, "7.00", *it.ICMSAliquota)
	assert.Nil(t, it.ICMSValorST)

	assert.Equal(t, "10000.00", p.ICMSBaseCalculo)
	assert.Equal(t, "700.00", p.ICMSValorTotal)
	assert.Equal(t, "10000.00", p.ValorProdutos)
	assert.Equal(t, "10000.00", p.ValorTotal)
	assert.Equal(t, "2026-03-10T12:00:00-03:00", p.DataEmissao)
	assert.Equal(t, int64(42), p.Numero)
	assert.Equal(t, 1, p.RegimeTributarioEmitente)
}

func TestBuildGoods_SimplesForcesExemptContributions(t *testing.T) {
	item := testItem("3", "20", ICMSTax{CSOSN: "102"})
	item.PIS = ContributionTax{CST: "01", Rate: dec("1.65")}
	item.COFINS = ContributionTax{CST: "01", Rate: dec("7.6")}

	p, err := BuildGoods(goodsInput(RegimeSimplesNacional, item))
	require.NoError(t, err)

	it := p.Items[0]
	assert.Equal(t, "07", it.PISSituacaoTributaria)
	assert.Equal(t, "07", it.COFINSSituacaoTributaria)
	assert.Nil(t, it.PISBaseCalculo)
	assert.Nil(t, it.PISAliquotaPorcentual)
	assert.Nil(t, it.PISValor)
	assert.Nil(t, it.COFINSBaseCalculo)
	assert.Nil(t, it.COFINSAliquotaPorcentual)
	assert.Nil(t, it.COFINSValor)
	assert.Nil(t, it.ICMSBaseCalculo, "CSOSN 102 carries only origin and code")

	assert.Equal(t, "0.00", p.ValorPIS)
	assert.Equal(t, "0.00", p.ValorCOFINS)
	assert.Equal(t, "60.00", p.ValorTotal)
}

func TestBuildGoods_StandardRegimeCST00(t *testing.T) {
	p, err := BuildGoods(goodsInput(RegimeNormal, testItem("2", "50", ICMSTax{CST: "00", Rate: dec("18")})))
	require.NoError(t, err)

	it := p.Items[0]
	assert.Equal(t, "00", it.ICMSSituacaoTributaria)
	assert.Equal(t, "100.00", *it.ICMSBaseCalculo)
	assert.Equal(t, "18.00", *it.ICMSValor)
	require.NotNil(t, it.ICMSModalidadeBaseCalculo)
	assert.Equal(t, 3, *it.ICMSModalidadeBaseCalculo)

	assert.Equal(t, "01", it.PISSituacaoTributaria)
	assert.Equal(t, "100.00", *it.PISBaseCalculo)
	assert.Equal(t, "1.65", *it.PISAliquotaPorcentual)
	assert.Equal(t, "1.65", *it.PISValor)
	assert.Equal(t, "7.60", *it.COFINSValor)

	assert.Equal(t, "1.65", p.ValorPIS)
	assert.Equal(t, "7.60", p.ValorCOFINS)
	assert.Equal(t, "100.00", p.ValorTotal)
}

func TestBuildGoods_CST10AddsSubstitution(t *testing.T) {
	icms := ICMSTax{CST: "10", Rate: dec("18"), STRate: dec("18"), STMargin: dec("40")}
	p, err := BuildGoods(goodsInput(RegimeNormal, testItem("1", "100", icms)))
	require.NoError(t, err)

	it := p.Items[0]
	assert.Equal(t, "18.00", *it.ICMSValor)
	assert.Equal(t, "140.00", *it.ICMSBaseCalculoST)
	assert.Equal(t, "7.20", *it.ICMSValorST)
	assert.Equal(t, "40.00", *it.ICMSMargemValorAdicionadoST)
	assert.Equal(t, 4, *it.ICMSModalidadeBaseCalculoST)

	assert.Equal(t, "140.00", p.ICMSBaseCalculoST)
	assert.Equal(t, "7.20", p.ICMSValorTotalST)
	assert.Equal(t, "107.20", p.ValorTotal)
}

func TestBuildGoods_CST20ReducesBase(t *testing.T) {
	icms := ICMSTax{CST: "20", Rate: dec("12"), BaseReduction: dec("33.33")}
	p, err := BuildGoods(goodsInput(RegimeNormal, testItem("1", "300", icms)))
	require.NoError(t, err)

	it := p.Items[0]
	// 300 - 99.99 = 200.01, 12% = 24.0012
	assert.Equal(t, "200.01", *it.ICMSBaseCalculo)
	assert.Equal(t, "24.00", *it.ICMSValor)
	assert.Equal(t, "33.33", *it.ICMSReducaoBaseCalculo)
}

func TestBuildGoods_RetainedSubstitution(t *testing.T) {
	icms := ICMSTax{CSOSN: "500", RetainedSTBase: dec("80"), RetainedSTValue: dec("14.4")}
	p, err := BuildGoods(goodsInput(RegimeSimplesNacional, testItem("1", "100", icms)))
	require.NoError(t, err)

	it := p.Items[0]
	assert.Equal(t, "80.00", *it.ICMSBaseCalculoRetidoST)
	assert.Equal(t, "14.40", *it.ICMSValorRetidoST)
	assert.Equal(t, "0.00", p.ICMSValorTotalST)
	assert.Equal(t, "100.00", p.ValorTotal)
}

func TestBuildGoods_IPI(t *testing.T) {
	taxed := testItem("1", "100", ICMSTax{CST: "00", Rate: dec("18")})
	taxed.IPI = &IPITax{Rate: dec("10")}
	suspended := testItem("1", "50", ICMSTax{CST: "41"})
	suspended.IPI = &IPITax{CST: "53"}
	plain := testItem("1", "25", ICMSTax{CST: "40"})

	p, err := BuildGoods(goodsInput(RegimeNormal, taxed, suspended, plain))
	require.NoError(t, err)
	require.Len(t, p.Items, 3)

	first := p.Items[0]
	assert.Equal(t, "50", *first.IPISituacaoTributaria)
	assert.Equal(t, "999", *first.IPICodigoEnquadramentoLegal)
	assert.Equal(t, "100.00", *first.IPIBaseCalculo)
	assert.Equal(t, "10.00", *first.IPIValor)

	second := p.Items[1]
	assert.Equal(t, "53", *second.IPISituacaoTributaria)
	assert.Nil(t, second.IPIValor)

	assert.Nil(t, p.Items[2].IPISituacaoTributaria)

	assert.Equal(t, "10.00", p.ValorIPI)
	assert.Equal(t, "175.00", p.ValorProdutos)
	assert.Equal(t, "185.00", p.ValorTotal)
	assert.Equal(t, 3, p.Items[2].NumeroItem)
}

func TestBuildGoods_Discount(t *testing.T) {
	item := testItem("4", "25", ICMSTax{CSOSN: "101", CreditRate: dec("2.5")})
	item.Discount = dec("10")

	p, err := BuildGoods(goodsInput(RegimeSimplesNacional, item))
	require.NoError(t, err)

	it := p.Items[0]
	assert.Equal(t, "100.00", it.ValorBruto)
	assert.Equal(t, "10.00", *it.ValorDesconto)
	assert.Equal(t, "2.25", *it.ICMSValorCreditoSimples)
	assert.Equal(t, "10.00", p.ValorDesconto)
	assert.Equal(t, "90.00", p.ValorTotal)
}

func TestBuildGoods_RecipientDocument(t *testing.T) {
	t.Run("cnpj contributor", func(t *testing.T) {
		p, err := BuildGoods(goodsInput(RegimeSimplesNacional, testItem("1", "10", ICMSTax{CSOSN: "102"})))
		require.NoError(t, err)

		require.NotNil(t, p.CNPJDestinatario)
		assert.Equal(t, "98765432000110", *p.CNPJDestinatario)
		assert.Nil(t, p.CPFDestinatario)
		assert.Equal(t, int(IEContributor), p.IndicadorInscricaoEstadualDestinatario)
		assert.Equal(t, "123456789", *p.InscricaoEstadualDestinatario)
	})

	t.Run("cpf consumer", func(t *testing.T) {
		in := goodsInput(RegimeSimplesNacional, testItem("1", "10", ICMSTax{CSOSN: "102"}))
		in.Recipient.Document = "123.456.789-09"
		in.Recipient.StateRegistration = ""
		in.Options.FinalConsumer = true

		p, err := BuildGoods(in)
		require.NoError(t, err)

		require.NotNil(t, p.CPFDestinatario)
		assert.Equal(t, "12345678909", *p.CPFDestinatario)
		assert.Nil(t, p.CNPJDestinatario)
		assert.Nil(t, p.InscricaoEstadualDestinatario)
		assert.Equal(t, int(IENonContributor), p.IndicadorInscricaoEstadualDestinatario)
		assert.Equal(t, 1, p.ConsumidorFinal)
	})
}

func TestBuildGoods_Defaults(t *testing.T) {
	p, err := BuildGoods(goodsInput(RegimeSimplesNacional, testItem("1", "10", ICMSTax{CSOSN: "102"})))
	require.NoError(t, err)

	assert.Equal(t, "Venda de mercadoria", p.NaturezaOperacao)
	assert.Equal(t, int(PurposeNormal), p.FinalidadeEmissao)
	assert.Equal(t, 9, p.ModalidadeFrete)
	assert.Equal(t, 1, p.PresencaComprador)
	assert.Equal(t, []Payment{{FormaPagamento: "90", ValorPagamento: "0.00"}}, p.FormasPagamento)
}

func TestBuildGoods_PaymentCarriesTotal(t *testing.T) {
	in := goodsInput(RegimeSimplesNacional, testItem("2", "12.5", ICMSTax{CSOSN: "102"}))
	in.Options.PaymentMethod = "17"

	p, err := BuildGoods(in)
	require.NoError(t, err)
	assert.Equal(t, []Payment{{FormaPagamento: "17", ValorPagamento: "25.00"}}, p.FormasPagamento)
}

func TestBuildGoods_ReturnReferencesOriginal(t *testing.T) {
	in := goodsInput(RegimeSimplesNacional, testItem("1", "10", ICMSTax{CSOSN: "102"}))
	in.Purpose = PurposeReturn
	in.Direction = DirectionEntry

	_, err := BuildGoods(in)
	require.Error(t, err)
	assert.True(t, apperror.HasCode(err, apperror.CodeFiscalValidation))

	key := "35260312345678000195550010000000421000000420"
	in.Options.ReferencedKeys = []string{key}
	p, err := BuildGoods(in)
	require.NoError(t, err)
	assert.Equal(t, []ReferencedNote{{ChaveNFe: key}}, p.NotasReferenciadas)
	assert.Equal(t, 4, p.FinalidadeEmissao)
	assert.Equal(t, 0, p.TipoDocumento)
}

func TestBuildGoods_Deterministic(t *testing.T) {
	item := testItem("1.5", "33.3333", ICMSTax{CSOSN: "900", Rate: dec("7"), STRate: dec("18"), STMargin: dec("35")})
	item.IPI = &IPITax{Rate: dec("5")}
	in := goodsInput(RegimeSimplesNacional, item, testItem("2", "9.99", ICMSTax{CSOSN: "102"}))

	first, err := BuildGoods(in)
	require.NoError(t, err)
	second, err := BuildGoods(in)
	require.NoError(t, err)

	a, err := Marshal(first)
	require.NoError(t, err)
	b, err := Marshal(second)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))

	decoded, err := DecodeGoods(a)
	require.NoError(t, err)
	assert.Equal(t, first, decoded)
}

func TestValidateGoods_CollectsViolations(t *testing.T) {
	item := testItem("0", "10", ICMSTax{CSOSN: "999"})
	item.NCM = "123"
	in := goodsInput(RegimeSimplesNacional, item)
	in.Issuer.CNPJ = "123"
	in.Recipient.Document = ""

	err := ValidateGoods(in)
	require.Error(t, err)

	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeFiscalValidation, appErr.Code)

	violations, ok := appErr.Details["violations"].([]string)
	require.True(t, ok)
	assert.Contains(t, violations, "issuer.cnpj: must have 14 digits")
	assert.Contains(t, violations, "items[0].ncm: must have 8 digits")
	assert.Contains(t, violations, "items[0].quantity: must be positive")
	assert.Contains(t, violations, "items[0].icms.csosn: unknown or missing CSOSN")
	assert.Contains(t, violations, "recipient.document: must be a CPF (11 digits) or CNPJ (14 digits)")
}

func TestValidateGoods_RequiresItems(t *testing.T) {
	err := ValidateGoods(goodsInput(RegimeNormal))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "goods payload cannot be built")
}

func TestValidateGoods_StandardRegimeNeedsCST(t *testing.T) {
	err := ValidateGoods(goodsInput(RegimeNormal, testItem("1", "10", ICMSTax{CSOSN: "102"})))
	require.Error(t, err)

	appErr, _ := apperror.AsAppError(err)
	assert.Contains(t, appErr.Details["violations"], "items[0].icms.cst: unknown or missing CST")
}
