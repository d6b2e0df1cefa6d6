package payload

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/types"
)

// Purpose is finalidade_emissao.
type Purpose int

const (
	PurposeNormal        Purpose = 1
	PurposeComplementary Purpose = 2
	PurposeAdjustment    Purpose = 3
	PurposeReturn        Purpose = 4
)

// Direction is tipo_documento: 0 entry, 1 exit.
type Direction int

const (
	DirectionEntry Direction = 0
	DirectionExit  Direction = 1
)

// GoodsOptions are the caller-controlled NF-e flags.
type GoodsOptions struct {
	FinalConsumer  bool     `json:"final_consumer"`
	Presence       int      `json:"presence"`       // indPres, 1 in person
	FreightMode    int      `json:"freight_mode"`   // modFrete, 9 no freight
	PaymentMethod  string   `json:"payment_method"` // tPag, "90" no payment
	ReferencedKeys []string `json:"referenced_keys,omitempty"`
	AdditionalInfo string   `json:"additional_info,omitempty"`
}

// GoodsInput is everything needed to build an NF-e payload.
type GoodsInput struct {
	Issuer    Issuer
	Recipient Recipient
	Items     []Item

	Series    string
	Number    int64
	IssuedAt  time.Time
	Purpose   Purpose
	Direction Direction
	Nature    string // natureza_operacao
	Options   GoodsOptions
}

// GoodsPayload is the canonical NF-e request body.
type GoodsPayload struct {
	NaturezaOperacao  string `json:"natureza_operacao"`
	DataEmissao       string `json:"data_emissao"`
	TipoDocumento     int    `json:"tipo_documento"`
	FinalidadeEmissao int    `json:"finalidade_emissao"`
	ConsumidorFinal   int    `json:"consumidor_final"`
	PresencaComprador int    `json:"presenca_comprador"`
	Serie             string `json:"serie"`
	Numero            int64  `json:"numero"`

	CNPJEmitente              string `json:"cnpj_emitente"`
	NomeEmitente              string `json:"nome_emitente"`
	NomeFantasiaEmitente      string `json:"nome_fantasia_emitente,omitempty"`
	LogradouroEmitente        string `json:"logradouro_emitente"`
	NumeroEmitente            string `json:"numero_emitente"`
	BairroEmitente            string `json:"bairro_emitente"`
	MunicipioEmitente         string `json:"municipio_emitente"`
	CodigoMunicipioEmitente   string `json:"codigo_municipio_emitente"`
	UFEmitente                string `json:"uf_emitente"`
	CEPEmitente               string `json:"cep_emitente"`
	InscricaoEstadualEmitente string `json:"inscricao_estadual_emitente"`
	RegimeTributarioEmitente  int    `json:"regime_tributario_emitente"`

	NomeDestinatario                       string  `json:"nome_destinatario"`
	CPFDestinatario                        *string `json:"cpf_destinatario,omitempty"`
	CNPJDestinatario                       *string `json:"cnpj_destinatario,omitempty"`
	InscricaoEstadualDestinatario          *string `json:"inscricao_estadual_destinatario,omitempty"`
	IndicadorInscricaoEstadualDestinatario int     `json:"indicador_inscricao_estadual_destinatario"`
	EmailDestinatario                      *string `json:"email_destinatario,omitempty"`
	LogradouroDestinatario                 string  `json:"logradouro_destinatario"`
	NumeroDestinatario                     string  `json:"numero_destinatario"`
	BairroDestinatario                     string  `json:"bairro_destinatario"`
	MunicipioDestinatario                  string  `json:"municipio_destinatario"`
	CodigoMunicipioDestinatario            string  `json:"codigo_municipio_destinatario"`
	UFDestinatario                         string  `json:"uf_destinatario"`
	CEPDestinatario                        string  `json:"cep_destinatario"`

	ValorProdutos         string `json:"valor_produtos"`
	ValorDesconto         string `json:"valor_desconto"`
	ICMSBaseCalculo       string `json:"icms_base_calculo"`
	ICMSValorTotal        string `json:"icms_valor_total"`
	ICMSBaseCalculoST     string `json:"icms_base_calculo_st"`
	ICMSValorTotalST      string `json:"icms_valor_total_st"`
	ValorIPI              string `json:"valor_ipi"`
	ValorPIS              string `json:"valor_pis"`
	ValorCOFINS           string `json:"valor_cofins"`
	ValorTotal            string `json:"valor_total"`
	ModalidadeFrete       int    `json:"modalidade_frete"`
	InformacoesAdicionais string `json:"informacoes_adicionais_contribuinte,omitempty"`

	NotasReferenciadas []ReferencedNote `json:"notas_referenciadas,omitempty"`
	Items              []GoodsItem      `json:"items"`
	FormasPagamento    []Payment        `json:"formas_pagamento"`
}

// ReferencedNote points at a previously authorized NF-e (returns, complements).
type ReferencedNote struct {
	ChaveNFe string `json:"chave_nfe"`
}

// Payment is one detPag entry.
type Payment struct {
	FormaPagamento string `json:"forma_pagamento"`
	ValorPagamento string `json:"valor_pagamento"`
}

// GoodsItem is one det entry. Optional tax fields are omitted when the
// item's tax code does not use them.
type GoodsItem struct {
	NumeroItem              int     `json:"numero_item"`
	CodigoProduto           string  `json:"codigo_produto"`
	Descricao               string  `json:"descricao"`
	CodigoNCM               string  `json:"codigo_ncm"`
	CFOP                    string  `json:"cfop"`
	UnidadeComercial        string  `json:"unidade_comercial"`
	QuantidadeComercial     string  `json:"quantidade_comercial"`
	ValorUnitarioComercial  string  `json:"valor_unitario_comercial"`
	UnidadeTributavel       string  `json:"unidade_tributavel"`
	QuantidadeTributavel    string  `json:"quantidade_tributavel"`
	ValorUnitarioTributavel string  `json:"valor_unitario_tributavel"`
	ValorBruto              string  `json:"valor_bruto"`
	ValorDesconto           *string `json:"valor_desconto,omitempty"`

	ICMSOrigem                  int     `json:"icms_origem"`
	ICMSSituacaoTributaria      string  `json:"icms_situacao_tributaria"`
	ICMSModalidadeBaseCalculo   *int    `json:"icms_modalidade_base_calculo,omitempty"`
	ICMSBaseCalculo             *string `json:"icms_base_calculo,omitempty"`
	ICMSReducaoBaseCalculo      *string `json:"icms_reducao_base_calculo,omitempty"`
	ICMSAliquota                *string `json:"icms_aliquota,omitempty"`
	ICMSValor                   *string `json:"icms_valor,omitempty"`
	ICMSModalidadeBaseCalculoST *int    `json:"icms_modalidade_base_calculo_st,omitempty"`
	ICMSMargemValorAdicionadoST *string `json:"icms_margem_valor_adicionado_st,omitempty"`
	ICMSReducaoBaseCalculoST    *string `json:"icms_reducao_base_calculo_st,omitempty"`
	ICMSBaseCalculoST           *string `json:"icms_base_calculo_st,omitempty"`
	ICMSAliquotaST              *string `json:"icms_aliquota_st,omitempty"`
	ICMSValorST                 *string `json:"icms_valor_st,omitempty"`
	ICMSBaseCalculoRetidoST     *string `json:"icms_base_calculo_retido_st,omitempty"`
	ICMSValorRetidoST           *string `json:"icms_valor_retido_st,omitempty"`
	ICMSAliquotaCreditoSimples  *string `json:"icms_aliquota_credito_simples,omitempty"`
	ICMSValorCreditoSimples     *string `json:"icms_valor_credito_simples,omitempty"`

	PISSituacaoTributaria    string  `json:"pis_situacao_tributaria"`
	PISBaseCalculo           *string `json:"pis_base_calculo,omitempty"`
	PISAliquotaPorcentual    *string `json:"pis_aliquota_porcentual,omitempty"`
	PISValor                 *string `json:"pis_valor,omitempty"`
	COFINSSituacaoTributaria string  `json:"cofins_situacao_tributaria"`
	COFINSBaseCalculo        *string `json:"cofins_base_calculo,omitempty"`
	COFINSAliquotaPorcentual *string `json:"cofins_aliquota_porcentual,omitempty"`
	COFINSValor              *string `json:"cofins_valor,omitempty"`

	IPISituacaoTributaria       *string `json:"ipi_situacao_tributaria,omitempty"`
	IPICodigoEnquadramentoLegal *string `json:"ipi_codigo_enquadramento_legal,omitempty"`
	IPIBaseCalculo              *string `json:"ipi_base_calculo,omitempty"`
	IPIAliquota                 *string `json:"ipi_aliquota,omitempty"`
	IPIValor                    *string `json:"ipi_valor,omitempty"`
}

// brt is the offset used for data_emissao; Brazil has no DST since 2019.
var brt = time.FixedZone("BRT", -3*60*60)

// FormatIssuedAt renders an emission timestamp in Brasilia time.
func FormatIssuedAt(t time.Time) string {
	return t.In(brt).Format(time.RFC3339)
}

// BuildGoods validates in and assembles the NF-e payload.
func BuildGoods(in GoodsInput) (*GoodsPayload, error) {
	if err := ValidateGoods(in); err != nil {
		return nil, err
	}

	opts := in.Options
	p := &GoodsPayload{
		NaturezaOperacao:      in.Nature,
		DataEmissao:           FormatIssuedAt(in.IssuedAt),
		TipoDocumento:         int(in.Direction),
		FinalidadeEmissao:     int(orDefault(int(in.Purpose), int(PurposeNormal))),
		PresencaComprador:     orDefault(opts.Presence, 1),
		Serie:                 in.Series,
		Numero:                in.Number,
		ModalidadeFrete:       orDefault(opts.FreightMode, 9),
		InformacoesAdicionais: opts.AdditionalInfo,
	}
	if p.NaturezaOperacao == "" {
		p.NaturezaOperacao = "Venda de mercadoria"
	}
	if opts.FinalConsumer {
		p.ConsumidorFinal = 1
	}
	for _, key := range opts.ReferencedKeys {
		p.NotasReferenciadas = append(p.NotasReferenciadas, ReferencedNote{ChaveNFe: key})
	}

	applyIssuer(p, in.Issuer)
	applyRecipient(p, in.Recipient)

	var sum goodsTotals
	for i, it := range in.Items {
		item, amounts := buildGoodsItem(i+1, it, in.Issuer)
		p.Items = append(p.Items, item)
		sum.add(amounts)
	}

	p.ValorProdutos = types.FormatMoney(sum.gross)
	p.ValorDesconto = types.FormatMoney(sum.discount)
	p.ICMSBaseCalculo = types.FormatMoney(sum.icmsBase)
	p.ICMSValorTotal = types.FormatMoney(sum.icms)
	p.ICMSBaseCalculoST = types.FormatMoney(sum.stBase)
	p.ICMSValorTotalST = types.FormatMoney(sum.st)
	p.ValorIPI = types.FormatMoney(sum.ipi)
	p.ValorPIS = types.FormatMoney(sum.pis)
	p.ValorCOFINS = types.FormatMoney(sum.cofins)

	total := sum.gross.Sub(sum.discount).Add(sum.st).Add(sum.ipi)
	p.ValorTotal = types.FormatMoney(total)

	payment := opts.PaymentMethod
	if payment == "" {
		payment = "90"
	}
	paid := total
	if payment == "90" {
		paid = decimal.Zero
	}
	p.FormasPagamento = []Payment{{FormaPagamento: payment, ValorPagamento: types.FormatMoney(paid)}}

	return p, nil
}

func applyIssuer(p *GoodsPayload, is Issuer) {
	p.CNPJEmitente = Digits(is.CNPJ)
	p.NomeEmitente = is.LegalName
	p.NomeFantasiaEmitente = is.TradeName
	p.LogradouroEmitente = is.Address.Street
	p.NumeroEmitente = is.Address.Number
	p.BairroEmitente = is.Address.District
	p.MunicipioEmitente = is.Address.City
	p.CodigoMunicipioEmitente = is.Address.CityCode
	p.UFEmitente = is.Address.State
	p.CEPEmitente = Digits(is.Address.ZipCode)
	p.InscricaoEstadualEmitente = Digits(is.StateRegistration)
	p.RegimeTributarioEmitente = int(is.Regime)
}

func applyRecipient(p *GoodsPayload, r Recipient) {
	doc := Digits(r.Document)
	p.NomeDestinatario = r.Name
	if r.IsCompany() {
		p.CNPJDestinatario = &doc
	} else {
		p.CPFDestinatario = &doc
	}

	ind := r.IEIndicator
	switch {
	case ind != 0:
	case r.IsCompany() && r.StateRegistration != "":
		ind = IEContributor
	default:
		ind = IENonContributor
	}
	p.IndicadorInscricaoEstadualDestinatario = int(ind)
	if ind == IEContributor {
		p.InscricaoEstadualDestinatario = strPtr(Digits(r.StateRegistration))
	}

	p.EmailDestinatario = strPtr(r.Email)
	p.LogradouroDestinatario = r.Address.Street
	p.NumeroDestinatario = r.Address.Number
	p.BairroDestinatario = r.Address.District
	p.MunicipioDestinatario = r.Address.City
	p.CodigoMunicipioDestinatario = r.Address.CityCode
	p.UFDestinatario = r.Address.State
	p.CEPDestinatario = Digits(r.Address.ZipCode)
}

// itemAmounts are the decimal values that roll up into document totals.
type itemAmounts struct {
	gross, discount  decimal.Decimal
	icmsBase, icms   decimal.Decimal
	stBase, st       decimal.Decimal
	ipi, pis, cofins decimal.Decimal
}

type goodsTotals itemAmounts

func (t *goodsTotals) add(a itemAmounts) {
	t.gross = t.gross.Add(a.gross)
	t.discount = t.discount.Add(a.discount)
	t.icmsBase = t.icmsBase.Add(a.icmsBase)
	t.icms = t.icms.Add(a.icms)
	t.stBase = t.stBase.Add(a.stBase)
	t.st = t.st.Add(a.st)
	t.ipi = t.ipi.Add(a.ipi)
	t.pis = t.pis.Add(a.pis)
	t.cofins = t.cofins.Add(a.cofins)
}

func buildGoodsItem(n int, it Item, is Issuer) (GoodsItem, itemAmounts) {
	gross := it.Gross()
	discount := it.Discount.Round(2)
	net := gross.Sub(discount)

	qty := types.FormatQuantity(it.Quantity)
	price := it.UnitPrice.StringFixed(4)
	unit := it.Unit
	if unit == "" {
		unit = "UN"
	}

	gi := GoodsItem{
		NumeroItem:              n,
		CodigoProduto:           it.Code,
		Descricao:               it.Description,
		CodigoNCM:               Digits(it.NCM),
		CFOP:                    Digits(it.CFOP),
		UnidadeComercial:        unit,
		QuantidadeComercial:     qty,
		ValorUnitarioComercial:  price,
		UnidadeTributavel:       unit,
		QuantidadeTributavel:    qty,
		ValorUnitarioTributavel: price,
		ValorBruto:              types.FormatMoney(gross),
		ICMSOrigem:              it.Origin,
	}
	if discount.IsPositive() {
		gi.ValorDesconto = types.MoneyPtr(discount)
	}
	if gi.CodigoProduto == "" {
		gi.CodigoProduto = "CFOP" + gi.CFOP
	}

	amounts := itemAmounts{gross: gross, discount: discount}
	applyICMS(&gi, &amounts, it.ICMS, net, is.Regime)
	amounts.pis = applyPIS(&gi, it.PIS, is, net)
	amounts.cofins = applyCOFINS(&gi, it.COFINS, is, net)
	amounts.ipi = applyIPI(&gi, it.IPI, net)

	return gi, amounts
}

func orDefault(v, def int) int {
	if v == 0 {
		return def
	}
	return v
}
