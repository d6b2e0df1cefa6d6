package payload

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/types"
)

// Service describes the rendered service of an NFS-e.
type Service struct {
	Description      string          `json:"description"`
	Amount           decimal.Decimal `json:"amount"`
	Deductions       decimal.Decimal `json:"deductions"`
	Discount         decimal.Decimal `json:"discount"` // unconditional discount
	ServiceCode      string          `json:"service_code,omitempty"`
	MunicipalTaxCode string          `json:"municipal_tax_code,omitempty"`
	CNAE             string          `json:"cnae,omitempty"`
	ISSRate          decimal.Decimal `json:"iss_rate"`
	ISSWithheld      bool            `json:"iss_withheld"`
	Retentions       *Retentions     `json:"retentions,omitempty"` // overrides the issuer's
}

func (s Service) code(is Issuer) string {
	if s.ServiceCode != "" {
		return s.ServiceCode
	}
	return is.ServiceCode
}

func (s Service) municipalCode(is Issuer) string {
	if s.MunicipalTaxCode != "" {
		return s.MunicipalTaxCode
	}
	return is.MunicipalTaxCode
}

func (s Service) issRate(is Issuer) decimal.Decimal {
	if s.ISSRate.IsPositive() {
		return s.ISSRate
	}
	return is.ISSRate
}

func (s Service) retentions(is Issuer) Retentions {
	if s.Retentions != nil {
		return *s.Retentions
	}
	return is.Retentions
}

// ServiceInput is everything needed to build an NFS-e payload.
type ServiceInput struct {
	Issuer    Issuer
	Recipient Recipient
	Service   Service

	Series   string // RPS series
	Number   int64  // RPS number
	IssuedAt time.Time
}

// ServicePayload is the generic ABRASF-shaped NFS-e body. Dialects adjust it.
type ServicePayload struct {
	DataEmissao              string       `json:"data_emissao"`
	NaturezaOperacao         string       `json:"natureza_operacao,omitempty"`
	OptanteSimplesNacional   bool         `json:"optante_simples_nacional"`
	RegimeEspecialTributacao string       `json:"regime_especial_tributacao,omitempty"`
	RPS                      RPS          `json:"rps"`
	Prestador                Provider     `json:"prestador"`
	Tomador                  Taker        `json:"tomador"`
	Servico                  ServiceBlock `json:"servico"`
}

// RPS identifies the provisional receipt converted into the NFS-e.
type RPS struct {
	Numero int64  `json:"numero"`
	Serie  string `json:"serie"`
	Tipo   int    `json:"tipo"`
}

// Provider is the prestador block.
type Provider struct {
	CNPJ               string `json:"cnpj"`
	InscricaoMunicipal string `json:"inscricao_municipal"`
	CodigoMunicipio    string `json:"codigo_municipio"`
}

// Taker is the tomador block.
type Taker struct {
	CPF                *string      `json:"cpf,omitempty"`
	CNPJ               *string      `json:"cnpj,omitempty"`
	RazaoSocial        string       `json:"razao_social"`
	InscricaoMunicipal *string      `json:"inscricao_municipal,omitempty"`
	Email              *string      `json:"email,omitempty"`
	Telefone           *string      `json:"telefone,omitempty"`
	Endereco           TakerAddress `json:"endereco"`
}

// TakerAddress is the tomador address.
type TakerAddress struct {
	Logradouro      string `json:"logradouro"`
	Numero          string `json:"numero"`
	Complemento     string `json:"complemento,omitempty"`
	Bairro          string `json:"bairro"`
	CodigoMunicipio string `json:"codigo_municipio"`
	UF              string `json:"uf"`
	CEP             string `json:"cep"`
}

// ServiceBlock is the servico block with ISS and federal retentions.
type ServiceBlock struct {
	Discriminacao             string  `json:"discriminacao"`
	ItemListaServico          string  `json:"item_lista_servico,omitempty"`
	CodigoTributarioMunicipio string  `json:"codigo_tributario_municipio,omitempty"`
	CodigoCNAE                string  `json:"codigo_cnae,omitempty"`
	CodigoMunicipio           string  `json:"codigo_municipio"`
	Aliquota                  string  `json:"aliquota"`
	ISSRetido                 bool    `json:"iss_retido"`
	ResponsavelRetencao       string  `json:"responsavel_retencao,omitempty"`
	ValorServicos             string  `json:"valor_servicos"`
	ValorDeducoes             *string `json:"valor_deducoes,omitempty"`
	DescontoIncondicionado    *string `json:"desconto_incondicionado,omitempty"`
	BaseCalculo               string  `json:"base_calculo"`
	ValorISS                  *string `json:"valor_iss,omitempty"`
	ValorISSRetido            *string `json:"valor_iss_retido,omitempty"`
	ValorPIS                  *string `json:"valor_pis,omitempty"`
	ValorCOFINS               *string `json:"valor_cofins,omitempty"`
	ValorINSS                 *string `json:"valor_inss,omitempty"`
	ValorIR                   *string `json:"valor_ir,omitempty"`
	ValorCSLL                 *string `json:"valor_csll,omitempty"`
	ValorLiquido              string  `json:"valor_liquido"`
}

// ServiceBuilder assembles NFS-e payloads in the issuer municipality's dialect.
type ServiceBuilder struct {
	resolver DialectResolver
}

// NewServiceBuilder creates a builder. A nil resolver uses DefaultResolver.
func NewServiceBuilder(resolver DialectResolver) *ServiceBuilder {
	if resolver == nil {
		resolver = DefaultResolver()
	}
	return &ServiceBuilder{resolver: resolver}
}

// Validate runs generic and dialect checks without building.
func (b *ServiceBuilder) Validate(in ServiceInput) error {
	if err := ValidateServices(in); err != nil {
		return err
	}
	d, err := b.resolver.Resolve(in.Issuer)
	if err != nil {
		return err
	}
	return d.Validate(in)
}

// Build validates in and returns the payload in the resolved dialect.
func (b *ServiceBuilder) Build(in ServiceInput) (*ServicePayload, error) {
	if err := ValidateServices(in); err != nil {
		return nil, err
	}
	d, err := b.resolver.Resolve(in.Issuer)
	if err != nil {
		return nil, err
	}
	if err := d.Validate(in); err != nil {
		return nil, err
	}

	p := buildGenericService(in)
	d.Apply(p, in)
	return p, nil
}

func buildGenericService(in ServiceInput) *ServicePayload {
	is, s := in.Issuer, in.Service

	amount := s.Amount.Round(2)
	deductions := s.Deductions.Round(2)
	discount := s.Discount.Round(2)
	base := amount.Sub(deductions).Sub(discount)
	if base.IsNegative() {
		base = decimal.Zero
	}
	rate := s.issRate(is)
	iss := types.ApplyRate(base, rate)

	p := &ServicePayload{
		DataEmissao:              FormatIssuedAt(in.IssuedAt),
		NaturezaOperacao:         "1",
		OptanteSimplesNacional:   is.Regime.Simplified(),
		RegimeEspecialTributacao: is.SpecialRegime,
		RPS:                      RPS{Numero: in.Number, Serie: in.Series, Tipo: 1},
		Prestador: Provider{
			CNPJ:               Digits(is.CNPJ),
			InscricaoMunicipal: Digits(is.MunicipalRegistration),
			CodigoMunicipio:    is.Address.CityCode,
		},
		Tomador: buildTaker(in.Recipient),
		Servico: ServiceBlock{
			Discriminacao:             s.Description,
			ItemListaServico:          s.code(is),
			CodigoTributarioMunicipio: s.municipalCode(is),
			CodigoCNAE:                Digits(firstNonEmpty(s.CNAE, is.CNAE)),
			CodigoMunicipio:           is.Address.CityCode,
			Aliquota:                  types.FormatRate(rate),
			ISSRetido:                 s.ISSWithheld,
			ValorServicos:             types.FormatMoney(amount),
			BaseCalculo:               types.FormatMoney(base),
			ValorISS:                  types.MoneyPtr(iss),
		},
	}

	if deductions.IsPositive() {
		p.Servico.ValorDeducoes = types.MoneyPtr(deductions)
	}
	if discount.IsPositive() {
		p.Servico.DescontoIncondicionado = types.MoneyPtr(discount)
	}

	withheld := decimal.Zero
	if s.ISSWithheld {
		withheld = iss
		p.Servico.ValorISSRetido = types.MoneyPtr(iss)
		p.Servico.ResponsavelRetencao = "1"
	}

	ret := s.retentions(is)
	retained := []struct {
		rate  decimal.Decimal
		field **string
	}{
		{ret.PIS, &p.Servico.ValorPIS},
		{ret.COFINS, &p.Servico.ValorCOFINS},
		{ret.INSS, &p.Servico.ValorINSS},
		{ret.IR, &p.Servico.ValorIR},
		{ret.CSLL, &p.Servico.ValorCSLL},
	}
	for _, r := range retained {
		if !r.rate.IsPositive() {
			continue
		}
		v := types.ApplyRate(amount, r.rate)
		*r.field = types.MoneyPtr(v)
		withheld = withheld.Add(v)
	}

	p.Servico.ValorLiquido = types.FormatMoney(amount.Sub(discount).Sub(withheld))
	return p
}

func buildTaker(r Recipient) Taker {
	doc := Digits(r.Document)
	t := Taker{
		RazaoSocial:        r.Name,
		InscricaoMunicipal: strPtr(Digits(r.MunicipalRegistration)),
		Email:              strPtr(r.Email),
		Telefone:           strPtr(Digits(r.Phone)),
		Endereco: TakerAddress{
			Logradouro:      r.Address.Street,
			Numero:          r.Address.Number,
			Complemento:     r.Address.Complement,
			Bairro:          r.Address.District,
			CodigoMunicipio: r.Address.CityCode,
			UF:              r.Address.State,
			CEP:             Digits(r.Address.ZipCode),
		},
	}
	if r.IsCompany() {
		t.CNPJ = &doc
	} else {
		t.CPF = &doc
	}
	return t
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
