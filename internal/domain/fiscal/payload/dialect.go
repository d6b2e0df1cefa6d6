package payload

import (
	"fmt"
	"sort"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/types"
)

// Dialect adapts the generic ABRASF payload to one municipality's NFS-e layout.
type Dialect interface {
	Name() string
	// Validate reports data the dialect needs that the generic checks do not cover.
	Validate(in ServiceInput) error
	// Apply rewrites p in place. It must be deterministic.
	Apply(p *ServicePayload, in ServiceInput)
}

// DialectResolver picks the dialect for an issuer.
type DialectResolver interface {
	Resolve(is Issuer) (Dialect, error)
}

// Dialect names.
const (
	DialectABRASF       = "abrasf"
	DialectSaoPaulo     = "sao-paulo"
	DialectRioDeJaneiro = "rio-de-janeiro"
)

// IBGE codes of municipalities with a bespoke dialect.
const (
	CitySaoPaulo     = "3550308"
	CityRioDeJaneiro = "3304557"
)

var dialects = map[string]Dialect{
	DialectABRASF:       abrasfDialect{},
	DialectSaoPaulo:     saoPauloDialect{},
	DialectRioDeJaneiro: rioDialect{},
}

// LookupDialect returns a registered dialect by name.
func LookupDialect(name string) (Dialect, bool) {
	d, ok := dialects[name]
	return d, ok
}

// DialectNames lists registered dialects in stable order.
func DialectNames() []string {
	names := make([]string, 0, len(dialects))
	for n := range dialects {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// StaticResolver maps IBGE city codes to dialects and falls back to ABRASF.
type StaticResolver struct {
	byCity map[string]string
}

// NewStaticResolver creates a resolver from a city code -> dialect name map.
func NewStaticResolver(byCity map[string]string) *StaticResolver {
	return &StaticResolver{byCity: byCity}
}

// DefaultResolver knows the two bespoke municipalities.
func DefaultResolver() *StaticResolver {
	return NewStaticResolver(map[string]string{
		CitySaoPaulo:     DialectSaoPaulo,
		CityRioDeJaneiro: DialectRioDeJaneiro,
	})
}

// Resolve implements DialectResolver. An explicit issuer dialect wins.
func (r *StaticResolver) Resolve(is Issuer) (Dialect, error) {
	name := is.Dialect
	if name == "" {
		name = r.byCity[is.Address.CityCode]
	}
	if name == "" {
		return abrasfDialect{}, nil
	}
	d, ok := LookupDialect(name)
	if !ok {
		return nil, UnknownDialectError(name)
	}
	return d, nil
}

// UnknownDialectError is returned when configuration names a dialect that does not exist.
func UnknownDialectError(name string) error {
	return apperror.NewFiscalValidation(fmt.Sprintf("unknown NFS-e dialect %q", name)).
		WithDetail("dialects", DialectNames())
}

type abrasfDialect struct{}

func (abrasfDialect) Name() string                        { return DialectABRASF }
func (abrasfDialect) Validate(ServiceInput) error         { return nil }
func (abrasfDialect) Apply(*ServicePayload, ServiceInput) {}

// saoPauloDialect follows the city's own layout: a 5-digit service code replaces
// the LC 116 item, rates are fractions and there is no special regime field.
type saoPauloDialect struct{}

func (saoPauloDialect) Name() string { return DialectSaoPaulo }

func (saoPauloDialect) Validate(in ServiceInput) error {
	var v violations
	v.require(len(Digits(in.Service.municipalCode(in.Issuer))) == 5,
		"service.municipal_tax_code", "São Paulo requires a 5-digit service code")
	return v.err("services")
}

func (saoPauloDialect) Apply(p *ServicePayload, in ServiceInput) {
	s := &p.Servico
	s.CodigoTributarioMunicipio = Digits(in.Service.municipalCode(in.Issuer))
	s.ItemListaServico = ""
	s.CodigoCNAE = ""
	s.Aliquota = types.FormatFraction(in.Service.issRate(in.Issuer))
	p.RegimeEspecialTributacao = ""
	p.NaturezaOperacao = "T"
}

// rioDialect uses the LC 116 item without punctuation plus a 6-digit municipal code.
type rioDialect struct{}

func (rioDialect) Name() string { return DialectRioDeJaneiro }

func (rioDialect) Validate(in ServiceInput) error {
	var v violations
	v.require(len(Digits(in.Service.municipalCode(in.Issuer))) == 6,
		"service.municipal_tax_code", "Rio de Janeiro requires a 6-digit municipal tax code")
	return v.err("services")
}

func (rioDialect) Apply(p *ServicePayload, in ServiceInput) {
	s := &p.Servico
	s.ItemListaServico = Digits(s.ItemListaServico)
	s.CodigoTributarioMunicipio = Digits(in.Service.municipalCode(in.Issuer))
	if p.OptanteSimplesNacional && p.RegimeEspecialTributacao == "" {
		p.RegimeEspecialTributacao = "6"
	}
}
