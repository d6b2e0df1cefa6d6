// Package fiscal implements the emission pipeline for NF-e and NFS-e documents:
// the document lifecycle, the gateway contract, contingency queuing and
// webhook notification.
package fiscal

import (
	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/domain/fiscal/payload"
)

// Kind is the business kind of a fiscal document.
type Kind string

const (
	KindGoodsInvoice   Kind = "goods-invoice"
	KindServiceInvoice Kind = "service-invoice"
	KindReturn         Kind = "return"
	KindComplementary  Kind = "complementary"
	KindConsignmentOut Kind = "consignment-out"
	KindConsignmentIn  Kind = "consignment-in"
	KindWaybill        Kind = "waybill"
	KindManifest       Kind = "manifest"
)

type kindProfile struct {
	family      numerator.Family
	purpose     payload.Purpose
	direction   payload.Direction
	nature      string
	needsParent bool
}

var kindProfiles = map[Kind]kindProfile{
	KindGoodsInvoice:   {family: numerator.FamilyNFe, purpose: payload.PurposeNormal, direction: payload.DirectionExit, nature: "Venda de mercadoria"},
	KindServiceInvoice: {family: numerator.FamilyNFSe},
	KindReturn:         {family: numerator.FamilyNFe, purpose: payload.PurposeReturn, direction: payload.DirectionEntry, nature: "Devolução de mercadoria", needsParent: true},
	KindComplementary:  {family: numerator.FamilyNFe, purpose: payload.PurposeComplementary, direction: payload.DirectionExit, nature: "Complemento de valor", needsParent: true},
	KindConsignmentOut: {family: numerator.FamilyNFe, purpose: payload.PurposeNormal, direction: payload.DirectionExit, nature: "Remessa em consignação"},
	KindConsignmentIn:  {family: numerator.FamilyNFe, purpose: payload.PurposeNormal, direction: payload.DirectionEntry, nature: "Retorno de mercadoria em consignação"},
	KindWaybill:        {family: numerator.FamilyNFe, purpose: payload.PurposeNormal, direction: payload.DirectionExit, nature: "Remessa de mercadoria"},
	KindManifest:       {family: numerator.FamilyNFe, purpose: payload.PurposeNormal, direction: payload.DirectionExit, nature: "Remessa para entrega futura"},
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindProfiles[k]
	return ok
}

// Family returns the numbering family of the kind: nfse for services, nfe otherwise.
func (k Kind) Family() numerator.Family {
	return kindProfiles[k].family
}

// IsService reports whether the kind is emitted as an NFS-e.
func (k Kind) IsService() bool {
	return k.Family() == numerator.FamilyNFSe
}

// RequiresParent reports whether the kind must reference an authorized NF-e.
func (k Kind) RequiresParent() bool {
	return kindProfiles[k].needsParent
}

// DefaultNature is natureza_operacao used when the request does not set one.
func (k Kind) DefaultNature() string {
	return kindProfiles[k].nature
}

func (k Kind) purpose() payload.Purpose     { return kindProfiles[k].purpose }
func (k Kind) direction() payload.Direction { return kindProfiles[k].direction }
