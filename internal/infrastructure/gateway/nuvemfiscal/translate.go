package nuvemfiscal

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/domain/fiscal/payload"
)

// ufCodes are the IBGE codes of the federative units.
var ufCodes = map[string]int{
	"RO": 11, "AC": 12, "AM": 13, "RR": 14, "PA": 15, "AP": 16, "TO": 17,
	"MA": 21, "PI": 22, "CE": 23, "RN": 24, "PB": 25, "PE": 26, "AL": 27, "SE": 28, "BA": 29,
	"MG": 31, "ES": 32, "RJ": 33, "SP": 35,
	"PR": 41, "SC": 42, "RS": 43,
	"MS": 50, "MT": 51, "GO": 52, "DF": 53,
}

// exemptPISCOFINS are the CSTs without base or value.
var exemptPISCOFINS = map[string]bool{"04": true, "05": true, "06": true, "07": true, "08": true, "09": true}

// Environment values of the API.
const (
	EnvProduction   = "producao"
	EnvHomologation = "homologacao"
)

type nfeRequest struct {
	Ambiente   string `json:"ambiente"`
	Referencia string `json:"referencia"`
	InfNFe     infNFe `json:"infNFe"`
}

type infNFe struct {
	Versao  string   `json:"versao"`
	Ide     ide      `json:"ide"`
	Emit    emit     `json:"emit"`
	Dest    dest     `json:"dest"`
	Det     []det    `json:"det"`
	Total   total    `json:"total"`
	Transp  transp   `json:"transp"`
	Pag     pag      `json:"pag"`
	InfAdic *infAdic `json:"infAdic,omitempty"`
}

type ide struct {
	CUF      int     `json:"cUF"`
	NatOp    string  `json:"natOp"`
	Mod      int     `json:"mod"`
	Serie    int     `json:"serie"`
	NNF      int64   `json:"nNF"`
	DhEmi    string  `json:"dhEmi"`
	TpNF     int     `json:"tpNF"`
	IDDest   int     `json:"idDest"`
	CMunFG   string  `json:"cMunFG"`
	TpImp    int     `json:"tpImp"`
	TpEmis   int     `json:"tpEmis"`
	FinNFe   int     `json:"finNFe"`
	IndFinal int     `json:"indFinal"`
	IndPres  int     `json:"indPres"`
	ProcEmi  int     `json:"procEmi"`
	VerProc  string  `json:"verProc"`
	NFref    []nfRef `json:"NFref,omitempty"`
}

type nfRef struct {
	RefNFe string `json:"refNFe"`
}

type address struct {
	XLgr    string `json:"xLgr"`
	Nro     string `json:"nro"`
	XBairro string `json:"xBairro"`
	CMun    string `json:"cMun"`
	XMun    string `json:"xMun"`
	UF      string `json:"UF"`
	CEP     string `json:"CEP"`
}

type emit struct {
	CNPJ      string  `json:"CNPJ"`
	XNome     string  `json:"xNome"`
	XFant     string  `json:"xFant,omitempty"`
	EnderEmit address `json:"enderEmit"`
	IE        string  `json:"IE"`
	CRT       int     `json:"CRT"`
}

type dest struct {
	CNPJ      *string `json:"CNPJ,omitempty"`
	CPF       *string `json:"CPF,omitempty"`
	XNome     string  `json:"xNome"`
	EnderDest address `json:"enderDest"`
	IndIEDest int     `json:"indIEDest"`
	IE        *string `json:"IE,omitempty"`
	Email     *string `json:"email,omitempty"`
}

type det struct {
	NItem   int     `json:"nItem"`
	Prod    prod    `json:"prod"`
	Imposto imposto `json:"imposto"`
}

type prod struct {
	CProd   string       `json:"cProd"`
	CEAN    string       `json:"cEAN"`
	XProd   string       `json:"xProd"`
	NCM     string       `json:"NCM"`
	CFOP    string       `json:"CFOP"`
	UCom    string       `json:"uCom"`
	QCom    json.Number  `json:"qCom"`
	VUnCom  json.Number  `json:"vUnCom"`
	VProd   json.Number  `json:"vProd"`
	CEANTri string       `json:"cEANTrib"`
	UTrib   string       `json:"uTrib"`
	QTrib   json.Number  `json:"qTrib"`
	VUnTrib json.Number  `json:"vUnTrib"`
	VDesc   *json.Number `json:"vDesc,omitempty"`
	IndTot  int          `json:"indTot"`
}

// imposto holds one group per tax keyed by its layout name (ICMS00, ICMSSN101, PISAliq...).
type imposto struct {
	ICMS   map[string]map[string]any `json:"ICMS"`
	IPI    map[string]any            `json:"IPI,omitempty"`
	PIS    map[string]map[string]any `json:"PIS"`
	COFINS map[string]map[string]any `json:"COFINS"`
}

type total struct {
	ICMSTot icmsTot `json:"ICMSTot"`
}

type icmsTot struct {
	VBC     json.Number `json:"vBC"`
	VICMS   json.Number `json:"vICMS"`
	VBCST   json.Number `json:"vBCST"`
	VST     json.Number `json:"vST"`
	VProd   json.Number `json:"vProd"`
	VDesc   json.Number `json:"vDesc"`
	VIPI    json.Number `json:"vIPI"`
	VPIS    json.Number `json:"vPIS"`
	VCOFINS json.Number `json:"vCOFINS"`
	VNF     json.Number `json:"vNF"`
}

type transp struct {
	ModFrete int `json:"modFrete"`
}

type pag struct {
	DetPag []detPag `json:"detPag"`
}

type detPag struct {
	TPag string      `json:"tPag"`
	VPag json.Number `json:"vPag"`
}

type infAdic struct {
	InfCpl string `json:"infCpl"`
}

// translateGoods reshapes the canonical NF-e body into the API's infNFe layout.
func translateGoods(env, ref string, body []byte) ([]byte, error) {
	p, err := payload.DecodeGoods(body)
	if err != nil {
		return nil, err
	}
	serie, err := strconv.Atoi(p.Serie)
	if err != nil {
		return nil, fmt.Errorf("nf-e series %q is not numeric", p.Serie)
	}

	idDest := 1
	if p.UFDestinatario != "" && p.UFDestinatario != p.UFEmitente {
		idDest = 2
	}

	inf := infNFe{
		Versao: "4.00",
		Ide: ide{
			CUF:      ufCodes[p.UFEmitente],
			NatOp:    p.NaturezaOperacao,
			Mod:      55,
			Serie:    serie,
			NNF:      p.Numero,
			DhEmi:    p.DataEmissao,
			TpNF:     p.TipoDocumento,
			IDDest:   idDest,
			CMunFG:   p.CodigoMunicipioEmitente,
			TpImp:    1,
			TpEmis:   1,
			FinNFe:   p.FinalidadeEmissao,
			IndFinal: p.ConsumidorFinal,
			IndPres:  p.PresencaComprador,
			VerProc:  "fiscalhub",
		},
		Emit: emit{
			CNPJ:  p.CNPJEmitente,
			XNome: p.NomeEmitente,
			XFant: p.NomeFantasiaEmitente,
			EnderEmit: address{
				XLgr:    p.LogradouroEmitente,
				Nro:     p.NumeroEmitente,
				XBairro: p.BairroEmitente,
				CMun:    p.CodigoMunicipioEmitente,
				XMun:    p.MunicipioEmitente,
				UF:      p.UFEmitente,
				CEP:     p.CEPEmitente,
			},
			IE:  p.InscricaoEstadualEmitente,
			CRT: p.RegimeTributarioEmitente,
		},
		Dest: dest{
			CNPJ:  p.CNPJDestinatario,
			CPF:   p.CPFDestinatario,
			XNome: p.NomeDestinatario,
			EnderDest: address{
				XLgr:    p.LogradouroDestinatario,
				Nro:     p.NumeroDestinatario,
				XBairro: p.BairroDestinatario,
				CMun:    p.CodigoMunicipioDestinatario,
				XMun:    p.MunicipioDestinatario,
				UF:      p.UFDestinatario,
				CEP:     p.CEPDestinatario,
			},
			IndIEDest: p.IndicadorInscricaoEstadualDestinatario,
			IE:        p.InscricaoEstadualDestinatario,
			Email:     p.EmailDestinatario,
		},
		Total: total{ICMSTot: icmsTot{
			VBC:     num(p.ICMSBaseCalculo),
			VICMS:   num(p.ICMSValorTotal),
			VBCST:   num(p.ICMSBaseCalculoST),
			VST:     num(p.ICMSValorTotalST),
			VProd:   num(p.ValorProdutos),
			VDesc:   num(p.ValorDesconto),
			VIPI:    num(p.ValorIPI),
			VPIS:    num(p.ValorPIS),
			VCOFINS: num(p.ValorCOFINS),
			VNF:     num(p.ValorTotal),
		}},
		Transp: transp{ModFrete: p.ModalidadeFrete},
	}

	for _, n := range p.NotasReferenciadas {
		inf.Ide.NFref = append(inf.Ide.NFref, nfRef{RefNFe: n.ChaveNFe})
	}
	for _, it := range p.Items {
		inf.Det = append(inf.Det, translateItem(it))
	}
	for _, fp := range p.FormasPagamento {
		inf.Pag.DetPag = append(inf.Pag.DetPag, detPag{TPag: fp.FormaPagamento, VPag: num(fp.ValorPagamento)})
	}
	if p.InformacoesAdicionais != "" {
		inf.InfAdic = &infAdic{InfCpl: p.InformacoesAdicionais}
	}

	return payload.Marshal(nfeRequest{Ambiente: env, Referencia: ref, InfNFe: inf})
}

func translateItem(it payload.GoodsItem) det {
	return det{
		NItem: it.NumeroItem,
		Prod: prod{
			CProd:   it.CodigoProduto,
			CEAN:    "SEM GTIN",
			XProd:   it.Descricao,
			NCM:     it.CodigoNCM,
			CFOP:    it.CFOP,
			UCom:    it.UnidadeComercial,
			QCom:    num(it.QuantidadeComercial),
			VUnCom:  num(it.ValorUnitarioComercial),
			VProd:   num(it.ValorBruto),
			CEANTri: "SEM GTIN",
			UTrib:   it.UnidadeTributavel,
			QTrib:   num(it.QuantidadeTributavel),
			VUnTrib: num(it.ValorUnitarioTributavel),
			VDesc:   numPtr(it.ValorDesconto),
			IndTot:  1,
		},
		Imposto: imposto{
			ICMS:   icmsGroup(it),
			IPI:    ipiGroup(it),
			PIS:    contributionGroup("PIS", it.PISSituacaoTributaria, it.PISBaseCalculo, it.PISAliquotaPorcentual, it.PISValor),
			COFINS: contributionGroup("COFINS", it.COFINSSituacaoTributaria, it.COFINSBaseCalculo, it.COFINSAliquotaPorcentual, it.COFINSValor),
		},
	}
}

// icmsGroup picks the layout group from the situation code. Three digits are
// a CSOSN, two a CST.
func icmsGroup(it payload.GoodsItem) map[string]map[string]any {
	code := it.ICMSSituacaoTributaria
	fields := map[string]any{"orig": it.ICMSOrigem}

	var group string
	if len(code) == 3 {
		fields["CSOSN"] = code
		switch code {
		case "102", "103", "300", "400":
			group = "ICMSSN102"
		case "202", "203":
			group = "ICMSSN202"
		default:
			group = "ICMSSN" + code
		}
	} else {
		fields["CST"] = code
		switch code {
		case "40", "41", "50":
			group = "ICMS40"
		default:
			group = "ICMS" + code
		}
	}

	setInt(fields, "modBC", it.ICMSModalidadeBaseCalculo)
	setNum(fields, "vBC", it.ICMSBaseCalculo)
	setNum(fields, "pRedBC", it.ICMSReducaoBaseCalculo)
	setNum(fields, "pICMS", it.ICMSAliquota)
	setNum(fields, "vICMS", it.ICMSValor)
	setInt(fields, "modBCST", it.ICMSModalidadeBaseCalculoST)
	setNum(fields, "pMVAST", it.ICMSMargemValorAdicionadoST)
	setNum(fields, "pRedBCST", it.ICMSReducaoBaseCalculoST)
	setNum(fields, "vBCST", it.ICMSBaseCalculoST)
	setNum(fields, "pICMSST", it.ICMSAliquotaST)
	setNum(fields, "vICMSST", it.ICMSValorST)
	setNum(fields, "vBCSTRet", it.ICMSBaseCalculoRetidoST)
	setNum(fields, "vICMSSTRet", it.ICMSValorRetidoST)
	setNum(fields, "pCredSN", it.ICMSAliquotaCreditoSimples)
	setNum(fields, "vCredICMSSN", it.ICMSValorCreditoSimples)

	return map[string]map[string]any{group: fields}
}

func ipiGroup(it payload.GoodsItem) map[string]any {
	if it.IPISituacaoTributaria == nil {
		return nil
	}
	enq := "999"
	if it.IPICodigoEnquadramentoLegal != nil {
		enq = *it.IPICodigoEnquadramentoLegal
	}
	fields := map[string]any{"CST": *it.IPISituacaoTributaria}
	if it.IPIValor == nil {
		return map[string]any{"cEnq": enq, "IPINT": fields}
	}
	setNum(fields, "vBC", it.IPIBaseCalculo)
	setNum(fields, "pIPI", it.IPIAliquota)
	setNum(fields, "vIPI", it.IPIValor)
	return map[string]any{"cEnq": enq, "IPITrib": fields}
}

func contributionGroup(tax, cst string, base, rate, value *string) map[string]map[string]any {
	fields := map[string]any{"CST": cst}
	switch {
	case exemptPISCOFINS[cst]:
		return map[string]map[string]any{tax + "NT": fields}
	case value != nil && (cst == "01" || cst == "02"):
		setNum(fields, "vBC", base)
		setNum(fields, "p"+tax, rate)
		setNum(fields, "v"+tax, value)
		return map[string]map[string]any{tax + "Aliq": fields}
	default:
		setNum(fields, "vBC", base)
		setNum(fields, "p"+tax, rate)
		setNum(fields, "v"+tax, value)
		return map[string]map[string]any{tax + "Outr": fields}
	}
}

type nfseRequest struct {
	Provedor   string `json:"provedor"`
	Ambiente   string `json:"ambiente"`
	Referencia string `json:"referencia"`
	InfDPS     infDPS `json:"infDPS"`
}

type infDPS struct {
	TpAmb    int     `json:"tpAmb"`
	DhEmi    string  `json:"dhEmi"`
	VerAplic string  `json:"verAplic"`
	Serie    string  `json:"serie"`
	NDPS     string  `json:"nDPS"`
	DCompet  string  `json:"dCompet"`
	TpEmit   int     `json:"tpEmit"`
	CLocEmi  string  `json:"cLocEmi"`
	Prest    prest   `json:"prest"`
	Toma     toma    `json:"toma"`
	Serv     serv    `json:"serv"`
	Valores  valores `json:"valores"`
}

type prest struct {
	CNPJ    string  `json:"CNPJ"`
	IM      string  `json:"IM,omitempty"`
	RegTrib regTrib `json:"regTrib"`
}

type regTrib struct {
	OpSimpNac  int `json:"opSimpNac"`
	RegEspTrib int `json:"regEspTrib"`
}

type toma struct {
	CNPJ  *string `json:"CNPJ,omitempty"`
	CPF   *string `json:"CPF,omitempty"`
	XNome string  `json:"xNome"`
	IM    *string `json:"IM,omitempty"`
	End   tomaEnd `json:"end"`
	Fone  *string `json:"fone,omitempty"`
	Email *string `json:"email,omitempty"`
}

type tomaEnd struct {
	EndNac  endNac `json:"endNac"`
	XLgr    string `json:"xLgr"`
	Nro     string `json:"nro"`
	XCpl    string `json:"xCpl,omitempty"`
	XBairro string `json:"xBairro"`
}

type endNac struct {
	CMun string `json:"cMun"`
	CEP  string `json:"CEP"`
}

type serv struct {
	LocPrest locPrest `json:"locPrest"`
	CServ    cServ    `json:"cServ"`
}

type locPrest struct {
	CLocPrestacao string `json:"cLocPrestacao"`
}

type cServ struct {
	CTribNac  string `json:"cTribNac,omitempty"`
	CTribMun  string `json:"cTribMun,omitempty"`
	XDescServ string `json:"xDescServ"`
}

type valores struct {
	VServPrest      vServPrest       `json:"vServPrest"`
	VDescCondIncond *vDescCondIncond `json:"vDescCondIncond,omitempty"`
	VDedRed         *vDedRed         `json:"vDedRed,omitempty"`
	Trib            trib             `json:"trib"`
}

type vServPrest struct {
	VServ json.Number `json:"vServ"`
}

type vDescCondIncond struct {
	VDescIncond json.Number `json:"vDescIncond"`
}

type vDedRed struct {
	VDR json.Number `json:"vDR"`
}

type trib struct {
	TribMun tribMun  `json:"tribMun"`
	TribFed *tribFed `json:"tribFed,omitempty"`
	TotTrib totTrib  `json:"totTrib"`
}

type tribMun struct {
	TribISSQN  int         `json:"tribISSQN"`
	TpRetISSQN int         `json:"tpRetISSQN"`
	PAliq      json.Number `json:"pAliq"`
}

type tribFed struct {
	VRetPIS    *json.Number `json:"vRetPIS,omitempty"`
	VRetCOFINS *json.Number `json:"vRetCOFINS,omitempty"`
	VRetCP     *json.Number `json:"vRetCP,omitempty"`
	VRetIRRF   *json.Number `json:"vRetIRRF,omitempty"`
	VRetCSLL   *json.Number `json:"vRetCSLL,omitempty"`
}

type totTrib struct {
	IndTotTrib int `json:"indTotTrib"`
}

// translateServices reshapes the canonical NFS-e body into a national DPS.
func translateServices(env, ref string, body []byte) ([]byte, error) {
	p, err := payload.DecodeServices(body)
	if err != nil {
		return nil, err
	}
	s := p.Servico

	tpAmb := 2
	if env == EnvProduction {
		tpAmb = 1
	}
	opSimpNac := 1
	if p.OptanteSimplesNacional {
		opSimpNac = 3
	}
	regEsp, _ := strconv.Atoi(p.RegimeEspecialTributacao)
	retISS := 1
	if s.ISSRetido {
		retISS = 2
	}

	dps := infDPS{
		TpAmb:    tpAmb,
		DhEmi:    p.DataEmissao,
		VerAplic: "fiscalhub",
		Serie:    p.RPS.Serie,
		NDPS:     strconv.FormatInt(p.RPS.Numero, 10),
		DCompet:  competence(p.DataEmissao),
		TpEmit:   1,
		CLocEmi:  p.Prestador.CodigoMunicipio,
		Prest: prest{
			CNPJ:    p.Prestador.CNPJ,
			IM:      p.Prestador.InscricaoMunicipal,
			RegTrib: regTrib{OpSimpNac: opSimpNac, RegEspTrib: regEsp},
		},
		Toma: toma{
			CNPJ:  p.Tomador.CNPJ,
			CPF:   p.Tomador.CPF,
			XNome: p.Tomador.RazaoSocial,
			IM:    p.Tomador.InscricaoMunicipal,
			End: tomaEnd{
				EndNac:  endNac{CMun: p.Tomador.Endereco.CodigoMunicipio, CEP: p.Tomador.Endereco.CEP},
				XLgr:    p.Tomador.Endereco.Logradouro,
				Nro:     p.Tomador.Endereco.Numero,
				XCpl:    p.Tomador.Endereco.Complemento,
				XBairro: p.Tomador.Endereco.Bairro,
			},
			Fone:  p.Tomador.Telefone,
			Email: p.Tomador.Email,
		},
		Serv: serv{
			LocPrest: locPrest{CLocPrestacao: s.CodigoMunicipio},
			CServ: cServ{
				CTribNac:  nationalCode(s.ItemListaServico),
				CTribMun:  s.CodigoTributarioMunicipio,
				XDescServ: s.Discriminacao,
			},
		},
		Valores: valores{
			VServPrest: vServPrest{VServ: num(s.ValorServicos)},
			Trib: trib{
				TribMun: tribMun{TribISSQN: 1, TpRetISSQN: retISS, PAliq: percent(s.Aliquota)},
			},
		},
	}

	if s.DescontoIncondicionado != nil {
		dps.Valores.VDescCondIncond = &vDescCondIncond{VDescIncond: num(*s.DescontoIncondicionado)}
	}
	if s.ValorDeducoes != nil {
		dps.Valores.VDedRed = &vDedRed{VDR: num(*s.ValorDeducoes)}
	}
	fed := tribFed{
		VRetPIS:    numPtr(s.ValorPIS),
		VRetCOFINS: numPtr(s.ValorCOFINS),
		VRetCP:     numPtr(s.ValorINSS),
		VRetIRRF:   numPtr(s.ValorIR),
		VRetCSLL:   numPtr(s.ValorCSLL),
	}
	if fed != (tribFed{}) {
		dps.Valores.Trib.TribFed = &fed
	}

	return payload.Marshal(nfseRequest{Provedor: "padrao", Ambiente: env, Referencia: ref, InfDPS: dps})
}

// nationalCode turns an LC 116 item ("14.01") into the 6-digit national code.
func nationalCode(item string) string {
	d := payload.Digits(item)
	if len(d) == 4 {
		return d + "01"
	}
	return d
}

// percent accepts "5.00" or the fraction form "0.0500" and returns a percentage.
func percent(rate string) json.Number {
	if i := strings.IndexByte(rate, '.'); i >= 0 && len(rate)-i-1 == 4 {
		if d, err := decimal.NewFromString(rate); err == nil {
			return json.Number(d.Shift(2).StringFixed(2))
		}
	}
	return num(rate)
}

func competence(issuedAt string) string {
	if len(issuedAt) >= 10 {
		return issuedAt[:10]
	}
	return issuedAt
}

func num(s string) json.Number {
	if s == "" {
		return "0"
	}
	return json.Number(s)
}

func numPtr(s *string) *json.Number {
	if s == nil {
		return nil
	}
	n := num(*s)
	return &n
}

func setNum(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = num(*v)
	}
}

func setInt(m map[string]any, key string, v *int) {
	if v != nil {
		m[key] = *v
	}
}
