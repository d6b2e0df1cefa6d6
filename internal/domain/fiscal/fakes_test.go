package fiscal

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/id"
	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/domain/fiscal/payload"
)

const testTenant = "tenant-a"

func tenantCtx() context.Context {
	return tenant.WithTenant(context.Background(), &tenant.Tenant{ID: testTenant, Status: tenant.StatusActive})
}

// memDocs is an in-memory DocumentRepository.
type memDocs struct {
	mu      sync.Mutex
	byID    map[id.ID]*FiscalDocument
	order   []id.ID
	updates int
	failOn  map[id.ID]error
}

func newMemDocs() *memDocs {
	return &memDocs{byID: make(map[id.ID]*FiscalDocument), failOn: make(map[id.ID]error)}
}

func (m *memDocs) Create(_ context.Context, doc *FiscalDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.Reference == doc.Reference {
			return apperror.NewDuplicate("fiscal document", "reference", doc.Reference)
		}
	}
	cp := *doc
	m.byID[doc.ID] = &cp
	m.order = append(m.order, doc.ID)
	return nil
}

func (m *memDocs) Update(_ context.Context, doc *FiscalDocument) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.failOn[doc.ID]; err != nil {
		return err
	}
	if _, ok := m.byID[doc.ID]; !ok {
		return apperror.NewNotFound("fiscal document", doc.ID)
	}
	cp := *doc
	m.byID[doc.ID] = &cp
	m.updates++
	return nil
}

func (m *memDocs) GetByID(_ context.Context, docID id.ID) (*FiscalDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.byID[docID]
	if !ok {
		return nil, apperror.NewNotFound("fiscal document", docID)
	}
	cp := *d
	return &cp, nil
}

func (m *memDocs) GetByReference(_ context.Context, tenantID, reference string) (*FiscalDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, d := range m.byID {
		if d.TenantID == tenantID && d.Reference == reference {
			cp := *d
			return &cp, nil
		}
	}
	return nil, apperror.NewNotFound("fiscal document", reference)
}

// ListPendingContingency returns documents newest first so callers cannot rely
// on repository order.
func (m *memDocs) ListPendingContingency(_ context.Context, tenantID string, limit int) ([]*FiscalDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FiscalDocument
	for i := len(m.order) - 1; i >= 0; i-- {
		d := m.byID[m.order[i]]
		if d.TenantID == tenantID && d.Status == StatusPending && d.ContingencyMode {
			cp := *d
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDocs) CountPendingContingency(ctx context.Context, tenantID string) (int, error) {
	docs, err := m.ListPendingContingency(ctx, tenantID, 1<<30)
	return len(docs), err
}

func (m *memDocs) ListByStatus(_ context.Context, tenantID string, status Status, limit int) ([]*FiscalDocument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*FiscalDocument
	for _, docID := range m.order {
		d := m.byID[docID]
		if d.TenantID == tenantID && d.Status == status {
			cp := *d
			out = append(out, &cp)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memDocs) get(docID id.ID) *FiscalDocument {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byID[docID]
}

func reservation(number int64) numerator.Reservation {
	return numerator.Reservation{Number: number, Series: numerator.DefaultSeries}
}

// seedQueued stores a contingency document created at the given time.
func (m *memDocs) seedQueued(number int64, createdAt time.Time, body string) *FiscalDocument {
	doc := NewDocument(testTenant, KindGoodsInvoice, "ref-"+strconv.FormatInt(number, 10), reservation(number))
	doc.CreatedAt = createdAt
	doc.ContingencyMode = true
	doc.ContingencyPayload = []byte(body)
	_ = m.Create(context.Background(), doc)
	return doc
}

type fakeProfiles struct {
	profile *Profile
	err     error
}

func (f *fakeProfiles) Get(_ context.Context, _ string) (*Profile, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.profile
	return &cp, nil
}

func (f *fakeProfiles) Save(_ context.Context, p *Profile) error {
	f.profile = p
	return nil
}

// emitCall records one emission the fake gateway received.
type emitCall struct {
	family numerator.Family
	ref    string
	body   []byte
}

// fakeGateway scripts gateway answers.
type fakeGateway struct {
	mu sync.Mutex

	available bool
	emit      func(call emitCall) GatewayResult
	query     func(ref Reference) GatewayResult
	cancel    func(ref Reference, justification string) GatewayResult
	file      []byte

	emits  []emitCall
	probes int
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) record(call emitCall) GatewayResult {
	g.mu.Lock()
	g.emits = append(g.emits, call)
	g.mu.Unlock()
	if g.emit == nil {
		return GatewayResult{Success: true, Status: StatusAuthorized, AccessKey: "35260312345678000195550010000000011000000010", Failure: FailureNone}
	}
	return g.emit(call)
}

func (g *fakeGateway) EmitGoods(_ context.Context, ref string, body []byte) GatewayResult {
	return g.record(emitCall{family: numerator.FamilyNFe, ref: ref, body: body})
}

func (g *fakeGateway) EmitServices(_ context.Context, ref string, body []byte) GatewayResult {
	return g.record(emitCall{family: numerator.FamilyNFSe, ref: ref, body: body})
}

func (g *fakeGateway) QueryStatus(_ context.Context, ref Reference) GatewayResult {
	if g.query == nil {
		return Failed(FailureUnreachable, "no status", nil)
	}
	return g.query(ref)
}

func (g *fakeGateway) Cancel(_ context.Context, ref Reference, justification string) GatewayResult {
	if g.cancel == nil {
		return GatewayResult{Success: true, Status: StatusCancelled, Failure: FailureNone}
	}
	return g.cancel(ref, justification)
}

func (g *fakeGateway) DownloadPDF(_ context.Context, _ Reference) ([]byte, GatewayResult) {
	if g.file == nil {
		return nil, Failed(FailureUnreachable, "timeout", nil)
	}
	return g.file, GatewayResult{Success: true, Failure: FailureNone}
}

func (g *fakeGateway) DownloadXML(ctx context.Context, ref Reference) ([]byte, GatewayResult) {
	return g.DownloadPDF(ctx, ref)
}

func (g *fakeGateway) QueryAuthorityStatus(_ context.Context, _ string) GatewayResult {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.probes++
	if g.available {
		return GatewayResult{Success: true, Failure: FailureNone}
	}
	return Failed(FailureUnreachable, "authority offline", nil)
}

func (g *fakeGateway) emitCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.emits)
}

type fakeResolver struct {
	gw  Gateway
	err error
}

func (r fakeResolver) Resolve(context.Context, string) (Gateway, error) {
	return r.gw, r.err
}

type publishedEvent struct {
	docID id.ID
	event Event
}

type fakeEvents struct {
	mu     sync.Mutex
	events []publishedEvent
}

func (f *fakeEvents) Publish(_ context.Context, doc *FiscalDocument, event Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, publishedEvent{docID: doc.ID, event: event})
	return nil
}

func (f *fakeEvents) names() []Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Event, 0, len(f.events))
	for _, e := range f.events {
		out = append(out, e.event)
	}
	return out
}

type passthroughTx struct{}

func (passthroughTx) RunInTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

var errDatabase = errors.New("connection reset")

func testProfile() *Profile {
	return &Profile{
		TenantID: testTenant,
		Region:   "SP",
		Provider: ProviderFocusNFe,
		Issuer: payload.Issuer{
			CNPJ:                  "12345678000195",
			LegalName:             "Oficina Exemplo LTDA",
			StateRegistration:     "110042490114",
			MunicipalRegistration: "12345678",
			Regime:                payload.RegimeSimplesNacional,
			Address: payload.Address{
				Street:   "Rua Augusta",
				Number:   "100",
				District: "Consolação",
				City:     "Campinas",
				CityCode: "3509502",
				State:    "SP",
				ZipCode:  "13010000",
			},
			ServiceCode: "14.01",
			ISSRate:     decimal.NewFromInt(5),
		},
	}
}

func testRecipient() payload.Recipient {
	return payload.Recipient{
		Document: "98765432000110",
		Name:     "Cliente SA",
		Address:  payload.Address{Street: "Av. Brasil", Number: "1", District: "Centro", City: "Rio de Janeiro", CityCode: "3304557", State: "RJ", ZipCode: "20040000"},
	}
}

func goodsRequest(reference string) EmissionRequest {
	return EmissionRequest{
		Kind:      KindGoodsInvoice,
		Reference: reference,
		Recipient: testRecipient(),
		Items: []payload.Item{{
			Code:        "P-1",
			Description: "Filtro de óleo",
			NCM:         "84212300",
			CFOP:        "5102",
			Quantity:    decimal.NewFromInt(1),
			UnitPrice:   decimal.NewFromInt(10000),
			ICMS:        payload.ICMSTax{CSOSN: "900", Rate: decimal.NewFromInt(7)},
		}},
	}
}

func serviceRequest(reference string) EmissionRequest {
	return EmissionRequest{
		Kind:      KindServiceInvoice,
		Reference: reference,
		Recipient: testRecipient(),
		Service: &payload.Service{
			Description: "Manutenção preventiva",
			Amount:      decimal.NewFromInt(800),
		},
	}
}

// fixture wires a Service with in-memory collaborators.
type fixture struct {
	docs        *memDocs
	gw          *fakeGateway
	events      *fakeEvents
	numbers     *numerator.MemoryGenerator
	profiles    *fakeProfiles
	contingency *ContingencyManager
	svc         *Service
}

func newFixture() *fixture {
	f := &fixture{
		docs:     newMemDocs(),
		gw:       &fakeGateway{available: true},
		events:   &fakeEvents{},
		numbers:  numerator.NewMemoryGenerator(),
		profiles: &fakeProfiles{profile: testProfile()},
	}
	resolver := fakeResolver{gw: f.gw}
	f.contingency = NewContingencyManager(f.docs, f.profiles, resolver, f.events, passthroughTx{})
	f.svc = NewService(f.docs, f.profiles, f.numbers, resolver, nil, f.contingency, f.events, passthroughTx{})
	f.svc.now = func() time.Time { return time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC) }
	return f
}
