package fiscal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"fiscalhub/internal/core/apperror"
	"fiscalhub/internal/core/id"
	"fiscalhub/internal/core/numerator"
	"fiscalhub/internal/core/tenant"
	"fiscalhub/internal/core/tx"
	"fiscalhub/internal/domain/fiscal/payload"
	"fiscalhub/pkg/logger"
)

// Cancellation justification bounds accepted by the authorities.
const (
	minJustification = 15
	maxJustification = 255
)

// Service runs the emission pipeline: validate, reserve a number, build the
// payload, call the gateway and fold the answer into the document.
// In Database-per-Tenant architecture, TxManager is obtained from context.
type Service struct {
	store       store
	docs        DocumentRepository
	profiles    ProfileRepository
	numbers     numerator.Generator
	gateways    GatewayResolver
	services    *payload.ServiceBuilder
	contingency *ContingencyManager
	now         func() time.Time
}

// NewService creates the emission service.
func NewService(
	docs DocumentRepository,
	profiles ProfileRepository,
	numbers numerator.Generator,
	gateways GatewayResolver,
	services *payload.ServiceBuilder,
	contingency *ContingencyManager,
	events EventPublisher,
	txManager tx.Manager,
) *Service {
	if services == nil {
		services = payload.NewServiceBuilder(nil)
	}
	return &Service{
		store:       store{docs: docs, events: events, txManager: txManager},
		docs:        docs,
		profiles:    profiles,
		numbers:     numbers,
		gateways:    gateways,
		services:    services,
		contingency: contingency,
		now:         time.Now,
	}
}

// draft is a request resolved against the tenant profile, ready to be built
// once a number is reserved.
type draft struct {
	req     EmissionRequest
	profile *Profile
	parent  *FiscalDocument
	goods   payload.GoodsInput
	service payload.ServiceInput
}

// Emit creates and transmits one fiscal document. Validation and numbering
// failures are returned as errors before anything is sent. Upstream failures
// come back in the result: rejections end the document, an unreachable
// authority queues it for contingency.
func (s *Service) Emit(ctx context.Context, req EmissionRequest) (*EmissionResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	tenantID := tenant.GetTenantID(ctx)

	existing, err := s.docs.GetByReference(ctx, tenantID, req.Reference)
	switch {
	case err == nil:
		return nil, apperror.NewAlreadyEmitted(req.Reference, string(existing.Status)).
			WithDetail("document_id", existing.ID.String())
	case !apperror.IsNotFound(err):
		return nil, fmt.Errorf("check reference: %w", err)
	}

	d, err := s.prepare(ctx, tenantID, req)
	if err != nil {
		return nil, err
	}
	gw, err := s.gateways.Resolve(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}

	reservation, err := s.numbers.Reserve(ctx, tenantID, req.Kind.Family(), req.Series)
	if err != nil {
		if errors.Is(err, numerator.ErrSeriesMismatch) {
			return nil, apperror.NewBusinessRule(apperror.CodeSeriesMismatch, "series does not match the tenant counter").
				WithDetail("series", req.Series).WithCause(err)
		}
		return nil, apperror.NewNumbering(err)
	}

	doc := NewDocument(tenantID, req.Kind, req.Reference, reservation)
	doc.Recipient = req.Recipient
	if d.parent != nil {
		doc.ParentID = &d.parent.ID
	}
	issuedAt := d.issuedAt(s.now())
	doc.IssuedAt = &issuedAt

	body, total, err := s.build(d, doc, issuedAt)
	if err != nil {
		return nil, err
	}
	doc.Total = total

	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	log := logger.FromContext(ctx).WithDocument(doc.ID.String(), doc.Series, doc.Number)
	log.Infow("document reserved", "kind", doc.Kind, "reference", doc.Reference, "provider", gw.Name())

	res := Emit(ctx, gw, doc.Family, doc.Reference, body)
	before := markOf(doc)
	if err := doc.Apply(res); err != nil {
		// The number is spent; queue the row so retransmission picks it up.
		doc.ErrorMessage = err.Error()
		if qerr := s.contingency.SaveOffline(ctx, doc, body); qerr != nil {
			return nil, errors.Join(err, qerr)
		}
		log.Errorw("provider answer does not fit the document lifecycle", "status", res.Status, "error", err)
		return nil, err
	}

	if res.Failure.Retryable() {
		if err := s.contingency.SaveOffline(ctx, doc, body); err != nil {
			return nil, err
		}
		return resultOf(doc, res), nil
	}

	if err := s.store.save(ctx, doc, before); err != nil {
		return nil, fmt.Errorf("record emission: %w", err)
	}
	if doc.Status == StatusRejected {
		log.Warnw("document rejected", "error", doc.ErrorMessage)
	} else {
		log.Infow("document emitted", "status", doc.Status, "access_key", doc.AccessKey)
	}
	return resultOf(doc, res), nil
}

// prepare loads the profile and parent and runs every payload check that does
// not need a number, so a failure here consumes nothing.
func (s *Service) prepare(ctx context.Context, tenantID string, req EmissionRequest) (*draft, error) {
	profile, err := s.profiles.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("load fiscal profile: %w", err)
	}
	d := &draft{req: req, profile: profile}

	if req.Kind.RequiresParent() {
		parent, err := s.docs.GetByID(ctx, *req.ParentID)
		if err != nil {
			return nil, err
		}
		if parent.Status != StatusAuthorized || parent.Family != numerator.FamilyNFe || parent.AccessKey == "" {
			return nil, apperror.NewBusinessRule(apperror.CodeBusinessRule, "referenced document must be an authorized NF-e").
				WithDetail("parent_id", parent.ID.String()).
				WithDetail("parent_status", string(parent.Status))
		}
		d.parent = parent
	}

	if req.Kind.IsService() {
		d.service = payload.ServiceInput{
			Issuer:    profile.Issuer,
			Recipient: req.Recipient,
			Service:   *req.Service,
		}
		return d, s.services.Validate(d.service)
	}

	opts := req.Options
	if d.parent != nil && !containsKey(opts.ReferencedKeys, d.parent.AccessKey) {
		opts.ReferencedKeys = append([]string{d.parent.AccessKey}, opts.ReferencedKeys...)
	}
	nature := req.Nature
	if nature == "" {
		nature = req.Kind.DefaultNature()
	}
	d.goods = payload.GoodsInput{
		Issuer:    profile.Issuer,
		Recipient: req.Recipient,
		Items:     req.Items,
		Purpose:   req.Kind.purpose(),
		Direction: req.Kind.direction(),
		Nature:    nature,
		Options:   opts,
	}
	return d, payload.ValidateGoods(d.goods)
}

func (d *draft) issuedAt(now time.Time) time.Time {
	if d.req.IssuedAt != nil {
		return d.req.IssuedAt.UTC()
	}
	return now.UTC().Truncate(time.Second)
}

// build renders the payload for the reserved number and snapshots what was invoiced.
func (s *Service) build(d *draft, doc *FiscalDocument, issuedAt time.Time) ([]byte, decimal.Decimal, error) {
	if d.req.Kind.IsService() {
		in := d.service
		in.Series, in.Number, in.IssuedAt = doc.Series, doc.Number, issuedAt
		p, err := s.services.Build(in)
		if err != nil {
			return nil, decimal.Zero, err
		}
		svc := in.Service
		doc.Service = &svc
		body, err := payload.Marshal(p)
		return body, in.Service.Amount.Round(2), err
	}

	in := d.goods
	in.Series, in.Number, in.IssuedAt = doc.Series, doc.Number, issuedAt
	p, err := payload.BuildGoods(in)
	if err != nil {
		return nil, decimal.Zero, err
	}
	doc.Items = in.Items
	total, err := decimal.NewFromString(p.ValorTotal)
	if err != nil {
		return nil, decimal.Zero, fmt.Errorf("parse total: %w", err)
	}
	body, err := payload.Marshal(p)
	return body, total, err
}

func containsKey(keys []string, key string) bool {
	for _, k := range keys {
		if payload.Digits(k) == key {
			return true
		}
	}
	return false
}

// Get returns one document.
func (s *Service) Get(ctx context.Context, docID id.ID) (*FiscalDocument, error) {
	return s.docs.GetByID(ctx, docID)
}

// Cancel asks the provider to cancel an authorized document. The document only
// moves to cancelled when the provider confirms it; an accepted but unconfirmed
// request is picked up later by RefreshStatus.
func (s *Service) Cancel(ctx context.Context, docID id.ID, justification string) (*EmissionResult, error) {
	justification = strings.TrimSpace(justification)
	if n := utf8.RuneCountInString(justification); n < minJustification || n > maxJustification {
		return nil, apperror.NewValidation(
			fmt.Sprintf("justification must have between %d and %d characters", minJustification, maxJustification)).
			WithDetail("field", "justification")
	}

	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(doc.Status, StatusCancelled) {
		return nil, apperror.NewInvalidTransition(string(doc.Status), string(StatusCancelled)).
			WithDetail("document_id", doc.ID.String())
	}

	gw, err := s.gateways.Resolve(ctx, doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}

	res := gw.Cancel(ctx, doc.GatewayRef(), justification)
	if !res.Success {
		logger.Warn(ctx, "cancellation failed", "document_id", doc.ID, "failure", res.Failure, "error", res.ErrorMessage)
		return resultOf(doc, res), nil
	}

	before := markOf(doc)
	if len(res.RawResponse) > 0 {
		doc.LastResponse = res.RawResponse
	}
	if res.Status == StatusCancelled {
		if err := doc.Transition(StatusCancelled); err != nil {
			return nil, err
		}
	}
	if err := s.store.save(ctx, doc, before); err != nil {
		return nil, fmt.Errorf("record cancellation: %w", err)
	}

	logger.Info(ctx, "cancellation accepted", "document_id", doc.ID, "status", doc.Status)
	return resultOf(doc, res), nil
}

// RefreshStatus queries the provider for a document in flight and applies the
// answer. Documents in a terminal state or queued for contingency are returned
// unchanged.
func (s *Service) RefreshStatus(ctx context.Context, docID id.ID) (*EmissionResult, error) {
	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	return s.refresh(ctx, doc)
}

func (s *Service) refresh(ctx context.Context, doc *FiscalDocument) (*EmissionResult, error) {
	if doc.Status.Terminal() || doc.ContingencyMode {
		return &EmissionResult{Success: !doc.Status.Terminal() || doc.Status == StatusCancelled, Document: doc, Failure: FailureNone}, nil
	}

	gw, err := s.gateways.Resolve(ctx, doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}

	res := gw.QueryStatus(ctx, doc.GatewayRef())
	// Only an explicit refusal by the authority ends the document. A failed
	// query (404 on the provider, bad request) says nothing about its state.
	if !res.Success && res.Status != StatusRejected {
		if !res.Failure.Retryable() {
			logger.Warn(ctx, "status query failed", "document_id", doc.ID, "failure", res.Failure, "error", res.ErrorMessage)
		}
		return resultOf(doc, res), nil
	}

	before := markOf(doc)
	if err := doc.Apply(res); err != nil {
		return nil, err
	}
	if err := s.store.save(ctx, doc, before); err != nil {
		return nil, fmt.Errorf("record status: %w", err)
	}
	return resultOf(doc, res), nil
}

// PollProcessing refreshes every document still waiting on an asynchronous
// authority. One document's failure does not stop the others.
func (s *Service) PollProcessing(ctx context.Context, tenantID string, limit int) (BatchResult, error) {
	batch := BatchResult{AuthorityAvailable: true}

	docs, err := s.docs.ListByStatus(ctx, tenantID, StatusProcessing, limit)
	if err != nil {
		return batch, fmt.Errorf("list processing documents: %w", err)
	}

	for _, doc := range docs {
		r := resultFor(doc)
		out, err := s.refresh(ctx, doc)
		switch {
		case err != nil:
			r.Error = err.Error()
			logger.Warn(ctx, "status refresh failed", "document_id", doc.ID, "error", err)
		default:
			r.Status = out.Document.Status
			r.Success = out.Success
			r.Failure = out.Failure
			r.Error = out.Error
		}
		batch.Processed++
		if r.Success {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
		batch.Results = append(batch.Results, r)
	}
	return batch, nil
}

// DownloadPDF returns the DANFE / NFS-e PDF of an authorized document.
func (s *Service) DownloadPDF(ctx context.Context, docID id.ID) ([]byte, error) {
	return s.download(ctx, docID, "pdf", Gateway.DownloadPDF)
}

// DownloadXML returns the authorized XML of a document.
func (s *Service) DownloadXML(ctx context.Context, docID id.ID) ([]byte, error) {
	return s.download(ctx, docID, "xml", Gateway.DownloadXML)
}

func (s *Service) download(
	ctx context.Context,
	docID id.ID,
	what string,
	fetch func(Gateway, context.Context, Reference) ([]byte, GatewayResult),
) ([]byte, error) {
	doc, err := s.docs.GetByID(ctx, docID)
	if err != nil {
		return nil, err
	}
	if doc.Status != StatusAuthorized && doc.Status != StatusCancelled {
		return nil, apperror.NewBusinessRule(apperror.CodeBusinessRule, what+" is only available for authorized documents").
			WithDetail("status", string(doc.Status))
	}

	gw, err := s.gateways.Resolve(ctx, doc.TenantID)
	if err != nil {
		return nil, fmt.Errorf("resolve gateway: %w", err)
	}

	data, res := fetch(gw, ctx, doc.GatewayRef())
	if !res.Success {
		code := apperror.CodeAuthorityRejected
		if res.Failure.Retryable() {
			code = apperror.CodeAuthorityUnreached
		}
		return nil, apperror.NewGateway(code, fmt.Sprintf("%s download failed: %s", what, res.ErrorMessage)).
			WithDetail("document_id", doc.ID.String())
	}
	return data, nil
}
